package cachestore

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"
)

// PutGob stores a gob encoded value under the key. Used for post
// records and url lists, raw page bytes go through Put directly.
func PutGob[T any](ctx context.Context, s *Store, kind Kind, keySource string, value T) error {
	serialized := bytes.NewBuffer(nil)
	err := gob.NewEncoder(serialized).Encode(value)
	if err != nil {
		return err
	}
	return s.Put(ctx, kind, keySource, serialized.Bytes())
}

// GetGob reads back a value stored with PutGob. Decode failures are
// reported as ErrNotFound so callers fall through to a refetch.
func GetGob[T any](ctx context.Context, s *Store, kind Kind, keySource string, maxAge time.Duration) (T, error) {
	var out T
	payload, err := s.Get(ctx, kind, keySource, maxAge)
	if err != nil {
		return out, err
	}
	err = gob.NewDecoder(bytes.NewBuffer(payload)).Decode(&out)
	if err != nil {
		return out, ErrNotFound
	}
	return out, nil
}
