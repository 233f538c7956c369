// Package cachestore is a keyed, timestamped page cache backed by
// badger. Three kinds of entry live in the same database, telling
// them apart by key prefix: raw page bytes, extracted post records
// and resolved url lists.
package cachestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lib/cachestore")

// ErrNotFound is returned by Get for keys that were never written,
// have expired, or whose entries could not be decoded.
var ErrNotFound = badger.ErrKeyNotFound

type Kind string

const (
	PAGE     Kind = "page"
	POST     Kind = "post"
	URL_LIST Kind = "urls"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{PAGE, POST, URL_LIST}

type record struct {
	CreatedAt int64
	Payload   []byte
}

type Store struct {
	db *badger.DB
}

// Open opens the badger database backing a Store, creating dir if
// needed. Badger's own logger is silenced, spans cover the same
// ground.
func Open(dir string) (*badger.DB, error) {
	return badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
}

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// key digests the source through sha256 so arbitrarily long urls
// become fixed length keys. Url sources are normalized first so
// equivalent spellings share an entry.
func (s Store) key(kind Kind, keySource string) []byte {
	normalized := keySource
	u, err := url.Parse(keySource)
	if err == nil && u.IsAbs() {
		normalized = purell.NormalizeURL(
			u,
			purell.FlagsSafe|
				purell.FlagsUsuallySafeNonGreedy|
				purell.FlagRemoveDirectoryIndex|
				purell.FlagRemoveFragment|
				purell.FlagSortQuery,
		)
	}
	digest := sha256.Sum256([]byte(normalized))
	return []byte(string(kind) + ":" + hex.EncodeToString(digest[:]))
}

// Get returns the payload stored for the key if it is younger than
// maxAge. maxAge <= 0 means entries never expire. Expired entries are
// deleted on the way out. Returns ErrNotFound for anything absent,
// expired or undecodable.
func (s Store) Get(ctx context.Context, kind Kind, keySource string, maxAge time.Duration) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()

	key := s.key(kind, keySource)
	span.SetAttributes(attribute.String("cache_key", string(key)))

	tx := s.db.NewTransaction(false)
	defer tx.Discard()
	item, err := tx.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return nil, err
	}
	serialized, err := item.ValueCopy(nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy cached item")
		return nil, err
	}

	var cached record
	err = gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&cached)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached item")
		return nil, ErrNotFound
	}

	if maxAge > 0 && time.Now().UnixNano()-cached.CreatedAt > maxAge.Nanoseconds() {
		span.AddEvent("delete expired cache key", trace.WithAttributes(
			attribute.String("key", string(key)),
		))

		tx := s.db.NewTransaction(true)
		defer tx.Commit()

		err = tx.Delete(key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to delete expired key")
		}

		span.SetStatus(codes.Ok, "CACHE EXPIRED")
		return nil, ErrNotFound
	}

	span.AddEvent("successfully returned cached entry", trace.WithAttributes(
		attribute.Int("payload_length", len(cached.Payload)),
	))
	return cached.Payload, nil
}

// Put stores payload under the key, overwriting any previous entry
// and stamping it with the current time.
func (s Store) Put(ctx context.Context, kind Kind, keySource string, payload []byte) error {
	ctx, span := tracer.Start(ctx, "Put")
	defer span.End()

	key := s.key(kind, keySource)
	span.SetAttributes(attribute.String("cache_key", string(key)))

	serialized := bytes.NewBuffer(nil)
	err := gob.NewEncoder(serialized).Encode(record{
		CreatedAt: time.Now().UnixNano(),
		Payload:   payload,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize entry")
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Commit()

	err = tx.Set(key, serialized.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return err
	}

	return nil
}

// Clear drops every entry of the given kind. Clearing a kind that has
// no entries is a no-op.
func (s Store) Clear(ctx context.Context, kind Kind) error {
	ctx, span := tracer.Start(ctx, "Clear")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(kind)))

	err := s.db.DropPrefix([]byte(string(kind) + ":"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to drop prefix")
		return err
	}
	return nil
}

// ClearAll drops every entry of every kind.
func (s Store) ClearAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "ClearAll")
	defer span.End()

	err := s.db.DropAll()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to drop all entries")
		return err
	}
	return nil
}

type KindStats struct {
	Kind    Kind
	Entries int
	Bytes   int64
}

// Stats counts entries and stored bytes per kind.
func (s Store) Stats(ctx context.Context) ([]KindStats, error) {
	ctx, span := tracer.Start(ctx, "Stats")
	defer span.End()

	out := make([]KindStats, 0, len(Kinds))
	for _, kind := range Kinds {
		stats := KindStats{Kind: kind}
		prefix := []byte(string(kind) + ":")

		tx := s.db.NewTransaction(false)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stats.Entries++
			stats.Bytes += it.Item().ValueSize()
		}
		it.Close()
		tx.Discard()

		out = append(out, stats)
	}
	return out, nil
}
