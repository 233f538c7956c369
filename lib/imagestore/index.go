package imagestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"lwepub/lib/imagestore/db"
	"lwepub/lib/sqliteutil"
)

type asset struct {
	Key       string
	SourceURL string
	Path      string
	Status    Status
	CreatedAt time.Time
}

// index tracks every acquired asset so repeated references resolve
// without touching the network. Hot entries sit in an in-memory LRU
// in front of the sqlite table.
type index struct {
	db  *sql.DB
	lru *expirable.LRU[string, asset]
}

func newIndex(path string) (*index, error) {
	sqlDb, err := sqliteutil.OpenDB(db.Schema, path)
	if err != nil {
		return nil, err
	}
	return &index{
		db:  sqlDb,
		lru: expirable.NewLRU[string, asset](1024, nil, time.Hour),
	}, nil
}

func (ix *index) get(ctx context.Context, key string) (asset, bool, error) {
	if cached, ok := ix.lru.Get(key); ok {
		return cached, true, nil
	}

	row := ix.db.QueryRowContext(ctx, `
		SELECT key, source_url, path, status, created_at
		FROM assets
		WHERE key = ?
	`, key)

	var found asset
	var createdAt int64
	err := row.Scan(&found.Key, &found.SourceURL, &found.Path, &found.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return asset{}, false, nil
	}
	if err != nil {
		return asset{}, false, err
	}
	found.CreatedAt = time.Unix(createdAt, 0)

	ix.lru.Add(key, found)
	return found, true, nil
}

func (ix *index) put(ctx context.Context, record asset) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO assets (key, source_url, path, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			source_url = excluded.source_url,
			path = excluded.path,
			status = excluded.status,
			created_at = excluded.created_at
	`, record.Key, record.SourceURL, record.Path, string(record.Status), record.CreatedAt.Unix())
	if err != nil {
		return err
	}

	ix.lru.Add(record.Key, record)
	return nil
}

func (ix *index) count(ctx context.Context) (map[Status]int64, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM assets
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int64{}
	for rows.Next() {
		var status Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (ix *index) close() error {
	return ix.db.Close()
}
