// Package testutil bundles fixture setup that recurs across package
// tests.
package testutil

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"lwepub/lib/cachestore"
	"lwepub/lib/imagestore"
)

// OpenCache returns a cache store backed by an in-memory badger
// instance that is torn down with the test.
func OpenCache(t testing.TB) *cachestore.Store {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return cachestore.NewStore(db)
}

// OpenImages returns an image store writing into a per-test temp
// directory with a throwaway in-memory index. The retry delay is
// dropped to keep failure-path tests fast.
func OpenImages(t testing.TB) *imagestore.Store {
	store, err := imagestore.NewStore(imagestore.Options{
		Dir:        t.TempDir(),
		IndexPath:  ":memory:",
		UserAgent:  "test-agent",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
