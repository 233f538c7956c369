package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"lwepub/lib/cachestore"
	"lwepub/lib/telemetry"
)

func newTestCache(t *testing.T) *cachestore.Store {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return cachestore.NewStore(db)
}

type countingLimiter struct {
	waits int
}

func (l *countingLimiter) Wait(ctx context.Context) error {
	l.waits++
	return nil
}

func TestFetchCaching(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fetch")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `<html><body><h1 id="title">Hello</h1></body></html>`)
	}))
	defer ts.Close()

	limiter := &countingLimiter{}
	fetcher, err := NewFetcher(Options{
		BaseURL:   ts.URL,
		UserAgent: "test-agent",
		Cache:     newTestCache(t),
		Limiter:   limiter,
	})
	require.NoError(t, err)

	{
		result, err := fetcher.Fetch(ctx, "/posts/abc")
		require.NoError(t, err)
		require.False(t, result.FromCache)
		require.Equal(t, "Hello", result.Doc.Find("#title").Text())
	}

	{
		result, err := fetcher.Fetch(ctx, "/posts/abc")
		require.NoError(t, err)
		require.True(t, result.FromCache)
		require.Equal(t, "Hello", result.Doc.Find("#title").Text())
	}

	if hits != 1 {
		t.Fatal("expected exactly one network request, got", hits)
	}
	if limiter.waits != 1 {
		t.Fatal("expected the limiter to be consulted once, got", limiter.waits)
	}
}

func TestFetchNoCache(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fetch")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `<html><body>fresh</body></html>`)
	}))
	defer ts.Close()

	cache := newTestCache(t)

	// Reads are skipped but every response is still written back.
	{
		fetcher, err := NewFetcher(Options{
			BaseURL:   ts.URL,
			UserAgent: "test-agent",
			Cache:     cache,
			NoCache:   true,
		})
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			result, err := fetcher.Fetch(ctx, "/posts/abc")
			require.NoError(t, err)
			require.False(t, result.FromCache)
		}
		if hits != 2 {
			t.Fatal("expected every fetch to hit the network, got", hits)
		}
	}

	// A caching fetcher sharing the store sees the written pages.
	{
		fetcher, err := NewFetcher(Options{
			BaseURL:   ts.URL,
			UserAgent: "test-agent",
			Cache:     cache,
		})
		require.NoError(t, err)

		result, err := fetcher.Fetch(ctx, "/posts/abc")
		require.NoError(t, err)
		require.True(t, result.FromCache)
		if hits != 2 {
			t.Fatal("expected the cached page to be served, got", hits)
		}
	}
}

func TestFetchStatusError(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fetch")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer ts.Close()

	fetcher, err := NewFetcher(Options{
		BaseURL:   ts.URL,
		UserAgent: "test-agent",
		Cache:     newTestCache(t),
	})
	require.NoError(t, err)

	_, err = fetcher.Fetch(ctx, "/posts/missing")
	require.Error(t, err)

	// Error responses must not be cached.
	_, err = fetcher.Fetch(ctx, "/posts/missing")
	require.Error(t, err)
	if hits != 2 {
		t.Fatal("expected the second fetch to go to the network again, got", hits)
	}
}

func TestFetchRobots(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:fetch")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	pages := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		pages++
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer ts.Close()

	fetcher, err := NewFetcher(Options{
		BaseURL:   ts.URL,
		UserAgent: "test-agent",
		Robots:    NewRobots("test-agent"),
	})
	require.NoError(t, err)

	{
		_, err := fetcher.Fetch(ctx, "/private/secret")
		require.Error(t, err)
		if pages != 0 {
			t.Fatal("disallowed page must not be fetched")
		}
	}

	{
		result, err := fetcher.Fetch(ctx, "/posts/abc")
		require.NoError(t, err)
		require.False(t, result.FromCache)
		if pages != 1 {
			t.Fatal("allowed page should be fetched, got", pages)
		}
	}
}

func TestRobotsFailOpen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	robots := NewRobots("test-agent")

	// Nothing listens on port 1, the lookup fails and the fetch is
	// allowed through.
	target, err := url.Parse("http://127.0.0.1:1/whatever")
	require.NoError(t, err)
	require.True(t, robots.Allowed(ctx, target))
}

func TestResolve(t *testing.T) {
	fetcher, err := NewFetcher(Options{
		BaseURL:   "https://www.lesswrong.com",
		UserAgent: "test-agent",
	})
	require.NoError(t, err)

	{
		resolved, err := fetcher.Resolve("/posts/abc/some-post")
		require.NoError(t, err)
		require.Equal(t, "https://www.lesswrong.com/posts/abc/some-post", resolved.String())
	}

	{
		resolved, err := fetcher.Resolve("https://example.com/image.png")
		require.NoError(t, err)
		require.Equal(t, "https://example.com/image.png", resolved.String())
	}

	{
		resolved, err := fetcher.Resolve("  /posts/abc  ")
		require.NoError(t, err)
		require.Equal(t, "https://www.lesswrong.com/posts/abc", resolved.String())
	}
}
