package lesswrong

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"lwepub/lib/telemetry"
	"lwepub/lib/testutil"
)

func TestPostCaching(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lesswrong")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `<html><body>
<h1 class="PostsPageTitle-root">Cached Post</h1>
<div class="PostsAuthors-authorName">Jane Doe</div>
<div id="postContent"><p>Body text.</p></div>
</body></html>`)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, testutil.OpenCache(t))

	first, err := client.Post(ctx, "/posts/abc/cached-post")
	require.NoError(t, err)
	require.Equal(t, "Cached Post", first.Title)
	require.Contains(t, first.BodyHtml, "Body text.")

	second, err := client.Post(ctx, "/posts/abc/cached-post")
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatal("cached post differs:", diff)
	}

	if hits != 1 {
		t.Fatal("expected the second read to come from cache, got", hits)
	}
}

func TestPostExtractionFailureNotCached(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lesswrong")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `<html><body><p>not a post page</p></body></html>`)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, testutil.OpenCache(t))

	_, err := client.Post(ctx, "/posts/abc/broken")
	require.Error(t, err)

	_, err = client.Post(ctx, "/posts/abc/broken")
	require.Error(t, err)
	if hits != 2 {
		t.Fatal("expected the failure to stay uncached, got", hits)
	}
}
