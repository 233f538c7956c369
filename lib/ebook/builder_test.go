package ebook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"lwepub/lib/fetch"
	"lwepub/lib/imagestore"
	"lwepub/lib/scrapers/lesswrong"
	"lwepub/lib/telemetry"
	"lwepub/lib/testutil"
)

func newTestBuilder(t *testing.T, baseUrl, output string, split int) Builder {
	cache := testutil.OpenCache(t)
	images := testutil.OpenImages(t)

	fetcher, err := fetch.NewFetcher(fetch.Options{
		BaseURL:   baseUrl,
		UserAgent: "test-agent",
		Cache:     cache,
	})
	require.NoError(t, err)

	client := lesswrong.NewClient(lesswrong.ClientOptions{
		Fetcher: fetcher,
		Images:  images,
		Cache:   cache,
	})

	return NewBuilder(BuilderOptions{
		Client:     client,
		Images:     images,
		Limits:     imagestore.Limits{MaxWidth: 800},
		Title:      "Test Collection",
		Author:     "Testers",
		Output:     output,
		SplitEvery: split,
	})
}

// testSite serves a handful of post pages and the images they
// reference. broken.png downloads fine but is not a decodable image.
func testSite(t *testing.T) *httptest.Server {
	pngData := testPng(t, 20, 10)

	mux := http.NewServeMux()
	mux.HandleFunc("/img/pic.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	})
	mux.HandleFunc("/img/broken.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("junk bytes, not an image"))
	})
	mux.HandleFunc("/posts/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "broken-page"):
			fmt.Fprint(w, `<html><body><p>layout changed</p></body></html>`)
		case strings.Contains(r.URL.Path, "with-images"):
			fmt.Fprint(w, `<html><body>
<h1 class="PostsPageTitle-root">With Images</h1>
<div id="postContent"><p>pics below</p><img src="/img/pic.png"><img src="/img/broken.png"></div>
</body></html>`)
		default:
			slug := path.Base(r.URL.Path)
			fmt.Fprintf(w, `<html><body>
<h1 class="PostsPageTitle-root">Plain %s</h1>
<div id="postContent"><p>body of %s</p></div>
</body></html>`, slug, slug)
		}
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestBuild(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:ebook")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	ts := testSite(t)
	output := filepath.Join(t.TempDir(), "out.epub")
	builder := newTestBuilder(t, ts.URL, output, 0)

	summary, err := builder.Build(ctx, []string{
		ts.URL + "/posts/aaa/with-images",
		ts.URL + "/posts/bbb/plain-post",
		ts.URL + "/posts/ccc/broken-page",
		ts.URL + "/posts/aaa/with-images", // duplicate collapses
	})
	require.NoError(t, err)

	require.Equal(t, 3, summary.PostsRequested)
	require.Equal(t, 1, summary.PostsFailed)
	require.Equal(t, []string{output}, summary.Volumes)

	// pic.png survives, broken.png is vetoed and the shared
	// placeholder takes its place.
	require.Equal(t, 2, summary.ImagesIncluded)
	require.Equal(t, 1, summary.ImagesExcluded)

	names, chapters := readVolume(t, output)
	require.Len(t, chapters, 2)
	require.True(t, containsSuffix(names, "images/"+imagestore.EXCLUDED_PLACEHOLDER_KEY),
		"missing placeholder, have: %v", names)

	var withImages string
	for name, content := range chapters {
		if strings.Contains(name, "With Images") {
			withImages = content
		}
	}
	if withImages == "" {
		t.Fatal("missing the with-images chapter, found:", names)
	}
	require.Contains(t, withImages, "excluded-image")
	require.Contains(t, withImages, `src="../images/`+imagestore.EXCLUDED_PLACEHOLDER_KEY+`"`)
}

func TestBuildSplitsVolumes(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:ebook")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	ts := testSite(t)
	output := filepath.Join(t.TempDir(), "collection.epub")
	builder := newTestBuilder(t, ts.URL, output, 1)

	summary, err := builder.Build(ctx, []string{
		ts.URL + "/posts/aaa/plain-one",
		ts.URL + "/posts/bbb/plain-two",
	})
	require.NoError(t, err)

	want := []string{
		strings.TrimSuffix(output, ".epub") + "-vol01.epub",
		strings.TrimSuffix(output, ".epub") + "-vol02.epub",
	}
	if diff := cmp.Diff(want, summary.Volumes); diff != "" {
		t.Fatal("unexpected volume outputs:", diff)
	}
	for _, volumePath := range summary.Volumes {
		_, err := os.Stat(volumePath)
		require.NoError(t, err)
	}
}

func TestBuildNothingFetched(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:ebook")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	ts := testSite(t)
	builder := newTestBuilder(t, ts.URL, filepath.Join(t.TempDir(), "out.epub"), 0)

	summary, err := builder.Build(ctx, []string{
		ts.URL + "/posts/aaa/broken-page",
		ts.URL + "/posts/bbb/broken-page-too",
	})
	require.Error(t, err)
	require.Equal(t, 2, summary.PostsFailed)
	require.Empty(t, summary.Volumes)
}

func TestSplitVolumes(t *testing.T) {
	posts := make([]lesswrong.Post, 5)

	require.Len(t, splitVolumes(posts, 0), 1)
	require.Len(t, splitVolumes(posts, 10), 1)

	volumes := splitVolumes(posts, 2)
	require.Len(t, volumes, 3)
	require.Len(t, volumes[0], 2)
	require.Len(t, volumes[2], 1)
}

func TestVolumeOutputs(t *testing.T) {
	require.Equal(t, []string{"out.epub"}, volumeOutputs("out.epub", 1))
	require.Equal(t,
		[]string{"out-vol01.epub", "out-vol02.epub"},
		volumeOutputs("out.epub", 2))
	require.Equal(t,
		[]string{"books/all-vol01", "books/all-vol02"},
		volumeOutputs("books/all", 2))
}
