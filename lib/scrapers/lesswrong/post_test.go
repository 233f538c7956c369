package lesswrong

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"lwepub/lib/imagestore"
	"lwepub/lib/telemetry"
	"lwepub/lib/testutil"
)

func parseDoc(t *testing.T, rawHtml, rawUrl string) (*url.URL, *goquery.Document) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHtml))
	require.NoError(t, err)
	parsed, err := url.Parse(rawUrl)
	require.NoError(t, err)
	doc.Url = parsed
	return parsed, doc
}

const postPage = `<!DOCTYPE html>
<html><head><title>ignored</title></head><body>
<h1 class="PostsPageTitle-root"><a class="PostsPageTitle-link" href="/posts/abc/test-post">  A   Test Post </a></h1>
<div class="PostsAuthors-authorName"><a href="/users/jane">Jane Doe</a></div>
<time datetime="2023-06-05T12:30:00.000Z">5th June</time>
<div id="postContent">
  <div class="PostsVoteDefault-voteBlock">vote widget</div>
  <p onclick="alert(1)">First paragraph with a <a href="/posts/xyz/other">relative link</a>.</p>
  <img src="/images/pic.png" loading="lazy" srcset="/images/pic-2x.png 2x">
  <script>evil()</script>
</div>
</body></html>`

func TestExtractPost(t *testing.T) {
	pageUrl, doc := parseDoc(t, postPage, "https://www.lesswrong.com/posts/abc/test-post")

	post, err := extractPost(context.Background(), nil, pageUrl, doc)
	require.NoError(t, err)

	require.Equal(t, "A Test Post", post.Title)
	require.Equal(t, "Jane Doe", post.Author)
	require.Equal(t, "June 05, 2023", post.Date)
	require.Equal(t, "https://www.lesswrong.com/posts/abc/test-post", post.URL)

	// The chapter header precedes the content.
	require.Contains(t, post.BodyHtml, "<h1>A Test Post</h1>")
	require.Contains(t, post.BodyHtml, `<p class="post-author">by Jane Doe</p>`)
	require.Contains(t, post.BodyHtml, "Published: June 05, 2023")
	require.Contains(t, post.BodyHtml, `<hr class="post-header-separator"/>`)

	// Page chrome, scripts, and handlers are gone.
	require.NotContains(t, post.BodyHtml, "vote widget")
	require.NotContains(t, post.BodyHtml, "<script")
	require.NotContains(t, post.BodyHtml, "onclick")

	// Links are absolutized, images keep their absolute URL when no
	// store is attached, and lazy-loading attributes are stripped.
	require.Contains(t, post.BodyHtml, `href="https://www.lesswrong.com/posts/xyz/other"`)
	require.Contains(t, post.BodyHtml, `src="https://www.lesswrong.com/images/pic.png"`)
	require.NotContains(t, post.BodyHtml, "srcset")
	require.NotContains(t, post.BodyHtml, "loading=")
}

func TestExtractPostFallbacks(t *testing.T) {
	ctx := context.Background()

	{
		// Missing title falls back to the URL slug.
		pageUrl, doc := parseDoc(t,
			`<html><body><div class="content"><p>some text</p></div></body></html>`,
			"https://www.lesswrong.com/posts/abc/some-slug")
		post, err := extractPost(ctx, nil, pageUrl, doc)
		require.NoError(t, err)
		require.Equal(t, "Untitled Post (some-slug)", post.Title)
		require.Equal(t, "Unknown author", post.Author)
		require.Equal(t, "Unknown date", post.Date)
	}

	{
		// A title without any content area keeps the chapter, with a
		// note pointing back at the original.
		pageUrl, doc := parseDoc(t,
			`<html><body><h1 class="PostsPageTitle-root">Bare Title</h1></body></html>`,
			"https://www.lesswrong.com/posts/abc/bare")
		post, err := extractPost(ctx, nil, pageUrl, doc)
		require.NoError(t, err)
		require.Equal(t, "Bare Title", post.Title)
		require.Contains(t, post.BodyHtml, "[Content not found or empty for this post.")
		require.Contains(t, post.BodyHtml, "https://www.lesswrong.com/posts/abc/bare")
	}

	{
		// A content area with nothing in it gets the same note.
		pageUrl, doc := parseDoc(t,
			`<html><body><h1 class="PostsPageTitle-root">T</h1><div id="postContent">   </div></body></html>`,
			"https://www.lesswrong.com/posts/abc/empty")
		post, err := extractPost(ctx, nil, pageUrl, doc)
		require.NoError(t, err)
		require.Contains(t, post.BodyHtml, "[Content not found or empty for this post.")
	}

	{
		// Neither title nor content is a scrape failure.
		pageUrl, doc := parseDoc(t,
			`<html><body><p>nothing recognizable</p></body></html>`,
			"https://www.lesswrong.com/posts/abc/gone")
		_, err := extractPost(ctx, nil, pageUrl, doc)
		require.Error(t, err)
	}
}

func TestExtractPostUnwrapsReactionWrapper(t *testing.T) {
	pageUrl, doc := parseDoc(t, `<html><body>
<h1 class="PostsPageTitle-root">Wrapped</h1>
<div id="postContent"><div class="InlineReactSelectionWrapper-root"><div><p>Real body</p></div></div></div>
</body></html>`, "https://www.lesswrong.com/posts/abc/wrapped")

	post, err := extractPost(context.Background(), nil, pageUrl, doc)
	require.NoError(t, err)
	require.Contains(t, post.BodyHtml, "Real body")
	require.NotContains(t, post.BodyHtml, "InlineReactSelectionWrapper")
}

func TestExtractPostRecoversNoscriptImages(t *testing.T) {
	pageUrl, doc := parseDoc(t, `<html><body>
<h1 class="PostsPageTitle-root">Lazy</h1>
<div id="postContent">
  <p>text</p>
  <noscript><img src="/images/lazy.png"></noscript>
</div>
</body></html>`, "https://www.lesswrong.com/posts/abc/lazy")

	post, err := extractPost(context.Background(), nil, pageUrl, doc)
	require.NoError(t, err)
	require.Contains(t, post.BodyHtml, `src="https://www.lesswrong.com/images/lazy.png"`)
	require.NotContains(t, post.BodyHtml, "<noscript")
}

func TestExtractPostHandlesSvg(t *testing.T) {
	pageUrl, doc := parseDoc(t, `<html><body>
<h1 class="PostsPageTitle-root">Vectors</h1>
<div id="postContent">
  <svg viewBox="0 0 10 10"><circle cx="5" cy="5" r="4"/></svg>
  <svg src="/images/diagram.svg"></svg>
</div>
</body></html>`, "https://www.lesswrong.com/posts/abc/vectors")

	post, err := extractPost(context.Background(), nil, pageUrl, doc)
	require.NoError(t, err)

	// Inline SVGs get their namespace, referenced ones become imgs.
	require.Contains(t, post.BodyHtml, `xmlns="http://www.w3.org/2000/svg"`)
	require.Contains(t, post.BodyHtml, `src="https://www.lesswrong.com/images/diagram.svg"`)
}

func TestExtractPostAcquiresImages(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:lesswrong")
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG\r\n\x1a\n"))
	}))
	defer ts.Close()

	store := testutil.OpenImages(t)

	pageUrl, doc := parseDoc(t, `<html><body>
<h1 class="PostsPageTitle-root">Pictures</h1>
<div id="postContent"><img src="`+ts.URL+`/photo.png"></div>
</body></html>`, "https://www.lesswrong.com/posts/abc/pictures")

	post, err := extractPost(ctx, store, pageUrl, doc)
	require.NoError(t, err)

	key := imagestore.Key(ts.URL + "/photo.png")
	require.Contains(t, post.BodyHtml, `src="images/`+key+`"`)
}
