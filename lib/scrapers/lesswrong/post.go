package lesswrong

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lwepub/lib/htmlutil"
	"lwepub/lib/imagestore"
)

var titleSelectors = []string{
	"h1.PostsPageTitle-root a.PostsPageTitle-link",
	"h1.PostsPageTitle-root",
	"h1.PostsPageTitle-title",
	"h1.SequencePage-title",
}

var authorSelectors = []string{
	".PostsAuthors-authorName a",
	".PostsAuthors-authorName",
	".UsersNameDisplay-userName",
}

// removeSelectors are interactive page chrome that has no place in an
// ebook chapter.
var removeSelectors = []string{
	"div.commentOnSelection",
	".AudioToggle-audioIcon",
	".VoteArrowIconSolid-root",
	".PostActionsButton-root",
	".ReviewPillContainer-root",
	".LWPostsPageHeader-root",
	`div[class*="reaction-buttons"]`,
	"div.PostsVoteDefault-voteBlock",
}

// extractPost pulls title, metadata, and cleaned body content out of a
// post page. It fails only when neither a title nor a content area can
// be located, anything less degrades into fallbacks.
func extractPost(ctx context.Context, images *imagestore.Store, pageUrl *url.URL, doc *goquery.Document) (Post, error) {
	title := firstText(doc.Selection, titleSelectors)

	content := findContent(doc)
	if title == "" && content == nil {
		return Post{}, fmt.Errorf("no recognizable post content at %s", pageUrl)
	}
	if title == "" {
		title = fmt.Sprintf("Untitled Post (%s)", urlSlug(pageUrl))
	}

	author := firstText(doc.Selection, authorSelectors)
	if author == "" {
		author = "Unknown author"
	}
	date := extractDate(doc)

	var contentHtml string
	if content != nil {
		cleanContent(content)
		convertSvgs(content)
		recoverNoscriptImages(content)
		rewriteImages(ctx, images, pageUrl, content)
		absolutizeAnchors(pageUrl, content)

		rendered, err := goquery.OuterHtml(content)
		if err != nil {
			return Post{}, fmt.Errorf("rendering post content: %w", err)
		}
		contentHtml = rendered
	}

	if strings.TrimSpace(stripTags(contentHtml)) == "" {
		contentHtml = fmt.Sprintf(
			"<p>[Content not found or empty for this post. Please check the original URL: %s]</p>",
			html.EscapeString(pageUrl.String()))
	}

	return Post{
		URL:      pageUrl.String(),
		Title:    title,
		Author:   author,
		Date:     date,
		BodyHtml: chapterHeader(title, author, date, pageUrl.String()) + contentHtml,
	}, nil
}

// findContent locates the post body, trying the layouts LessWrong has
// shipped over time. Returns nil when no layout matches.
func findContent(doc *goquery.Document) *goquery.Selection {
	content := doc.Find("div#postContent").First()
	if content.Length() > 0 {
		// Reaction tracking wraps the real body in an extra div.
		wrapper := content.Find("div.InlineReactSelectionWrapper-root").First()
		if wrapper.Length() > 0 {
			if inner := wrapper.ChildrenFiltered("div").First(); inner.Length() > 0 {
				return inner
			}
		}
		return content
	}

	content = doc.Find("div.PostsPage-postContent div.ContentStyles-base").First()
	if content.Length() > 0 {
		return content
	}

	content = doc.Find("div.content").First()
	if content.Length() > 0 {
		return content
	}
	return nil
}

func firstText(root *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		found := root.Find(selector).First()
		if found.Length() == 0 {
			continue
		}
		if text := htmlutil.CleanText(found); text != "" {
			return text
		}
	}
	return ""
}

func extractDate(doc *goquery.Document) string {
	if el := doc.Find("time[datetime]").First(); el.Length() > 0 {
		if raw, ok := el.Attr("datetime"); ok {
			parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
			if err == nil {
				return parsed.Format("January 02, 2006")
			}
		}
	}

	if text := htmlutil.CleanText(doc.Find(".PostsPageDate-date").First()); text != "" {
		return text
	}
	return "Unknown date"
}

// cleanContent strips page chrome, scripts, and inline event handlers.
func cleanContent(content *goquery.Selection) {
	for _, selector := range removeSelectors {
		content.Find(selector).Remove()
	}
	content.Find("script, style, iframe").Remove()

	content.Find("*").Each(func(_ int, el *goquery.Selection) {
		if len(el.Nodes) == 0 {
			return
		}
		var drop []string
		for _, attr := range el.Nodes[0].Attr {
			if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				drop = append(drop, attr.Key)
			}
		}
		for _, key := range drop {
			el.RemoveAttr(key)
		}
	})
}

// convertSvgs turns referenced SVGs into plain img tags and gives
// inline ones the namespaces XHTML rendering requires.
func convertSvgs(content *goquery.Selection) {
	content.Find("svg").Each(func(_ int, svg *goquery.Selection) {
		if src, ok := svg.Attr("src"); ok && strings.TrimSpace(src) != "" {
			svg.ReplaceWithHtml(fmt.Sprintf(`<img src=%q/>`, strings.TrimSpace(src)))
			return
		}
		if _, ok := svg.Attr("xmlns"); !ok {
			svg.SetAttr("xmlns", "http://www.w3.org/2000/svg")
		}
		if _, ok := svg.Attr("xmlns:xlink"); !ok {
			svg.SetAttr("xmlns:xlink", "http://www.w3.org/1999/xlink")
		}
	})
}

// recoverNoscriptImages unwraps lazy-load fallbacks. Depending on the
// parser mode noscript bodies come through as elements or as raw
// text, handle both.
func recoverNoscriptImages(content *goquery.Selection) {
	content.Find("noscript").Each(func(_ int, noscript *goquery.Selection) {
		if img := noscript.Find("img").First(); img.Length() > 0 {
			noscript.ReplaceWithSelection(img)
			return
		}

		inner, err := goquery.NewDocumentFromReader(strings.NewReader(noscript.Text()))
		if err != nil {
			return
		}
		if src, ok := inner.Find("img").First().Attr("src"); ok {
			noscript.ReplaceWithHtml(fmt.Sprintf(`<img src=%q/>`, src))
		}
	})
	content.Find("noscript").Remove()
}

// rewriteImages hands every referenced image to the store and points
// the reference at the stored key. With no store attached the URLs
// are only absolutized.
func rewriteImages(ctx context.Context, images *imagestore.Store, pageUrl *url.URL, content *goquery.Selection) {
	content.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if strings.TrimSpace(src) == "" {
			src, _ = img.Attr("data-src")
		}
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}

		resolved := src
		if parsed, err := url.Parse(src); err == nil {
			resolved = pageUrl.ResolveReference(parsed).String()
		}

		if images == nil {
			img.SetAttr("src", resolved)
		} else {
			acquired, err := images.Acquire(ctx, resolved)
			if err != nil {
				slog.WarnContext(ctx, "failed to store image", "url", resolved, "err", err)
				img.SetAttr("src", "")
				img.SetAttr("alt", fmt.Sprintf("[Image could not be downloaded: %s]", resolved))
			} else {
				img.SetAttr("src", "images/"+acquired.Key)
			}
		}

		img.RemoveAttr("loading")
		img.RemoveAttr("srcset")
		img.RemoveAttr("data-src")
	})
}

func absolutizeAnchors(pageUrl *url.URL, content *goquery.Selection) {
	content.Find("a[href]").Each(func(_ int, anchor *goquery.Selection) {
		href, _ := anchor.Attr("href")
		parsed, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		anchor.SetAttr("href", pageUrl.ResolveReference(parsed).String())
	})
}

func chapterHeader(title, author, date, postUrl string) string {
	var b strings.Builder
	escapedUrl := html.EscapeString(postUrl)
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(title))
	b.WriteString(`<div class="post-metadata">`)
	fmt.Fprintf(&b, `<p class="post-author">by %s</p>`, html.EscapeString(author))
	fmt.Fprintf(&b, `<p class="post-date">Published: %s</p>`, html.EscapeString(date))
	fmt.Fprintf(&b, `<p class="post-link">Original: <a href="%s">%s</a></p>`, escapedUrl, escapedUrl)
	b.WriteString(`</div>`)
	b.WriteString(`<hr class="post-header-separator"/>`)
	return b.String()
}

func urlSlug(pageUrl *url.URL) string {
	trimmed := strings.TrimRight(pageUrl.Path, "/")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return pageUrl.Host
	}
	return trimmed
}

// stripTags reduces markup to its text, good enough to decide whether
// a content block is empty.
func stripTags(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return doc.Text()
}
