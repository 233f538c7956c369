package lesswrong

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lwepub/lib/cachestore"
)

// The site has shipped several listing layouts over time. Each list
// is tried in order and the first selector that matches anything
// wins.
var sequenceItemSelectors = []string{
	"div.LWPostsItem-postsItem span.LWPostsItem-title a[href]",
	"div.ChaptersItem-posts span.PostsTitle-eaTitleDesktopEllipsis > a[href]",
	"div.SequencesSmallPostLink-title a[href]",
	"div.CollectionPageContents-item a.CollectionPageContents-postTitle[href]",
	"div.LargeSequencesItem-right div.SequencesSmallPostLink-title a[href]",
}

var sequenceListSelectors = []string{
	"a.LargeSequencesItem-title[href]",
	"div.SequencesPage-grid a.LargeSequencesItem-title[href]",
	"div.AllSequencesPage-content a.LargeSequencesItem-title[href]",
	"div.SequencesGridItem-title a[href]",
	"a.SequencesPageSequencesList-item[href]",
}

var bestOfSelectors = []string{
	"div.SpotlightItem-title a[href], a.PostsList-itemTitle[href]",
}

// BestOfCategories are the review categories the best-of archive
// accepts, in their site spelling.
var BestOfCategories = []string{
	"Rationality",
	"World",
	"Optimization",
	"AI Strategy",
	"Technical AI Safety",
	"Practical",
}

// SequencePosts lists the post URLs of a single sequence page, in
// reading order.
func (c Client) SequencePosts(ctx context.Context, ref string) ([]string, error) {
	return c.listing(ctx, "lesswrong:SequencePosts", ref, sequenceItemSelectors, looksLikePost)
}

// BestOfPosts lists the post URLs of the best-of archive for a year
// and category. Both accept "all".
func (c Client) BestOfPosts(ctx context.Context, year, category string) ([]string, error) {
	normalizedYear, err := NormalizeBestOfYear(year)
	if err != nil {
		return nil, err
	}
	normalizedCategory, err := NormalizeBestOfCategory(category)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("year", normalizedYear)
	query.Set("category", normalizedCategory)

	return c.listing(ctx, "lesswrong:BestOfPosts", "/bestoflesswrong?"+query.Encode(), bestOfSelectors, looksLikeBestOfPost)
}

// SequenceListPosts walks a page of sequences and returns the post
// URLs of every sequence on it. A sequence that fails to scrape is
// skipped, not fatal.
func (c Client) SequenceListPosts(ctx context.Context, ref string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "lesswrong:SequenceListPosts", trace.WithAttributes(
		attribute.String("url", ref),
	))
	defer span.End()

	sequences, err := c.listing(ctx, "lesswrong:sequenceList", ref, sequenceListSelectors, func(u string) bool {
		return strings.Contains(u, "/s/")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list sequences")
		return nil, err
	}

	var posts []string
	seen := map[string]bool{}
	for _, sequenceUrl := range sequences {
		found, err := c.SequencePosts(ctx, sequenceUrl)
		if err != nil {
			slog.WarnContext(ctx, "failed to scrape sequence", "url", sequenceUrl, "err", err)
			continue
		}
		for _, postUrl := range found {
			if seen[postUrl] {
				continue
			}
			seen[postUrl] = true
			posts = append(posts, postUrl)
		}
	}

	if len(posts) == 0 {
		err := fmt.Errorf("no posts found across %d sequences at %s", len(sequences), ref)
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty sequence list")
		return nil, err
	}
	return posts, nil
}

// PostURLsFromFile reads post URLs from a local file, one per line.
// Blank lines and lines starting with # are skipped.
func (c Client) PostURLsFromFile(ctx context.Context, path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading url file %s: %w", path, err)
	}

	var urls []string
	seen := map[string]bool{}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		resolved, err := c.options.Fetcher.Resolve(line)
		if err != nil {
			slog.WarnContext(ctx, "skipping unparseable url", "line", line, "err", err)
			continue
		}

		postUrl := resolved.String()
		if seen[postUrl] {
			continue
		}
		seen[postUrl] = true
		urls = append(urls, postUrl)
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("no usable urls in %s", path)
	}
	return urls, nil
}

// listing fetches a listing page and extracts post URLs from it.
// Results are cached under the listing URL. An empty result is an
// error and is never cached.
func (c Client) listing(ctx context.Context, spanName, ref string, selectors []string, keep func(string) bool) ([]string, error) {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("url", ref),
	))
	defer span.End()

	target, err := c.options.Fetcher.Resolve(ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve listing url")
		return nil, err
	}

	if c.options.Cache != nil && !c.options.NoCache {
		cached, err := cachestore.GetGob[[]string](ctx, c.options.Cache, cachestore.URL_LIST, target.String(), c.options.MaxAge)
		if err == nil {
			span.SetStatus(codes.Ok, "CACHE HIT")
			return cached, nil
		}
		if !errors.Is(err, cachestore.ErrNotFound) {
			span.AddEvent("CACHE ERROR", trace.WithAttributes(
				attribute.String("log.severity", "WARN"),
				attribute.String("err", err.Error()),
			))
		}
	}

	result, err := c.options.Fetcher.Fetch(ctx, target.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch listing")
		return nil, err
	}

	urls := extractListing(result.URL, result.Doc, selectors, keep)
	if len(urls) == 0 {
		err := fmt.Errorf("no post links recognized at %s", target)
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty listing")
		return nil, err
	}

	if c.options.Cache != nil {
		err := cachestore.PutGob(ctx, c.options.Cache, cachestore.URL_LIST, target.String(), urls)
		if err != nil {
			slog.WarnContext(ctx, "failed to cache listing", "url", target.String(), "err", err)
		}
	}

	span.SetAttributes(attribute.Int("posts", len(urls)))
	return urls, nil
}

func extractListing(pageUrl *url.URL, doc *goquery.Document, selectors []string, keep func(string) bool) []string {
	var refs []string
	for _, selector := range selectors {
		found := doc.Find(selector)
		if found.Length() == 0 {
			continue
		}
		found.Each(func(_ int, anchor *goquery.Selection) {
			if href, ok := anchor.Attr("href"); ok {
				refs = append(refs, strings.TrimSpace(href))
			}
		})
		break
	}

	var urls []string
	seen := map[string]bool{}
	for _, ref := range refs {
		parsed, err := url.Parse(ref)
		if err != nil {
			continue
		}
		absolute := pageUrl.ResolveReference(parsed).String()
		if !keep(absolute) || seen[absolute] {
			continue
		}
		seen[absolute] = true
		urls = append(urls, absolute)
	}
	return urls
}

// looksLikePost matches the two post URL shapes, /posts/<id>/<slug>
// and /s/<sequence>/p/<id>.
func looksLikePost(rawUrl string) bool {
	if idx := strings.LastIndex(rawUrl, "/posts/"); idx >= 0 {
		tail := rawUrl[idx+len("/posts/"):]
		if !strings.Contains(tail, "/p/") {
			return true
		}
	}
	return strings.Contains(rawUrl, "/s/") && strings.Contains(rawUrl, "/p/")
}

// looksLikeBestOfPost additionally drops /posts/ links with fragments
// or queries, the archive decorates those onto non-post links.
func looksLikeBestOfPost(rawUrl string) bool {
	if strings.Contains(rawUrl, "/p/") && (strings.Contains(rawUrl, "/s/") || strings.Contains(rawUrl, "/posts/")) {
		return true
	}
	if idx := strings.LastIndex(rawUrl, "/posts/"); idx >= 0 {
		tail := rawUrl[idx+len("/posts/"):]
		return !strings.ContainsAny(tail, "#?")
	}
	return false
}

// NormalizeBestOfYear validates a best-of year, "all" or 2018 through
// 2024.
func NormalizeBestOfYear(year string) (string, error) {
	year = strings.ToLower(strings.TrimSpace(year))
	if year == "all" {
		return year, nil
	}
	parsed, err := strconv.Atoi(year)
	if err != nil || parsed < 2018 || parsed > 2024 {
		return "", fmt.Errorf("year must be \"all\" or 2018 through 2024, got %q", year)
	}
	return year, nil
}

// NormalizeBestOfCategory validates a best-of category, case
// insensitively, and returns the site spelling.
func NormalizeBestOfCategory(category string) (string, error) {
	trimmed := strings.TrimSpace(category)
	if strings.EqualFold(trimmed, "all") {
		return "all", nil
	}
	for _, known := range BestOfCategories {
		if strings.EqualFold(trimmed, known) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown category %q, expected \"all\" or one of: %s",
		category, strings.Join(BestOfCategories, ", "))
}
