// Package lesswrong scrapes posts and post listings from
// www.lesswrong.com. Extracted posts and listing results are cached,
// so a rerun only fetches what it has not seen before.
package lesswrong

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lwepub/lib/cachestore"
	"lwepub/lib/fetch"
	"lwepub/lib/imagestore"
)

var tracer = otel.Tracer("scrapers/lesswrong")

// Post is one scraped post, ready to become an ebook chapter. BodyHtml
// already carries the chapter header and rewritten image references.
type Post struct {
	URL      string
	Title    string
	Author   string
	Date     string
	BodyHtml string
}

type ClientOptions struct {
	Fetcher fetch.Fetcher
	// Images receives every image referenced by scraped posts. Nil
	// leaves image URLs absolute and skips acquisition.
	Images *imagestore.Store
	// Cache holds extracted posts and listing results. Nil disables.
	Cache *cachestore.Store
	// MaxAge bounds the age of cached entries. Zero means they never
	// expire.
	MaxAge time.Duration
	// NoCache skips cache reads. Results are still written back.
	NoCache bool
}

type Client struct {
	options ClientOptions
}

func NewClient(options ClientOptions) Client {
	return Client{options: options}
}

// Post scrapes a single post. The cached copy is used when present,
// including its already rewritten image references.
func (c Client) Post(ctx context.Context, ref string) (Post, error) {
	ctx, span := tracer.Start(ctx, "lesswrong:Post", trace.WithAttributes(
		attribute.String("url", ref),
	))
	defer span.End()

	target, err := c.options.Fetcher.Resolve(ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve post url")
		return Post{}, err
	}

	if c.options.Cache != nil && !c.options.NoCache {
		cached, err := cachestore.GetGob[Post](ctx, c.options.Cache, cachestore.POST, target.String(), c.options.MaxAge)
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
		span.SetStatus(codes.Error, "failed to fetch post")
		return Post{}, err
	}

	post, err := extractPost(ctx, c.options.Images, result.URL, result.Doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extract post")
		return Post{}, err
	}

	if c.options.Cache != nil {
		err := cachestore.PutGob(ctx, c.options.Cache, cachestore.POST, target.String(), post)
		if err != nil {
			slog.WarnContext(ctx, "failed to cache post", "url", target.String(), "err", err)
		}
	}

	return post, nil
}
