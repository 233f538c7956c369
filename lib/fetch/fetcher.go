// Package fetch provides the polite page fetcher every scraper goes
// through. Pages are served from the content cache when possible, so
// rate limiting and robots.txt checks only apply to requests that
// actually reach the network.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lwepub/lib/cachestore"
	"lwepub/lib/restyutil"
	"lwepub/lib/telemetry"
)

var tracer = otel.Tracer("lib/fetch")

type Options struct {
	// BaseURL resolves relative references passed to Fetch. Must be
	// absolute.
	BaseURL   string
	UserAgent string
	// Cache holds fetched pages. Nil disables caching entirely.
	Cache *cachestore.Store
	// MaxAge bounds the age of cached pages. Zero means cached pages
	// never expire.
	MaxAge time.Duration
	// NoCache skips cache reads. Fetched pages are still written back
	// so later runs benefit.
	NoCache bool
	// Limiter spaces out network requests. Defaults to NopLimiter.
	Limiter Limiter
	// Robots, when set, is consulted before every network fetch.
	Robots *Robots
	// Transcripts, when set, receives a rendered copy of every
	// network exchange.
	Transcripts restyutil.Output
}

type Fetcher struct {
	client  *resty.Client
	baseUrl *url.URL
	options Options
}

func NewFetcher(options Options) (Fetcher, error) {
	base, err := url.Parse(options.BaseURL)
	if err != nil {
		return Fetcher{}, fmt.Errorf("parsing base url %q: %w", options.BaseURL, err)
	}
	if !base.IsAbs() {
		return Fetcher{}, fmt.Errorf("base url %q is not absolute", options.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return Fetcher{}, fmt.Errorf("creating cookie jar: %w", err)
	}

	if options.Limiter == nil {
		options.Limiter = NopLimiter
	}

	client := resty.New().
		SetCookieJar(jar).
		SetTimeout(time.Second*30).
		SetHeader("User-Agent", options.UserAgent).
		SetRedirectPolicy(resty.DomainCheckRedirectPolicy(redirectHosts(base)...))
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	telemetry.InstrumentResty(client, "lib/fetch")
	if options.Transcripts != nil {
		restyutil.CaptureTranscripts(client, options.Transcripts)
	}

	return Fetcher{
		client:  client,
		baseUrl: base,
		options: options,
	}, nil
}

// redirectHosts permits redirects between the www and bare forms of
// the base host.
func redirectHosts(base *url.URL) []string {
	host := base.Hostname()
	if strings.HasPrefix(host, "www.") {
		return []string{host, strings.TrimPrefix(host, "www.")}
	}
	return []string{host, "www." + host}
}

type Result struct {
	// URL is the absolute URL the document came from.
	URL *url.URL
	// FromCache reports whether the body was served from the page
	// cache rather than the network.
	FromCache bool
	Doc       *goquery.Document
}

// Resolve turns a possibly relative reference into an absolute URL
// against the fetcher's base.
func (f Fetcher) Resolve(ref string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", ref, err)
	}
	resolved := f.baseUrl.ResolveReference(parsed)
	if !resolved.IsAbs() {
		return nil, fmt.Errorf("url %q does not resolve to an absolute url", ref)
	}
	return resolved, nil
}

// Fetch retrieves ref and parses it into a document. The content
// cache is tried first; cache read failures count as misses.
func (f Fetcher) Fetch(ctx context.Context, ref string) (Result, error) {
	ctx, span := tracer.Start(ctx, "fetch:Fetch", trace.WithAttributes(
		attribute.String("ref", ref),
	))
	defer span.End()

	target, err := f.Resolve(ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve url")
		return Result{}, err
	}

	if f.options.Cache != nil && !f.options.NoCache {
		payload, err := f.options.Cache.Get(ctx, cachestore.PAGE, target.String(), f.options.MaxAge)
		if err == nil {
			doc, err := parseDocument(payload, target)
			if err == nil {
				span.SetStatus(codes.Ok, "CACHE HIT")
				return Result{URL: target, FromCache: true, Doc: doc}, nil
			}
			span.AddEvent("CACHE ERROR", trace.WithAttributes(
				attribute.String("log.severity", "WARN"),
				attribute.String("err", err.Error()),
			))
		} else if !errors.Is(err, cachestore.ErrNotFound) {
			span.AddEvent("CACHE ERROR", trace.WithAttributes(
				attribute.String("log.severity", "WARN"),
				attribute.String("err", err.Error()),
			))
		}
	}

	if f.options.Robots != nil && !f.options.Robots.Allowed(ctx, target) {
		err := fmt.Errorf("disallowed by robots.txt: %s", target)
		span.RecordError(err)
		span.SetStatus(codes.Error, "disallowed by robots.txt")
		return Result{}, err
	}

	if err := f.options.Limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "canceled while waiting for rate limiter")
		return Result{}, err
	}

	res, err := f.client.R().
		SetContext(ctx).
		Get(target.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch page")
		return Result{}, err
	}
	if res.IsError() {
		err := fmt.Errorf("fetching %s: status %s", target, res.Status())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch page")
		return Result{}, err
	}

	body := res.Body()

	if f.options.Cache != nil {
		err = f.options.Cache.Put(ctx, cachestore.PAGE, target.String(), body)
		if err != nil {
			slog.WarnContext(ctx, "failed to write page to cache", "url", target.String(), "err", err)
		}
	}

	doc, err := parseDocument(body, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse page")
		return Result{}, err
	}

	return Result{URL: target, Doc: doc}, nil
}

func parseDocument(body []byte, target *url.URL) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing page %s: %w", target, err)
	}
	doc.Url = target
	return doc, nil
}
