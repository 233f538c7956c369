// Package imagestore acquires, deduplicates, and optimizes the images
// referenced by scraped posts. Every acquisition failure ends in a
// generated placeholder under the image's own key, so a missing image
// never aborts a build and is never refetched.
package imagestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"lwepub/lib/fetch"
	"lwepub/lib/restyutil"
	"lwepub/lib/telemetry"
	"lwepub/lib/textutil"
)

var tracer = otel.Tracer("lib/imagestore")
var meter = otel.Meter("lib/imagestore")

const (
	// RETRY_ATTEMPTS is the total number of download attempts per
	// image before a placeholder is substituted.
	RETRY_ATTEMPTS      = 3
	DOWNLOAD_TIMEOUT    = time.Second * 30
	DEFAULT_RETRY_DELAY = time.Second * 2

	// EXCLUDED_PLACEHOLDER_KEY names the shared stand-in for images
	// that were acquired but vetoed by the optimizer.
	EXCLUDED_PLACEHOLDER_KEY = "excluded_placeholder.png"
)

type Status string

const (
	STATUS_DOWNLOADED          Status = "downloaded"
	STATUS_PLACEHOLDER_SKIPPED Status = "placeholder_skipped"
	STATUS_PLACEHOLDER_ERROR   Status = "placeholder_error"
)

type Options struct {
	// Dir is where asset files are written, one file per key.
	Dir string
	// IndexPath is the sqlite database tracking acquired assets.
	// ":memory:" works for tests.
	IndexPath string
	UserAgent string
	// BlockedHosts are never fetched. References to them resolve to
	// placeholders immediately.
	BlockedHosts []string
	// RetryDelay is the fixed wait between download attempts.
	// Defaults to DEFAULT_RETRY_DELAY.
	RetryDelay time.Duration
	// Limiter spaces out downloads. Defaults to fetch.NopLimiter.
	Limiter fetch.Limiter
	// Transcripts, when set, receives a rendered copy of every
	// download exchange.
	Transcripts restyutil.Output
}

type Store struct {
	client   *resty.Client
	index    *index
	acquires metric.Int64Counter
	options  Options
}

func NewStore(options Options) (*Store, error) {
	if err := os.MkdirAll(options.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating image directory %s: %w", options.Dir, err)
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = DEFAULT_RETRY_DELAY
	}
	if options.Limiter == nil {
		options.Limiter = fetch.NopLimiter
	}

	ix, err := newIndex(options.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("opening asset index: %w", err)
	}

	acquires, err := meter.Int64Counter(
		"imagestore.acquires",
		metric.WithDescription("Image acquisitions by outcome."),
	)
	if err != nil {
		ix.close()
		return nil, err
	}

	client := resty.New().
		SetTimeout(DOWNLOAD_TIMEOUT).
		SetHeader("User-Agent", options.UserAgent).
		SetRetryCount(RETRY_ATTEMPTS-1).
		SetRetryWaitTime(options.RetryDelay).
		SetRetryMaxWaitTime(options.RetryDelay).
		AddRetryCondition(func(res *resty.Response, err error) bool {
			return err != nil || res.IsError()
		})
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	telemetry.InstrumentResty(client, "lib/imagestore")
	if options.Transcripts != nil {
		restyutil.CaptureTranscripts(client, options.Transcripts)
	}

	return &Store{
		client:   client,
		index:    ix,
		acquires: acquires,
		options:  options,
	}, nil
}

func (s *Store) Close() error {
	return s.index.close()
}

// Dir is where acquired asset files live.
func (s *Store) Dir() string {
	return s.options.Dir
}

// Key derives the content-addressed file name for an image URL. The
// digest prefix keeps same-named images from different locations
// apart, the sanitized basename keeps the file recognizable.
func Key(rawUrl string) string {
	sum := sha256.Sum256([]byte(rawUrl))
	digest := hex.EncodeToString(sum[:])[:16]

	base := "image"
	if parsed, err := url.Parse(rawUrl); err == nil {
		sanitized := textutil.SanitizeFilename(path.Base(parsed.Path))
		if sanitized != "" && sanitized != "." && sanitized != "/" {
			base = sanitized
		}
	}

	return digest + "_" + base
}

type Acquired struct {
	Key    string
	Path   string
	Status Status
}

// Placeholder reports whether the stored bytes are a generated
// stand-in rather than the original image.
func (a Acquired) Placeholder() bool {
	return a.Status != STATUS_DOWNLOADED
}

// Acquire makes sure a local file exists for the image URL and
// reports how it got there. Download failures degrade to rendered
// placeholders. The returned error is reserved for local filesystem
// problems.
func (s *Store) Acquire(ctx context.Context, rawUrl string) (Acquired, error) {
	ctx, span := tracer.Start(ctx, "imagestore:Acquire", trace.WithAttributes(
		attribute.String("url", truncate(rawUrl, 256)),
	))
	defer span.End()

	key := Key(rawUrl)

	if strings.HasPrefix(rawUrl, "data:") {
		return s.placeholder(ctx, rawUrl, key, "inline data uri", STATUS_PLACEHOLDER_SKIPPED)
	}

	parsed, err := url.Parse(rawUrl)
	if err != nil || !parsed.IsAbs() {
		return s.placeholder(ctx, rawUrl, key, "unparseable image url", STATUS_PLACEHOLDER_SKIPPED)
	}
	if textutil.MatchHost(parsed.Hostname(), s.options.BlockedHosts) {
		return s.placeholder(ctx, rawUrl, key, "host is blocklisted", STATUS_PLACEHOLDER_SKIPPED)
	}

	if cached, ok, err := s.index.get(ctx, key); err != nil {
		slog.WarnContext(ctx, "failed to read asset index", "key", key, "err", err)
	} else if ok {
		if _, err := os.Stat(cached.Path); err == nil {
			span.SetStatus(codes.Ok, "CACHE HIT")
			s.count(ctx, cached.Status)
			return Acquired{Key: cached.Key, Path: cached.Path, Status: cached.Status}, nil
		}
	}

	assetPath := filepath.Join(s.options.Dir, key)
	if _, err := os.Stat(assetPath); err == nil {
		// The file survived a lost index entry.
		acquired := Acquired{Key: key, Path: assetPath, Status: STATUS_DOWNLOADED}
		s.note(ctx, rawUrl, acquired)
		span.SetStatus(codes.Ok, "CACHE HIT")
		s.count(ctx, acquired.Status)
		return acquired, nil
	}

	if err := s.options.Limiter.Wait(ctx); err != nil {
		return Acquired{}, err
	}

	res, err := s.client.R().
		SetContext(ctx).
		Get(rawUrl)
	if err != nil {
		return s.placeholder(ctx, rawUrl, key,
			fmt.Sprintf("download failed: %v", err), STATUS_PLACEHOLDER_ERROR)
	}
	if res.IsError() {
		return s.placeholder(ctx, rawUrl, key,
			fmt.Sprintf("download failed: status %s", res.Status()), STATUS_PLACEHOLDER_ERROR)
	}

	if err := os.WriteFile(assetPath, res.Body(), 0644); err != nil {
		return Acquired{}, fmt.Errorf("writing image %s: %w", assetPath, err)
	}

	acquired := Acquired{Key: key, Path: assetPath, Status: STATUS_DOWNLOADED}
	s.note(ctx, rawUrl, acquired)
	s.count(ctx, acquired.Status)
	return acquired, nil
}

// placeholder stores a generated stand-in under the image's own key.
// The next run finds the file on disk and skips the download.
func (s *Store) placeholder(ctx context.Context, rawUrl, key, reason string, status Status) (Acquired, error) {
	slog.WarnContext(ctx, "substituting placeholder image",
		"url", truncate(rawUrl, 256), "reason", reason)

	assetPath := filepath.Join(s.options.Dir, key)
	acquired := Acquired{Key: key, Path: assetPath, Status: status}

	if _, err := os.Stat(assetPath); err == nil {
		s.note(ctx, rawUrl, acquired)
		s.count(ctx, status)
		return acquired, nil
	}

	rendered, err := renderPlaceholder(reason, truncate(rawUrl, 256))
	if err != nil {
		return Acquired{}, fmt.Errorf("rendering placeholder for %s: %w", truncate(rawUrl, 256), err)
	}
	if err := os.WriteFile(assetPath, rendered, 0644); err != nil {
		return Acquired{}, fmt.Errorf("writing placeholder %s: %w", assetPath, err)
	}

	s.note(ctx, rawUrl, acquired)
	s.count(ctx, status)
	return acquired, nil
}

// ExcludedPlaceholder returns the shared stand-in that excluded image
// references are rewritten to, rendering it on first use.
func (s *Store) ExcludedPlaceholder(ctx context.Context) (Acquired, error) {
	assetPath := filepath.Join(s.options.Dir, EXCLUDED_PLACEHOLDER_KEY)
	acquired := Acquired{
		Key:    EXCLUDED_PLACEHOLDER_KEY,
		Path:   assetPath,
		Status: STATUS_PLACEHOLDER_SKIPPED,
	}

	if _, err := os.Stat(assetPath); err == nil {
		return acquired, nil
	}

	rendered, err := renderPlaceholder(
		"This image was excluded from the ebook. The original reference is preserved in the alt text.", "")
	if err != nil {
		return Acquired{}, fmt.Errorf("rendering excluded placeholder: %w", err)
	}
	if err := os.WriteFile(assetPath, rendered, 0644); err != nil {
		return Acquired{}, fmt.Errorf("writing excluded placeholder: %w", err)
	}

	return acquired, nil
}

// OptimizeKey runs Optimize over a stored asset. An unreadable file
// vetoes the image rather than failing the build.
func (s *Store) OptimizeKey(ctx context.Context, key string, limits Limits) Optimized {
	data, err := os.ReadFile(filepath.Join(s.options.Dir, key))
	if err != nil {
		return Optimized{Reason: fmt.Sprintf("unreadable asset: %v", err)}
	}

	optimized := Optimize(data, limits)
	if optimized.MediaType == "image/svg+xml" {
		slog.WarnContext(ctx, "svg image passed through without optimization", "key", key)
	}
	return optimized
}

// Stats counts indexed assets by outcome.
func (s *Store) Stats(ctx context.Context) (map[Status]int64, error) {
	return s.index.count(ctx)
}

// note records the asset in the index. Index failures only cost dedup
// on later runs, the file on disk still serves.
func (s *Store) note(ctx context.Context, rawUrl string, acquired Acquired) {
	err := s.index.put(ctx, asset{
		Key:       acquired.Key,
		SourceURL: truncate(rawUrl, 2048),
		Path:      acquired.Path,
		Status:    acquired.Status,
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to record asset in index", "key", acquired.Key, "err", err)
	}
}

func (s *Store) count(ctx context.Context, status Status) {
	s.acquires.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
	))
}

// truncate keeps log lines and placeholder text bounded. Data URIs
// can run into megabytes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
