// Package ebook assembles scraped posts into EPUB files, deciding per
// image whether it is carried or replaced by the shared placeholder.
package ebook

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lwepub/lib/imagestore"
	"lwepub/lib/scrapers/lesswrong"
)

var tracer = otel.Tracer("lib/ebook")

type BuilderOptions struct {
	Client lesswrong.Client
	Images *imagestore.Store
	Limits imagestore.Limits

	Title  string
	Author string
	// Output is the EPUB path. With multiple volumes a -vol01 style
	// suffix is inserted before the extension.
	Output string

	// Limit caps how many posts are scraped. Zero means all.
	Limit int
	// SplitEvery starts a new volume after this many chapters. Zero
	// means a single volume.
	SplitEvery int
}

type Builder struct {
	options BuilderOptions
}

func NewBuilder(options BuilderOptions) Builder {
	return Builder{options: options}
}

type Summary struct {
	PostsRequested int
	PostsFailed    int
	ImagesIncluded int
	ImagesExcluded int
	Volumes        []string
}

// Build scrapes the given post URLs in order and writes the volumes.
// Individual posts and volumes may fail and are skipped, producing
// nothing at all is the only fatal outcome.
func (b Builder) Build(ctx context.Context, postUrls []string) (Summary, error) {
	ctx, span := tracer.Start(ctx, "ebook:Build", trace.WithAttributes(
		attribute.Int("requested", len(postUrls)),
	))
	defer span.End()

	urls := dedupe(postUrls)
	if b.options.Limit > 0 && len(urls) > b.options.Limit {
		urls = urls[:b.options.Limit]
	}

	summary := Summary{PostsRequested: len(urls)}

	var posts []lesswrong.Post
	for _, postUrl := range urls {
		post, err := b.options.Client.Post(ctx, postUrl)
		if err != nil {
			slog.WarnContext(ctx, "skipping post", "url", postUrl, "err", err)
			summary.PostsFailed++
			continue
		}
		posts = append(posts, post)
	}

	if len(posts) == 0 {
		err := fmt.Errorf("none of the %d posts could be fetched", len(urls))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no posts fetched")
		return summary, err
	}

	volumes := splitVolumes(posts, b.options.SplitEvery)
	outputs := volumeOutputs(b.options.Output, len(volumes))

	for i, volumePosts := range volumes {
		title := b.options.Title
		if len(volumes) > 1 {
			title = fmt.Sprintf("%s, Volume %d", title, i+1)
		}

		resolved, err := ResolveAssets(ctx, b.options.Images, b.options.Limits, volumePosts)
		if err != nil {
			slog.WarnContext(ctx, "skipping volume", "output", outputs[i], "err", err)
			continue
		}
		summary.ImagesIncluded += len(resolved.Included)
		summary.ImagesExcluded += len(resolved.Excluded)

		volume := Volume{
			Title:  title,
			Author: b.options.Author,
			Posts:  volumePosts,
			Assets: resolved.Included,
		}
		if err := WriteVolume(ctx, volume, outputs[i]); err != nil {
			slog.WarnContext(ctx, "failed to write volume", "output", outputs[i], "err", err)
			continue
		}

		slog.InfoContext(ctx, "wrote volume",
			"output", outputs[i], "chapters", len(volumePosts), "images", len(resolved.Included))
		summary.Volumes = append(summary.Volumes, outputs[i])
	}

	if len(summary.Volumes) == 0 {
		err := fmt.Errorf("no volumes could be written")
		span.RecordError(err)
		span.SetStatus(codes.Error, "no volumes written")
		return summary, err
	}

	return summary, nil
}

func dedupe(urls []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, postUrl := range urls {
		if seen[postUrl] {
			continue
		}
		seen[postUrl] = true
		out = append(out, postUrl)
	}
	return out
}

func splitVolumes(posts []lesswrong.Post, splitEvery int) [][]lesswrong.Post {
	if splitEvery <= 0 || len(posts) <= splitEvery {
		return [][]lesswrong.Post{posts}
	}

	var volumes [][]lesswrong.Post
	for start := 0; start < len(posts); start += splitEvery {
		end := start + splitEvery
		if end > len(posts) {
			end = len(posts)
		}
		volumes = append(volumes, posts[start:end])
	}
	return volumes
}

// volumeOutputs derives per-volume file names, out.epub becoming
// out-vol01.epub, out-vol02.epub and so on.
func volumeOutputs(output string, volumes int) []string {
	if volumes == 1 {
		return []string{output}
	}

	ext := filepath.Ext(output)
	base := strings.TrimSuffix(output, ext)

	var outputs []string
	for i := 1; i <= volumes; i++ {
		outputs = append(outputs, fmt.Sprintf("%s-vol%02d%s", base, i, ext))
	}
	return outputs
}
