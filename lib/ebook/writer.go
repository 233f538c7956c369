package ebook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	epub "github.com/go-shiori/go-epub"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lwepub/lib/scrapers/lesswrong"
	"lwepub/lib/textutil"
)

// Volume is one EPUB file worth of chapters and the assets they
// reference.
type Volume struct {
	Title  string
	Author string
	Posts  []lesswrong.Post
	Assets []IncludedAsset
}

// WriteVolume assembles one EPUB file. Asset bytes are staged to a
// temporary directory because the container ingests files by path.
func WriteVolume(ctx context.Context, volume Volume, outputPath string) error {
	_, span := tracer.Start(ctx, "ebook:WriteVolume", trace.WithAttributes(
		attribute.String("output", outputPath),
		attribute.Int("chapters", len(volume.Posts)),
		attribute.Int("assets", len(volume.Assets)),
	))
	defer span.End()

	if len(volume.Posts) == 0 {
		return fmt.Errorf("volume %q has no chapters", volume.Title)
	}

	book, err := epub.NewEpub(volume.Title)
	if err != nil {
		return fmt.Errorf("creating epub: %w", err)
	}
	book.SetAuthor(volume.Author)
	book.SetLang("en")
	book.SetIdentifier(identifier(volume.Title))

	staging, err := os.MkdirTemp("", "lwepub-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	cssFile := filepath.Join(staging, "style.css")
	if err := os.WriteFile(cssFile, []byte(chapterCss), 0644); err != nil {
		return fmt.Errorf("staging stylesheet: %w", err)
	}
	internalCss, err := book.AddCSS(cssFile, "style.css")
	if err != nil {
		return fmt.Errorf("adding stylesheet: %w", err)
	}

	// Map every chapter-side reference to its container path.
	refs := map[string]string{}
	for _, asset := range volume.Assets {
		name := containerFilename(asset)
		staged := filepath.Join(staging, name)
		if err := os.WriteFile(staged, asset.Data, 0644); err != nil {
			return fmt.Errorf("staging image %s: %w", asset.Key, err)
		}
		internal, err := book.AddImage(staged, name)
		if err != nil {
			return fmt.Errorf("adding image %s: %w", asset.Key, err)
		}
		refs["images/"+asset.Key] = internal
	}

	for i, post := range volume.Posts {
		body := post.BodyHtml
		for from, to := range refs {
			body = strings.ReplaceAll(body, `src="`+from+`"`, `src="`+to+`"`)
		}

		title := textutil.CollapseWhitespace(post.Title)
		if title == "" {
			title = fmt.Sprintf("Untitled Chapter %d", i+1)
		}

		filename := fmt.Sprintf("chap_%03d_%s.xhtml", i+1, textutil.SanitizeFilename(title))
		if _, err := book.AddSection(body, title, filename, internalCss); err != nil {
			return fmt.Errorf("adding chapter %q: %w", title, err)
		}
	}

	if err := book.Write(outputPath); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write epub")
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	return nil
}

// containerFilename names the staged asset so its extension matches
// the optimized media type. The key may carry the extension of the
// original download, which the optimizer can have re-encoded.
func containerFilename(asset IncludedAsset) string {
	ext := ".jpg"
	switch asset.MediaType {
	case "image/png":
		ext = ".png"
	case "image/gif":
		ext = ".gif"
	case "image/svg+xml":
		ext = ".svg"
	}

	base := strings.TrimSuffix(asset.Key, filepath.Ext(asset.Key))
	return base + ext
}

func identifier(title string) string {
	return fmt.Sprintf("urn:uuid:%s-lw-%d", textutil.SanitizeFilename(title), time.Now().Unix())
}
