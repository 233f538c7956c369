package ebook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"lwepub/lib/imagestore"
	"lwepub/lib/scrapers/lesswrong"
)

// IncludedAsset is an optimized image ready to be packed into a
// volume.
type IncludedAsset struct {
	Key       string
	Data      []byte
	MediaType string
}

type ResolveResult struct {
	// Included holds the assets the volume will carry, in first
	// appearance order.
	Included []IncludedAsset
	// Excluded lists keys whose references were rewritten to the
	// shared placeholder.
	Excluded []string
}

// ResolveAssets decides, once per referenced image, whether it goes
// into the volume. Vetoed references are rewritten in place to point
// at the shared placeholder, with the original reference preserved in
// the alt text. Every reference ends up either included or excluded.
func ResolveAssets(ctx context.Context, store *imagestore.Store, limits imagestore.Limits, posts []lesswrong.Post) (ResolveResult, error) {
	ctx, span := tracer.Start(ctx, "ebook:ResolveAssets")
	defer span.End()

	docs := make([]*goquery.Document, len(posts))
	var order []string
	seen := map[string]bool{}
	for i := range posts {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(posts[i].BodyHtml))
		if err != nil {
			return ResolveResult{}, fmt.Errorf("parsing chapter %q: %w", posts[i].Title, err)
		}
		docs[i] = doc

		doc.Find(`img[src^="images/"]`).Each(func(_ int, img *goquery.Selection) {
			src, _ := img.Attr("src")
			key := strings.TrimPrefix(src, "images/")
			if key == "" || seen[key] {
				return
			}
			seen[key] = true
			order = append(order, key)
		})
	}

	var result ResolveResult
	excluded := map[string]bool{}
	for _, key := range order {
		optimized := store.OptimizeKey(ctx, key, limits)
		if optimized.Rejected() {
			slog.WarnContext(ctx, "excluding image from ebook", "key", key, "reason", optimized.Reason)
			excluded[key] = true
			result.Excluded = append(result.Excluded, key)
			continue
		}
		result.Included = append(result.Included, IncludedAsset{
			Key:       key,
			Data:      optimized.Data,
			MediaType: optimized.MediaType,
		})
	}

	if len(excluded) == 0 {
		return result, nil
	}

	placeholder, err := store.ExcludedPlaceholder(ctx)
	if err != nil {
		return ResolveResult{}, err
	}
	placeholderImage := store.OptimizeKey(ctx, placeholder.Key, limits)
	if placeholderImage.Rejected() {
		// Ship the raw file rather than lose the placeholder too.
		raw, err := os.ReadFile(placeholder.Path)
		if err != nil {
			return ResolveResult{}, fmt.Errorf("reading excluded placeholder: %w", err)
		}
		placeholderImage = imagestore.Optimized{Data: raw, MediaType: "image/png"}
	}
	if !containsKey(result.Included, placeholder.Key) {
		result.Included = append(result.Included, IncludedAsset{
			Key:       placeholder.Key,
			Data:      placeholderImage.Data,
			MediaType: placeholderImage.MediaType,
		})
	}

	for i := range posts {
		changed := false
		docs[i].Find(`img[src^="images/"]`).Each(func(_ int, img *goquery.Selection) {
			src, _ := img.Attr("src")
			key := strings.TrimPrefix(src, "images/")
			if !excluded[key] {
				return
			}
			img.SetAttr("src", "images/"+placeholder.Key)
			img.SetAttr("class", appendClass(img.AttrOr("class", ""), "excluded-image"))
			img.SetAttr("alt", fmt.Sprintf("[image excluded from ebook: images/%s]", key))
			changed = true
		})
		if !changed {
			continue
		}

		rendered, err := docs[i].Find("body").Html()
		if err != nil {
			return ResolveResult{}, fmt.Errorf("rendering chapter %q: %w", posts[i].Title, err)
		}
		posts[i].BodyHtml = rendered
	}

	return result, nil
}

func containsKey(assets []IncludedAsset, key string) bool {
	for _, asset := range assets {
		if asset.Key == key {
			return true
		}
	}
	return false
}

func appendClass(existing, class string) string {
	for _, has := range strings.Fields(existing) {
		if has == class {
			return existing
		}
	}
	if existing == "" {
		return class
	}
	return existing + " " + class
}
