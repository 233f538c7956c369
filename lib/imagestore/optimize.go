package imagestore

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"

	_ "image/gif"

	_ "golang.org/x/image/webp"
)

const DEFAULT_JPEG_QUALITY = 75

// Limits bounds what an optimized image may look like.
type Limits struct {
	// MaxWidth is the widest an image may be. Wider images are scaled
	// down proportionally. Zero disables scaling.
	MaxWidth int
	// MaxBytes rejects images over this size, both before and after
	// optimization. Zero disables the check.
	MaxBytes int
	// JpegQuality applies when re-encoding to JPEG. Zero means
	// DEFAULT_JPEG_QUALITY.
	JpegQuality int
}

type Optimized struct {
	// Data is nil when the image was rejected.
	Data      []byte
	MediaType string
	// Reason explains a rejection.
	Reason string
}

// Rejected reports whether the image was vetoed rather than encoded.
func (o Optimized) Rejected() bool {
	return o.Data == nil
}

// Optimize validates, downscales, and re-encodes an image. PNG and
// GIF inputs come out as PNG, everything else as JPEG. SVG documents
// pass through untouched. The same input and limits always produce
// the same output.
func Optimize(data []byte, limits Limits) Optimized {
	if limits.MaxBytes > 0 && len(data) > limits.MaxBytes {
		return Optimized{Reason: fmt.Sprintf(
			"image is %d bytes, over the %d byte limit", len(data), limits.MaxBytes,
		)}
	}

	if looksLikeSvg(data) {
		return Optimized{Data: data, MediaType: "image/svg+xml"}
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Optimized{Reason: fmt.Sprintf("undecodable image: %v", err)}
	}

	if limits.MaxWidth > 0 && src.Bounds().Dx() > limits.MaxWidth {
		src = downscale(src, limits.MaxWidth)
	}

	encoded, mediaType, err := encode(src, format, limits.JpegQuality)
	if err != nil {
		return Optimized{Reason: fmt.Sprintf("re-encoding %s image: %v", format, err)}
	}

	if limits.MaxBytes > 0 && len(encoded) > limits.MaxBytes {
		return Optimized{Reason: fmt.Sprintf(
			"optimized image is %d bytes, over the %d byte limit", len(encoded), limits.MaxBytes,
		)}
	}

	return Optimized{Data: encoded, MediaType: mediaType}
}

func downscale(src image.Image, maxWidth int) image.Image {
	bounds := src.Bounds()
	height := int(math.Round(float64(bounds.Dy()) * float64(maxWidth) / float64(bounds.Dx())))
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst
}

func encode(src image.Image, format string, jpegQuality int) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "png", "gif":
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		if err := encoder.Encode(&buf, src); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	default:
		if jpegQuality <= 0 {
			jpegQuality = DEFAULT_JPEG_QUALITY
		}
		err := jpeg.Encode(&buf, flattenToWhite(src), &jpeg.Options{Quality: jpegQuality})
		if err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	}
}

// flattenToWhite composites src over a white background. JPEG has no
// alpha channel, transparent regions would otherwise come out black.
func flattenToWhite(src image.Image) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Over)
	return dst
}

// looksLikeSvg sniffs for an SVG document without parsing it.
func looksLikeSvg(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	if bytes.HasPrefix(trimmed, []byte("<svg")) {
		return true
	}
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return false
	}

	head := trimmed
	if len(head) > 2048 {
		head = head[:2048]
	}
	return bytes.Contains(head, []byte("<svg"))
}
