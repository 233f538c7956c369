package imagestore

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	placeholderWidth  = 400
	placeholderHeight = 300
	placeholderChars  = 52
)

// renderPlaceholder draws the failure reason and the source URL onto
// a small PNG. The text is burned into the pixels so the information
// survives in readers that hide alt text.
func renderPlaceholder(reason, source string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))

	background := color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	drawBorder(img, color.RGBA{R: 0x99, G: 0x99, B: 0x99, A: 0xff})

	lines := []string{"Image unavailable", ""}
	lines = append(lines, wrapText(reason, placeholderChars)...)
	if source != "" {
		lines = append(lines, "")
		lines = append(lines, wrapText(source, placeholderChars)...)
	}

	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}),
		Face: basicfont.Face7x13,
	}
	y := 40
	for _, line := range lines {
		if y > placeholderHeight-20 {
			break
		}
		drawer.Dot = fixed.P(20, y)
		drawer.DrawString(line)
		y += 16
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawBorder(img *image.RGBA, line color.Color) {
	bounds := img.Bounds()
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		img.Set(x, bounds.Min.Y, line)
		img.Set(x, bounds.Max.Y-1, line)
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		img.Set(bounds.Min.X, y, line)
		img.Set(bounds.Max.X-1, y, line)
	}
}

// wrapText hard-wraps text into lines of at most width characters.
// Words longer than a line are split mid-word so long URLs stay
// inside the image.
func wrapText(text string, width int) []string {
	var lines []string
	var current strings.Builder

	for _, word := range strings.Fields(text) {
		for len(word) > width {
			if current.Len() > 0 {
				lines = append(lines, current.String())
				current.Reset()
			}
			lines = append(lines, word[:width])
			word = word[width:]
		}

		switch {
		case current.Len() == 0:
			current.WriteString(word)
		case current.Len()+1+len(word) <= width:
			current.WriteString(" ")
			current.WriteString(word)
		default:
			lines = append(lines, current.String())
			current.Reset()
			current.WriteString(word)
		}
	}

	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
