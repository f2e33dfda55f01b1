// Package placeholder renders simple title cards used when a scene image is
// missing or when the offline image provider is selected.
package placeholder

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/fogleman/gg"
)

// Card describes a placeholder image.
type Card struct {
	Width    int
	Height   int
	Title    string
	Subtitle string
	// Seed picks the background tint; equal seeds yield equal cards.
	Seed int64
}

// Size returns pixel dimensions for an aspect ratio such as "16:9" or "9:16",
// scaled so the long edge is longEdge pixels. Unknown ratios fall back to 16:9.
func Size(aspectRatio string, longEdge int) (int, int) {
	if longEdge <= 0 {
		longEdge = 1280
	}
	var w, h int
	if _, err := fmt.Sscanf(strings.TrimSpace(aspectRatio), "%d:%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		w, h = 16, 9
	}
	if w >= h {
		return longEdge, longEdge * h / w
	}
	return longEdge * w / h, longEdge
}

// RenderPNG draws the card and encodes it as PNG.
func RenderPNG(card Card) ([]byte, error) {
	if card.Width <= 0 || card.Height <= 0 {
		card.Width, card.Height = Size("16:9", 1280)
	}
	dc := gg.NewContext(card.Width, card.Height)
	r, g, b := tint(card.Seed, card.Title)
	dc.SetRGB(r, g, b)
	dc.Clear()

	margin := float64(card.Width) * 0.08
	dc.SetRGBA(1, 1, 1, 0.15)
	dc.DrawRectangle(margin/2, margin/2, float64(card.Width)-margin, float64(card.Height)-margin)
	dc.SetLineWidth(3)
	dc.Stroke()

	dc.SetRGB(1, 1, 1)
	width := float64(card.Width) - 2*margin
	dc.DrawStringWrapped(strings.TrimSpace(card.Title), float64(card.Width)/2, float64(card.Height)/2, 0.5, 0.5, width, 1.4, gg.AlignCenter)
	if sub := strings.TrimSpace(card.Subtitle); sub != "" {
		dc.SetRGBA(1, 1, 1, 0.7)
		dc.DrawStringAnchored(sub, float64(card.Width)/2, float64(card.Height)-margin, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode placeholder png: %w", err)
	}
	return buf.Bytes(), nil
}

func tint(seed int64, title string) (float64, float64, float64) {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%d:%s", seed, title)
	v := h.Sum32()
	// Muted dark tones keep white text legible.
	return 0.1 + float64(v&0xff)/255*0.3,
		0.1 + float64((v>>8)&0xff)/255*0.3,
		0.15 + float64((v>>16)&0xff)/255*0.3
}
