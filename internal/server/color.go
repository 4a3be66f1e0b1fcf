package server

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/image-pipeline/internal/pipeline"
)

// RGBAColor represents an RGBA color with 8-bit components including alpha.
//
// The alpha component represents opacity:
//   - 0 = fully transparent
//   - 255 = fully opaque
type RGBAColor struct {
	R uint8 `json:"r"` // Red component (0-255)
	G uint8 `json:"g"` // Green component (0-255)
	B uint8 `json:"b"` // Blue component (0-255)
	A uint8 `json:"a"` // Alpha/opacity component (0-255)
}

// HSLColor represents a color in HSL (Hue, Saturation, Lightness) color space.
type HSLColor struct {
	H int `json:"h"` // Hue: 0-360 degrees (0=red, 120=green, 240=blue)
	S int `json:"s"` // Saturation: 0-100 percent (0=gray, 100=vivid)
	L int `json:"l"` // Lightness: 0-100 percent (0=black, 50=normal, 100=white)
}

// ColorResult contains a pixel in several representations. Samples holds
// the raw band values; the other fields interpret them as sRGB.
type ColorResult struct {
	Samples []float64 `json:"samples"`
	Hex     string    `json:"hex"` // "#RRGGBB" (no alpha)
	RGBA    RGBAColor `json:"rgba"`
	HSL     HSLColor  `json:"hsl"`
}

func to8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}

// colorOf interprets samples of an image described by d. Grey images give
// equal R, G and B; missing alpha is opaque.
func colorOf(px []float64, d pipeline.Descriptor) ColorResult {
	var r, g, b, a uint8 = 0, 0, 0, 255
	switch d.ColorBands() {
	case 1:
		r = to8(px[0])
		g, b = r, r
	default:
		r, g, b = to8(px[0]), to8(px[1]), to8(px[min(2, len(px)-1)])
	}
	if d.HasAlpha() {
		a = to8(px[len(px)-1])
	}

	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	h, s, l := c.Hsl()
	return ColorResult{
		Samples: px,
		Hex:     strings.ToUpper(c.Hex()),
		RGBA:    RGBAColor{R: r, G: g, B: b, A: a},
		HSL: HSLColor{
			H: int(math.Round(h)) % 360,
			S: int(math.Round(s * 100)),
			L: int(math.Round(l * 100)),
		},
	}
}

// parseColor parses "#RGB", "#RRGGBB" or "#RRGGBBAA" into 0-255 samples.
// The alpha form returns four values.
func parseColor(hex string) ([]float64, error) {
	if hex == "" {
		return nil, fmt.Errorf("empty color string")
	}
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	var alpha []float64
	if len(hex) == 9 {
		a, err := strconv.ParseUint(hex[7:], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid alpha in color %q: %w", hex, err)
		}
		alpha = []float64{float64(a)}
		hex = hex[:7]
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	r, g, b := c.RGB255()
	return append([]float64{float64(r), float64(g), float64(b)}, alpha...), nil
}

// optionalColor parses hex, or returns nil when it is empty.
func optionalColor(hex string) ([]float64, error) {
	if hex == "" {
		return nil, nil
	}
	return parseColor(hex)
}
