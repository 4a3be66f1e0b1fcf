package pipeline

import (
	"encoding/binary"
	"image/color"
	"math"
)

// opaque is the sample value of white and of full alpha in both formats.
const opaque = 255.0

// expandPixel widens a caller-supplied colour to d's band count. An empty
// colour is all zeros, a single value fills every colour band, and a colour
// without alpha gets an opaque one.
func expandPixel(op string, px []float64, d Descriptor) ([]float64, error) {
	out := make([]float64, d.Bands)
	switch n := len(px); {
	case n == 0:
	case n == d.Bands:
		copy(out, px)
	case n == 1:
		for b := range out {
			out[b] = px[0]
		}
		if d.HasAlpha() {
			out[d.Bands-1] = opaque
		}
	case n == d.ColorBands() && d.HasAlpha():
		copy(out, px)
		out[d.Bands-1] = opaque
	default:
		return nil, errorf(InvalidParameter, op, "colour has %d values, image has %d bands", n, d.Bands)
	}
	return out, nil
}

// encodePixel stores px in the byte layout of format.
func encodePixel(px []float64, format PixelFormat) []byte {
	out := make([]byte, len(px)*format.SampleSize())
	for b, v := range px {
		if format == Uchar {
			out[b] = clampUint8(v)
			continue
		}
		binary.LittleEndian.PutUint32(out[b*4:], math.Float32bits(float32(v)))
	}
	return out
}

// pixelBytes returns the bytes of the pixel at (x, y).
func (r *Region) pixelBytes(x, y int) []byte {
	i := r.offset(x, y)
	return r.Pix[i : i+r.Bands*r.Format.SampleSize()]
}

// rowFloats reads samples of row y for columns [x0, x1) into dst.
func (r *Region) rowFloats(y, x0, x1 int, dst []float64) []float64 {
	n := (x1 - x0) * r.Bands
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	i := r.offset(x0, y)
	if r.Format == Uchar {
		for k := range dst {
			dst[k] = float64(r.Pix[i+k])
		}
		return dst
	}
	for k := range dst {
		dst[k] = float64(math.Float32frombits(binary.LittleEndian.Uint32(r.Pix[i+k*4:])))
	}
	return dst
}

// setRowFloats writes samples for columns starting at x0 of row y.
func (r *Region) setRowFloats(y, x0 int, src []float64) {
	i := r.offset(x0, y)
	if r.Format == Uchar {
		for k, v := range src {
			r.Pix[i+k] = clampUint8(v)
		}
		return
	}
	for k, v := range src {
		binary.LittleEndian.PutUint32(r.Pix[i+k*4:], math.Float32bits(float32(v)))
	}
}

// rgbaColor converts a pixel of up to four bands to a straight colour.
func rgbaColor(px []float64) color.NRGBA {
	c := color.NRGBA{A: 255}
	switch len(px) {
	case 0:
		c.A = 0
	case 1:
		g := clampUint8(px[0])
		c.R, c.G, c.B = g, g, g
	case 2:
		g := clampUint8(px[0])
		c.R, c.G, c.B, c.A = g, g, g, clampUint8(px[1])
	case 3:
		c.R, c.G, c.B = clampUint8(px[0]), clampUint8(px[1]), clampUint8(px[2])
	default:
		c.R, c.G, c.B, c.A = clampUint8(px[0]), clampUint8(px[1]), clampUint8(px[2]), clampUint8(px[3])
	}
	return c
}

// Rec. 709 luma weights.
const (
	lumaR = 0.2126
	lumaG = 0.7152
	lumaB = 0.0722
)

func luma(r, g, b float64) float64 {
	return lumaR*r + lumaG*g + lumaB*b
}
