package pipeline

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/histogram"
)

// HistEqualizeOp spreads each colour band's histogram over the full range.
// The lookup tables come from one pass over the whole input and are shared
// by every region of the node. Alpha is kept.
type HistEqualizeOp struct{}

func (o *HistEqualizeOp) Kind() Kind      { return KindHistEqualize }
func (o *HistEqualizeOp) arity() int      { return 1 }
func (o *HistEqualizeOp) validate() error { return nil }

func (o *HistEqualizeOp) infer(in []Descriptor) (Descriptor, error) {
	if err := requireUchar(KindHistEqualize, in[0]); err != nil {
		return Descriptor{}, err
	}
	return in[0], nil
}

func (o *HistEqualizeOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

// bandLUT maps sample values of one band.
type bandLUT [256]uint8

func (o *HistEqualizeOp) luts(ec *evalContext) ([]bandLUT, error) {
	v, err := ec.ev.e.memoize("histeq", ec.node.Sig, func() (any, error) {
		var bins [4][256]int
		err := ec.ev.forEachStrip(ec.node.Inputs[0], func(r *Region) error {
			h := histogram.NewRGBAHistogram(r.toRGBA())
			for i := 0; i < 256; i++ {
				bins[0][i] += h.R.Bins[i]
				bins[1][i] += h.G.Bins[i]
				bins[2][i] += h.B.Bins[i]
				bins[3][i] += h.A.Bins[i]
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		d := ec.input(0)
		luts := make([]bandLUT, d.ColorBands())
		for b := range luts {
			luts[b] = equalize(bins[b])
		}
		return luts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]bandLUT), nil
}

// equalize builds the lookup table that maps a histogram's cumulative
// distribution onto [0, 255].
func equalize(bins [256]int) bandLUT {
	var lut bandLUT
	total, cdfMin := 0, 0
	for _, c := range bins {
		if cdfMin == 0 && c > 0 {
			cdfMin = c
		}
		total += c
	}
	if total == cdfMin {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}
	cdf := 0
	for i, c := range bins {
		cdf += c
		if c == 0 && cdf == 0 {
			continue
		}
		lut[i] = uint8(math.Round(float64(cdf-cdfMin) / float64(total-cdfMin) * 255))
	}
	return lut
}

func (o *HistEqualizeOp) compute(ec *evalContext, out *Region, in []*Region) error {
	luts, err := o.luts(ec)
	if err != nil {
		return err
	}
	src := in[0]
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			s := src.pixelBytes(x, y)
			dst := out.pixelBytes(x, y)
			copy(dst, s)
			for b, lut := range luts {
				dst[b] = lut[s[b]]
			}
		}
	}
	return nil
}

func (o *HistEqualizeOp) fingerprint(*fingerprinter) {}
