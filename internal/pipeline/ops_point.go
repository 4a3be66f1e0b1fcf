package pipeline

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/lucasb-eyer/go-colorful"
)

// Point operations map each output pixel from the input pixel at the same
// position, so they demand exactly the requested rectangle.

func pointDemand(_ *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return single(out), nil
}

// bridgesRGBA reports whether a region can go through an 8-bit RGBA image.
func bridgesRGBA(r *Region) bool {
	return r.Format == Uchar && r.Bands <= 4
}

// mapSamples applies fn to every sample, passing the band index.
func mapSamples(out, in *Region, fn func(b int, v float64) float64) {
	var row []float64
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		row = in.rowFloats(y, out.Rect.Min.X, out.Rect.Max.X, row)
		for i, v := range row {
			row[i] = fn(i%in.Bands, v)
		}
		out.setRowFloats(y, out.Rect.Min.X, row)
	}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// GrayscaleOp converts colour to Rec. 709 luma, keeping alpha.
type GrayscaleOp struct{}

func (o *GrayscaleOp) Kind() Kind      { return KindGrayscale }
func (o *GrayscaleOp) arity() int      { return 1 }
func (o *GrayscaleOp) validate() error { return nil }

func (o *GrayscaleOp) infer(in []Descriptor) (Descriptor, error) {
	d := in[0]
	switch {
	case d.Bands <= 2:
		return d, nil
	case d.Bands <= 4:
		return d.withBands(d.Bands - 2), nil
	}
	return Descriptor{}, errorf(DescriptorMismatch, "grayscale", "cannot convert %d bands", d.Bands)
}

func (o *GrayscaleOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *GrayscaleOp) compute(_ *evalContext, out *Region, in []*Region) error {
	src := in[0]
	if src.Bands <= 2 {
		out.copyFrom(src, 0, 0)
		return nil
	}
	if bridgesRGBA(src) {
		out.storeRGBA(effect.GrayscaleWithWeights(src.toRGBA(), lumaR, lumaG, lumaB), src.Rect.Min)
		return nil
	}
	var px []float64
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			px = src.PixelAt(x, y, px)
			out.Set(x, y, 0, luma(px[0], px[1], px[2]))
			if src.Bands == 4 {
				out.Set(x, y, 1, px[3])
			}
		}
	}
	return nil
}

func (o *GrayscaleOp) fingerprint(*fingerprinter) {}

// InvertOp negates colour bands: 255-v for uchar, -v for float. Alpha is
// kept.
type InvertOp struct{}

func (o *InvertOp) Kind() Kind                                { return KindInvert }
func (o *InvertOp) arity() int                                { return 1 }
func (o *InvertOp) validate() error                           { return nil }
func (o *InvertOp) infer(in []Descriptor) (Descriptor, error) { return in[0], nil }

func (o *InvertOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *InvertOp) compute(ec *evalContext, out *Region, in []*Region) error {
	src := in[0]
	if bridgesRGBA(src) {
		out.storeRGBA(effect.Invert(src.toRGBA()), src.Rect.Min)
		return nil
	}
	d := ec.input(0)
	nc := d.ColorBands()
	mapSamples(out, src, func(b int, v float64) float64 {
		switch {
		case b >= nc:
			return v
		case src.Format == Uchar:
			return 255 - v
		}
		return -v
	})
	return nil
}

func (o *InvertOp) fingerprint(*fingerprinter) {}

// LinearOp computes A*v + B per band. A and B hold one value for every band
// or a single value for all bands. The result is float when Float is set and
// uchar otherwise.
type LinearOp struct {
	A, B  []float64
	Float bool
}

func (o *LinearOp) Kind() Kind { return KindLinear }
func (o *LinearOp) arity() int { return 1 }

func (o *LinearOp) validate() error {
	if len(o.A) == 0 || len(o.B) == 0 {
		return errorf(InvalidParameter, "linear", "a and b must be non-empty")
	}
	if !finite(o.A...) || !finite(o.B...) {
		return errorf(InvalidParameter, "linear", "coefficients must be finite")
	}
	return nil
}

func (o *LinearOp) infer(in []Descriptor) (Descriptor, error) {
	d := in[0]
	for _, v := range [][]float64{o.A, o.B} {
		if len(v) != 1 && len(v) != d.Bands {
			return Descriptor{}, errorf(DescriptorMismatch, "linear", "%d coefficients for %d bands", len(v), d.Bands)
		}
	}
	d.Format = Uchar
	if o.Float {
		d.Format = Float
	}
	return d, nil
}

func (o *LinearOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *LinearOp) compute(_ *evalContext, out *Region, in []*Region) error {
	coef := func(v []float64, b int) float64 {
		if len(v) == 1 {
			return v[0]
		}
		return v[b]
	}
	mapSamples(out, in[0], func(b int, v float64) float64 {
		return coef(o.A, b)*v + coef(o.B, b)
	})
	return nil
}

func (o *LinearOp) fingerprint(f *fingerprinter) {
	f.floats(o.A)
	f.floats(o.B)
	f.bool(o.Float)
}

// GammaOp computes 255*(v/255)^Exponent on colour bands. Exponents above 1
// darken.
type GammaOp struct {
	Exponent float64
}

func (o *GammaOp) Kind() Kind { return KindGamma }
func (o *GammaOp) arity() int { return 1 }

func (o *GammaOp) validate() error {
	if !finite(o.Exponent) || o.Exponent <= 0 {
		return errorf(InvalidParameter, "gamma", "exponent %v must be positive", o.Exponent)
	}
	return nil
}

func (o *GammaOp) infer(in []Descriptor) (Descriptor, error) { return in[0], nil }

func (o *GammaOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *GammaOp) compute(ec *evalContext, out *Region, in []*Region) error {
	src := in[0]
	if bridgesRGBA(src) {
		// adjust.Gamma raises to the reciprocal of its argument.
		out.storeRGBA(adjust.Gamma(src.toRGBA(), 1/o.Exponent), src.Rect.Min)
		return nil
	}
	nc := ec.input(0).ColorBands()
	mapSamples(out, src, func(b int, v float64) float64 {
		if b >= nc {
			return v
		}
		return 255 * math.Pow(math.Max(v, 0)/255, o.Exponent)
	})
	return nil
}

func (o *GammaOp) fingerprint(f *fingerprinter) { f.float(o.Exponent) }

// SaturationOp scales chroma in HCL space. Grey images pass through.
type SaturationOp struct {
	Factor float64
}

func (o *SaturationOp) Kind() Kind { return KindSaturation }
func (o *SaturationOp) arity() int { return 1 }

func (o *SaturationOp) validate() error {
	if !finite(o.Factor) || o.Factor < 0 {
		return errorf(InvalidParameter, "saturation", "factor %v must not be negative", o.Factor)
	}
	return nil
}

func (o *SaturationOp) infer(in []Descriptor) (Descriptor, error) { return in[0], nil }

func (o *SaturationOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *SaturationOp) compute(ec *evalContext, out *Region, in []*Region) error {
	src := in[0]
	if ec.input(0).ColorBands() < 3 {
		out.copyFrom(src, 0, 0)
		return nil
	}
	var px []float64
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			px = src.PixelAt(x, y, px)
			h, c, l := colorful.Color{R: px[0] / 255, G: px[1] / 255, B: px[2] / 255}.Hcl()
			res := colorful.Hcl(h, c*o.Factor, l).Clamped()
			px[0], px[1], px[2] = res.R*255, res.G*255, res.B*255
			out.SetPixel(x, y, px)
		}
	}
	return nil
}

func (o *SaturationOp) fingerprint(f *fingerprinter) { f.float(o.Factor) }

// CastOp changes the sample format. Casting to uchar rounds and clamps.
type CastOp struct {
	Format PixelFormat
}

func (o *CastOp) Kind() Kind { return KindCast }
func (o *CastOp) arity() int { return 1 }

func (o *CastOp) validate() error {
	if o.Format != Uchar && o.Format != Float {
		return errorf(InvalidParameter, "cast", "unknown format %d", o.Format)
	}
	return nil
}

func (o *CastOp) infer(in []Descriptor) (Descriptor, error) {
	d := in[0]
	d.Format = o.Format
	return d, nil
}

func (o *CastOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *CastOp) compute(_ *evalContext, out *Region, in []*Region) error {
	mapSamples(out, in[0], func(_ int, v float64) float64 { return v })
	return nil
}

func (o *CastOp) fingerprint(f *fingerprinter) { f.int(int(o.Format)) }

// FlattenOp removes alpha by blending onto Background. Images without alpha
// pass through.
type FlattenOp struct {
	Background []float64
}

func (o *FlattenOp) Kind() Kind      { return KindFlatten }
func (o *FlattenOp) arity() int      { return 1 }
func (o *FlattenOp) validate() error { return nil }

func (o *FlattenOp) infer(in []Descriptor) (Descriptor, error) {
	d := in[0]
	if !d.HasAlpha() {
		return d, nil
	}
	if _, err := o.background(d); err != nil {
		return Descriptor{}, err
	}
	return d.withBands(d.Bands - 1), nil
}

func (o *FlattenOp) background(d Descriptor) ([]float64, error) {
	n := d.ColorBands()
	bg := make([]float64, n)
	switch len(o.Background) {
	case 0:
	case 1:
		for b := range bg {
			bg[b] = o.Background[0]
		}
	case n:
		copy(bg, o.Background)
	default:
		return nil, errorf(InvalidParameter, "flatten", "background has %d values, image has %d colour bands", len(o.Background), n)
	}
	return bg, nil
}

func (o *FlattenOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *FlattenOp) compute(ec *evalContext, out *Region, in []*Region) error {
	d := ec.input(0)
	src := in[0]
	if !d.HasAlpha() {
		out.copyFrom(src, 0, 0)
		return nil
	}
	bg, err := o.background(d)
	if err != nil {
		return err
	}
	alpha := d.Bands - 1
	var px []float64
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			px = src.PixelAt(x, y, px)
			a := math.Min(math.Max(px[alpha]/opaque, 0), 1)
			for b := 0; b < alpha; b++ {
				out.Set(x, y, b, px[b]*a+bg[b]*(1-a))
			}
		}
	}
	return nil
}

func (o *FlattenOp) fingerprint(f *fingerprinter) { f.floats(o.Background) }

// PremultiplyOp scales colour bands by alpha. Output is float.
type PremultiplyOp struct{}

func (o *PremultiplyOp) Kind() Kind      { return KindPremultiply }
func (o *PremultiplyOp) arity() int      { return 1 }
func (o *PremultiplyOp) validate() error { return nil }

func (o *PremultiplyOp) infer(in []Descriptor) (Descriptor, error) {
	return alphaFloat(KindPremultiply, in[0])
}

// alphaFloat is the output of the alpha scaling ops: the input as float.
func alphaFloat(kind Kind, d Descriptor) (Descriptor, error) {
	if !d.HasAlpha() {
		return Descriptor{}, errorf(DescriptorMismatch, kind.String(), "%v has no alpha band", d)
	}
	d.Format = Float
	return d, nil
}

func (o *PremultiplyOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *PremultiplyOp) compute(ec *evalContext, out *Region, in []*Region) error {
	scaleByAlpha(out, in[0], func(v, a float64) float64 { return v * a / opaque })
	return nil
}

func (o *PremultiplyOp) fingerprint(*fingerprinter) {}

// UnpremultiplyOp divides colour bands by alpha. Output is float.
type UnpremultiplyOp struct{}

func (o *UnpremultiplyOp) Kind() Kind      { return KindUnpremultiply }
func (o *UnpremultiplyOp) arity() int      { return 1 }
func (o *UnpremultiplyOp) validate() error { return nil }

func (o *UnpremultiplyOp) infer(in []Descriptor) (Descriptor, error) {
	return alphaFloat(KindUnpremultiply, in[0])
}

func (o *UnpremultiplyOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *UnpremultiplyOp) compute(ec *evalContext, out *Region, in []*Region) error {
	scaleByAlpha(out, in[0], func(v, a float64) float64 {
		if a <= 0 {
			return 0
		}
		return v * opaque / a
	})
	return nil
}

func (o *UnpremultiplyOp) fingerprint(*fingerprinter) {}

// scaleByAlpha applies fn to each colour sample with its pixel's alpha,
// which is the last band and is copied unchanged.
func scaleByAlpha(out, in *Region, fn func(v, a float64) float64) {
	alpha := in.Bands - 1
	var px []float64
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			px = in.PixelAt(x, y, px)
			a := px[alpha]
			for b := 0; b < alpha; b++ {
				px[b] = fn(px[b], a)
			}
			out.SetPixel(x, y, px)
		}
	}
}

// AbsOp takes the absolute value of every sample.
type AbsOp struct{}

func (o *AbsOp) Kind() Kind                                { return KindAbs }
func (o *AbsOp) arity() int                                { return 1 }
func (o *AbsOp) validate() error                           { return nil }
func (o *AbsOp) infer(in []Descriptor) (Descriptor, error) { return in[0], nil }

func (o *AbsOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *AbsOp) compute(_ *evalContext, out *Region, in []*Region) error {
	if in[0].Format == Uchar {
		out.copyFrom(in[0], 0, 0)
		return nil
	}
	mapSamples(out, in[0], func(_ int, v float64) float64 { return math.Abs(v) })
	return nil
}

func (o *AbsOp) fingerprint(*fingerprinter) {}

// ExtractBandOp selects one band as a grey image.
type ExtractBandOp struct {
	Band int
}

func (o *ExtractBandOp) Kind() Kind { return KindExtractBand }
func (o *ExtractBandOp) arity() int { return 1 }

func (o *ExtractBandOp) validate() error {
	if o.Band < 0 {
		return errorf(InvalidParameter, "extract_band", "band %d must not be negative", o.Band)
	}
	return nil
}

func (o *ExtractBandOp) infer(in []Descriptor) (Descriptor, error) {
	if o.Band >= in[0].Bands {
		return Descriptor{}, errorf(InvalidParameter, "extract_band", "band %d of %d-band image", o.Band, in[0].Bands)
	}
	return in[0].withBands(1), nil
}

func (o *ExtractBandOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *ExtractBandOp) compute(_ *evalContext, out *Region, in []*Region) error {
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			out.Set(x, y, 0, in[0].At(x, y, o.Band))
		}
	}
	return nil
}

func (o *ExtractBandOp) fingerprint(f *fingerprinter) { f.int(o.Band) }

// BandAppendOp appends a constant band.
type BandAppendOp struct {
	Value float64
}

func (o *BandAppendOp) Kind() Kind { return KindBandAppend }
func (o *BandAppendOp) arity() int { return 1 }

func (o *BandAppendOp) validate() error {
	if !finite(o.Value) {
		return errorf(InvalidParameter, "band_append", "value %v is not finite", o.Value)
	}
	return nil
}

func (o *BandAppendOp) infer(in []Descriptor) (Descriptor, error) {
	return in[0].withBands(in[0].Bands + 1), nil
}

func (o *BandAppendOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *BandAppendOp) compute(_ *evalContext, out *Region, in []*Region) error {
	src := in[0]
	ps := src.Bands * src.Format.SampleSize()
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			copy(out.pixelBytes(x, y)[:ps], src.pixelBytes(x, y))
			out.Set(x, y, src.Bands, o.Value)
		}
	}
	return nil
}

func (o *BandAppendOp) fingerprint(f *fingerprinter) { f.float(o.Value) }

// BandJoinOp stacks the bands of two images of equal size and format.
type BandJoinOp struct{}

func (o *BandJoinOp) Kind() Kind      { return KindBandJoin }
func (o *BandJoinOp) arity() int      { return 2 }
func (o *BandJoinOp) validate() error { return nil }

func (o *BandJoinOp) infer(in []Descriptor) (Descriptor, error) {
	a, b := in[0], in[1]
	if a.Width != b.Width || a.Height != b.Height {
		return Descriptor{}, errorf(DescriptorMismatch, "band_join", "sizes %dx%d and %dx%d differ", a.Width, a.Height, b.Width, b.Height)
	}
	if a.Format != b.Format {
		return Descriptor{}, errorf(DescriptorMismatch, "band_join", "formats %s and %s differ", a.Format, b.Format)
	}
	return a.withBands(a.Bands + b.Bands), nil
}

func (o *BandJoinOp) demand(_ *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return []image.Rectangle{out, out}, nil
}

func (o *BandJoinOp) compute(_ *evalContext, out *Region, in []*Region) error {
	a, b := in[0], in[1]
	na := a.Bands * a.Format.SampleSize()
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			dst := out.pixelBytes(x, y)
			copy(dst[:na], a.pixelBytes(x, y))
			copy(dst[na:], b.pixelBytes(x, y))
		}
	}
	return nil
}

func (o *BandJoinOp) fingerprint(*fingerprinter) {}
