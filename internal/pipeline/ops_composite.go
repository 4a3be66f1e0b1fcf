package pipeline

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/fcolor"
)

// BlendMode selects how Composite combines an overlay with its base.
type BlendMode int

// Porter-Duff operators, then the separable blend modes.
const (
	BlendClear BlendMode = iota
	BlendSource
	BlendOver
	BlendIn
	BlendOut
	BlendAtop
	BlendDest
	BlendDestOver
	BlendDestIn
	BlendDestOut
	BlendDestAtop
	BlendXor
	BlendAdd
	BlendSaturate
	BlendMultiply
	BlendScreen
	BlendOverlay
	BlendDarken
	BlendLighten
	BlendColourDodge
	BlendColourBurn
	BlendHardLight
	BlendSoftLight
	BlendDifference
	BlendExclusion
)

var blendNames = [...]string{
	"clear", "source", "over", "in", "out", "atop",
	"dest", "dest-over", "dest-in", "dest-out", "dest-atop",
	"xor", "add", "saturate", "multiply", "screen", "overlay",
	"darken", "lighten", "colour-dodge", "colour-burn",
	"hard-light", "soft-light", "difference", "exclusion",
}

func (m BlendMode) String() string {
	if m >= 0 && int(m) < len(blendNames) {
		return blendNames[m]
	}
	return "unknown"
}

// ParseBlendMode parses a blend mode name. The American spellings
// color-dodge and color-burn are accepted.
func ParseBlendMode(s string) (BlendMode, error) {
	switch s {
	case "color-dodge":
		return BlendColourDodge, nil
	case "color-burn":
		return BlendColourBurn, nil
	}
	for i, n := range blendNames {
		if n == s {
			return BlendMode(i), nil
		}
	}
	return 0, errorf(InvalidParameter, "composite", "unknown blend mode %q", s)
}

// BlendModes returns every blend mode in declaration order.
func BlendModes() []BlendMode {
	out := make([]BlendMode, len(blendNames))
	for i := range out {
		out[i] = BlendMode(i)
	}
	return out
}

// CompositeOp draws its second input over its first with its top-left at
// (X, Y). The output has the base's size and is always four-band sRGB; the
// overlay counts as transparent outside its own extent.
type CompositeOp struct {
	Mode BlendMode
	X, Y int
}

func (o *CompositeOp) Kind() Kind { return KindComposite }
func (o *CompositeOp) arity() int { return 2 }

func (o *CompositeOp) validate() error {
	if o.Mode < BlendClear || o.Mode > BlendExclusion {
		return errorf(InvalidParameter, "composite", "unknown blend mode %d", o.Mode)
	}
	return nil
}

func (o *CompositeOp) infer(in []Descriptor) (Descriptor, error) {
	for _, d := range in {
		if err := requireUchar(KindComposite, d); err != nil {
			return Descriptor{}, err
		}
	}
	d := in[0].withBands(4)
	return d, nil
}

func (o *CompositeOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	ov := out.Sub(image.Pt(o.X, o.Y)).Intersect(ec.input(1).Bounds())
	return []image.Rectangle{out, ov}, nil
}

func (o *CompositeOp) compute(_ *evalContext, out *Region, in []*Region) error {
	bg := in[0].toRGBA()
	fg := image.NewRGBA(out.Rect)
	if ov := in[1]; ov != nil {
		src := ov.toRGBA()
		for y := ov.Rect.Min.Y; y < ov.Rect.Max.Y; y++ {
			si := src.PixOffset(ov.Rect.Min.X, y)
			di := fg.PixOffset(ov.Rect.Min.X+o.X, y+o.Y)
			copy(fg.Pix[di:di+ov.Rect.Dx()*4], src.Pix[si:])
		}
	}
	fn := blendFunc(o.Mode)
	out.storeRGBA(blend.Blend(bg, fg, fn), out.Rect.Min)
	return nil
}

func (o *CompositeOp) fingerprint(f *fingerprinter) {
	f.int(int(o.Mode))
	f.int(o.X)
	f.int(o.Y)
}

// blendFunc returns the per-pixel function for a mode, taking and returning
// straight (unpremultiplied) colours.
func blendFunc(mode BlendMode) func(b, s fcolor.RGBAF64) fcolor.RGBAF64 {
	return func(b, s fcolor.RGBAF64) fcolor.RGBAF64 {
		as, ab := s.A, b.A
		src := [3]float64{s.R, s.G, s.B}
		dst := [3]float64{b.R, b.G, b.B}
		var co [3]float64
		var ao float64

		switch mode {
		case BlendAdd, BlendSaturate:
			ao = math.Min(1, as+ab)
			if ao == 0 {
				return fcolor.RGBAF64{}
			}
			ws := as
			if mode == BlendSaturate {
				ws = math.Min(as, 1-ab)
			}
			for i := range co {
				co[i] = (ws*src[i] + ab*dst[i]) / ao
			}
			return fcolor.RGBAF64{R: co[0], G: co[1], B: co[2], A: ao}
		}

		if mode <= BlendXor {
			// Porter-Duff: coefficients of the premultiplied source and
			// destination.
			var fs, fb float64
			switch mode {
			case BlendClear:
			case BlendSource:
				fs = 1
			case BlendOver:
				fs, fb = 1, 1-as
			case BlendIn:
				fs = ab
			case BlendOut:
				fs = 1 - ab
			case BlendAtop:
				fs, fb = ab, 1-as
			case BlendDest:
				fb = 1
			case BlendDestOver:
				fs, fb = 1-ab, 1
			case BlendDestIn:
				fb = as
			case BlendDestOut:
				fb = 1 - as
			case BlendDestAtop:
				fs, fb = 1-ab, as
			case BlendXor:
				fs, fb = 1-ab, 1-as
			}
			ao = fs*as + fb*ab
			for i := range co {
				co[i] = fs*as*src[i] + fb*ab*dst[i]
			}
		} else {
			ao = as + ab*(1-as)
			for i := range co {
				co[i] = (1-ab)*as*src[i] + (1-as)*ab*dst[i] + as*ab*separable(mode, dst[i], src[i])
			}
		}

		if ao <= 0 {
			return fcolor.RGBAF64{}
		}
		return fcolor.RGBAF64{R: co[0] / ao, G: co[1] / ao, B: co[2] / ao, A: ao}
	}
}

// separable is the blend function B(cb, cs) of the separable modes.
func separable(mode BlendMode, cb, cs float64) float64 {
	switch mode {
	case BlendMultiply:
		return cb * cs
	case BlendScreen:
		return cb + cs - cb*cs
	case BlendOverlay:
		return hardLight(cs, cb)
	case BlendDarken:
		return math.Min(cb, cs)
	case BlendLighten:
		return math.Max(cb, cs)
	case BlendColourDodge:
		switch {
		case cb == 0:
			return 0
		case cs >= 1:
			return 1
		}
		return math.Min(1, cb/(1-cs))
	case BlendColourBurn:
		switch {
		case cb >= 1:
			return 1
		case cs <= 0:
			return 0
		}
		return 1 - math.Min(1, (1-cb)/cs)
	case BlendHardLight:
		return hardLight(cb, cs)
	case BlendSoftLight:
		if cs <= 0.5 {
			return cb - (1-2*cs)*cb*(1-cb)
		}
		var d float64
		if cb <= 0.25 {
			d = ((16*cb-12)*cb + 4) * cb
		} else {
			d = math.Sqrt(cb)
		}
		return cb + (2*cs-1)*(d-cb)
	case BlendDifference:
		return math.Abs(cb - cs)
	case BlendExclusion:
		return cb + cs - 2*cb*cs
	}
	return cs
}

func hardLight(cb, cs float64) float64 {
	if cs <= 0.5 {
		return cb * 2 * cs
	}
	s := 2*cs - 1
	return cb + s - cb*s
}

// SubtractOp computes the first input minus the second as float samples.
type SubtractOp struct{}

func (o *SubtractOp) Kind() Kind      { return KindSubtract }
func (o *SubtractOp) arity() int      { return 2 }
func (o *SubtractOp) validate() error { return nil }

func (o *SubtractOp) infer(in []Descriptor) (Descriptor, error) {
	a, b := in[0], in[1]
	if a.Width != b.Width || a.Height != b.Height {
		return Descriptor{}, errorf(DescriptorMismatch, "subtract", "sizes %dx%d and %dx%d differ", a.Width, a.Height, b.Width, b.Height)
	}
	if a.Bands != b.Bands {
		return Descriptor{}, errorf(DescriptorMismatch, "subtract", "band counts %d and %d differ", a.Bands, b.Bands)
	}
	a.Format = Float
	return a, nil
}

func (o *SubtractOp) demand(_ *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return []image.Rectangle{out, out}, nil
}

func (o *SubtractOp) compute(_ *evalContext, out *Region, in []*Region) error {
	var a, b []float64
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		a = in[0].rowFloats(y, out.Rect.Min.X, out.Rect.Max.X, a)
		b = in[1].rowFloats(y, out.Rect.Min.X, out.Rect.Max.X, b)
		for i := range a {
			a[i] -= b[i]
		}
		out.setRowFloats(y, out.Rect.Min.X, a)
	}
	return nil
}

func (o *SubtractOp) fingerprint(*fingerprinter) {}
