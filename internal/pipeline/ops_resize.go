package pipeline

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Kernel is a resampling filter.
type Kernel int

const (
	KernelNearest Kernel = iota
	KernelLinear
	KernelCubic
	KernelLanczos2
	KernelLanczos3
)

var kernelNames = [...]string{"nearest", "linear", "cubic", "lanczos2", "lanczos3"}

func (k Kernel) String() string {
	if k >= 0 && int(k) < len(kernelNames) {
		return kernelNames[k]
	}
	return "unknown"
}

// ParseKernel parses a kernel name.
func ParseKernel(s string) (Kernel, error) {
	for i, n := range kernelNames {
		if n == s {
			return Kernel(i), nil
		}
	}
	return 0, errorf(InvalidParameter, "resize", "unknown kernel %q", s)
}

var lanczos2 = imaging.ResampleFilter{
	Support: 2.0,
	Kernel: func(x float64) float64 {
		x = math.Abs(x)
		if x < 2.0 {
			return sinc(x) * sinc(x/2.0)
		}
		return 0
	},
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func (k Kernel) filter() imaging.ResampleFilter {
	switch k {
	case KernelLinear:
		return imaging.Linear
	case KernelCubic:
		return imaging.CatmullRom
	case KernelLanczos2:
		return lanczos2
	case KernelLanczos3:
		return imaging.Lanczos
	}
	return imaging.NearestNeighbor
}

// ResizeOp resamples its input to Width x Height. Each output pixel depends
// only on the input pixels under its kernel, so tiles resample exactly as
// the whole image would.
type ResizeOp struct {
	Width, Height int
	Kernel        Kernel
}

func (o *ResizeOp) Kind() Kind { return KindResize }
func (o *ResizeOp) arity() int { return 1 }

func (o *ResizeOp) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return errorf(InvalidParameter, "resize", "target %dx%d must be positive", o.Width, o.Height)
	}
	if o.Kernel < KernelNearest || o.Kernel > KernelLanczos3 {
		return errorf(InvalidParameter, "resize", "unknown kernel %d", o.Kernel)
	}
	return nil
}

func (o *ResizeOp) infer(in []Descriptor) (Descriptor, error) {
	return in[0].withSize(o.Width, o.Height), nil
}

// tap is the weighted input span of one output coordinate.
type tap struct {
	start   int
	weights []float64
}

// taps computes the kernel taps for output coordinates [lo, hi) of an axis
// scaling n input samples to m output samples.
func (o *ResizeOp) taps(lo, hi, n, m int) []tap {
	du := float64(n) / float64(m)
	out := make([]tap, hi-lo)

	if o.Kernel == KernelNearest {
		for v := lo; v < hi; v++ {
			j := min(max(int((float64(v)+0.5)*du), 0), n-1)
			out[v-lo] = tap{start: j, weights: []float64{1}}
		}
		return out
	}

	f := o.Kernel.filter()
	scale := math.Max(du, 1)
	support := f.Support * scale
	for v := lo; v < hi; v++ {
		fu := (float64(v)+0.5)*du - 0.5
		j0 := max(int(math.Ceil(fu-support)), 0)
		j1 := min(int(math.Floor(fu+support)), n-1)
		if j1 < j0 {
			j := min(max(int(math.Round(fu)), 0), n-1)
			out[v-lo] = tap{start: j, weights: []float64{1}}
			continue
		}
		w := make([]float64, j1-j0+1)
		sum := 0.0
		for j := j0; j <= j1; j++ {
			w[j-j0] = f.Kernel((float64(j) - fu) / scale)
			sum += w[j-j0]
		}
		if sum == 0 {
			j := min(max(int(math.Round(fu)), 0), n-1)
			out[v-lo] = tap{start: j, weights: []float64{1}}
			continue
		}
		for i := range w {
			w[i] /= sum
		}
		out[v-lo] = tap{start: j0, weights: w}
	}
	return out
}

func tapSpan(ts []tap) (lo, hi int) {
	lo, hi = math.MaxInt, 0
	for _, t := range ts {
		lo = min(lo, t.start)
		hi = max(hi, t.start+len(t.weights))
	}
	return lo, hi
}

func (o *ResizeOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	d := ec.input(0)
	x0, x1 := tapSpan(o.taps(out.Min.X, out.Max.X, d.Width, o.Width))
	y0, y1 := tapSpan(o.taps(out.Min.Y, out.Max.Y, d.Height, o.Height))
	return single(image.Rect(x0, y0, x1, y1)), nil
}

func (o *ResizeOp) compute(ec *evalContext, out *Region, in []*Region) error {
	d := ec.input(0)
	src := in[0]
	bands := out.Bands
	xt := o.taps(out.Rect.Min.X, out.Rect.Max.X, d.Width, o.Width)
	yt := o.taps(out.Rect.Min.Y, out.Rect.Max.Y, d.Height, o.Height)
	ow := out.Rect.Dx()

	// Horizontal pass over every input row the vertical pass needs.
	rows := make([][]float64, src.Rect.Dy())
	var line []float64
	for y := src.Rect.Min.Y; y < src.Rect.Max.Y; y++ {
		line = src.rowFloats(y, src.Rect.Min.X, src.Rect.Max.X, line)
		row := make([]float64, ow*bands)
		for i, t := range xt {
			acc := row[i*bands : (i+1)*bands]
			for k, w := range t.weights {
				s := line[(t.start+k-src.Rect.Min.X)*bands:]
				for b := range acc {
					acc[b] += w * s[b]
				}
			}
		}
		rows[y-src.Rect.Min.Y] = row
	}

	res := make([]float64, ow*bands)
	for j, t := range yt {
		clear(res)
		for k, w := range t.weights {
			row := rows[t.start+k-src.Rect.Min.Y]
			for i, v := range row {
				res[i] += w * v
			}
		}
		out.setRowFloats(out.Rect.Min.Y+j, out.Rect.Min.X, res)
	}
	return nil
}

func (o *ResizeOp) fingerprint(f *fingerprinter) {
	f.int(o.Width)
	f.int(o.Height)
	f.int(int(o.Kernel))
}
