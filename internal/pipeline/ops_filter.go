package pipeline

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/convolution"
	"github.com/anthonynsimon/bild/effect"
)

// Neighbourhood operations read past the requested rectangle by their
// support radius. Pixels beyond the image edge repeat the nearest edge pixel
// (clamp), both in this package and in the convolution library, so a tile
// computes exactly what the whole image would.

// BlurOp is a Gaussian blur with standard deviation Sigma.
type BlurOp struct {
	Sigma float64
}

func (o *BlurOp) Kind() Kind { return KindBlur }
func (o *BlurOp) arity() int { return 1 }

func (o *BlurOp) validate() error {
	if !finite(o.Sigma) || o.Sigma <= 0 {
		return errorf(InvalidParameter, "blur", "sigma %v must be positive", o.Sigma)
	}
	return nil
}

func (o *BlurOp) infer(in []Descriptor) (Descriptor, error) {
	if err := requireUchar(KindBlur, in[0]); err != nil {
		return Descriptor{}, err
	}
	return in[0], nil
}

func (o *BlurOp) radius() int {
	return int(math.Ceil(3 * o.Sigma))
}

func (o *BlurOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return single(pad(out, o.radius(), ec.input(0).Bounds())), nil
}

// gaussianKernel returns a normalised one-dimensional Gaussian of the given
// radius.
func gaussianKernel(sigma float64, r int) *convolution.Kernel {
	k := convolution.NewKernel(2*r+1, 1)
	sum := 0.0
	for i := range k.Matrix {
		x := float64(i - r)
		k.Matrix[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += k.Matrix[i]
	}
	for i := range k.Matrix {
		k.Matrix[i] /= sum
	}
	return k
}

func (o *BlurOp) compute(_ *evalContext, out *Region, in []*Region) error {
	k := gaussianKernel(o.Sigma, o.radius())
	h := convolution.Convolve(in[0].toRGBA(), k, nil)
	v := convolution.Convolve(h, k.Transposed(), nil)
	out.storeRGBA(v, in[0].Rect.Min)
	return nil
}

func (o *BlurOp) fingerprint(f *fingerprinter) { f.float(o.Sigma) }

// SharpenOp is an unsharp mask: the input plus Amount times its difference
// from a blur of Radius.
type SharpenOp struct {
	Radius float64
	Amount float64
}

func (o *SharpenOp) Kind() Kind { return KindSharpen }
func (o *SharpenOp) arity() int { return 1 }

func (o *SharpenOp) validate() error {
	if !finite(o.Radius, o.Amount) || o.Radius <= 0 {
		return errorf(InvalidParameter, "sharpen", "radius %v must be positive", o.Radius)
	}
	if o.Amount < 0 || o.Amount > 10 {
		return errorf(InvalidParameter, "sharpen", "amount %v outside [0, 10]", o.Amount)
	}
	return nil
}

func (o *SharpenOp) infer(in []Descriptor) (Descriptor, error) {
	if err := requireUchar(KindSharpen, in[0]); err != nil {
		return Descriptor{}, err
	}
	return in[0], nil
}

// support covers the blur the mask is built from, which spans five times
// the radius on each side.
func (o *SharpenOp) support() int {
	return int(math.Ceil(10*o.Radius+1))/2 + 1
}

func (o *SharpenOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return single(pad(out, o.support(), ec.input(0).Bounds())), nil
}

func (o *SharpenOp) compute(_ *evalContext, out *Region, in []*Region) error {
	out.storeRGBA(effect.UnsharpMask(in[0].toRGBA(), o.Radius, o.Amount), in[0].Rect.Min)
	return nil
}

func (o *SharpenOp) fingerprint(f *fingerprinter) {
	f.float(o.Radius)
	f.float(o.Amount)
}

// SobelOp is the Sobel gradient magnitude of each band.
type SobelOp struct{}

func (o *SobelOp) Kind() Kind      { return KindSobel }
func (o *SobelOp) arity() int      { return 1 }
func (o *SobelOp) validate() error { return nil }

func (o *SobelOp) infer(in []Descriptor) (Descriptor, error) {
	if err := requireUchar(KindSobel, in[0]); err != nil {
		return Descriptor{}, err
	}
	return in[0], nil
}

func (o *SobelOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return single(pad(out, 1, ec.input(0).Bounds())), nil
}

func (o *SobelOp) compute(_ *evalContext, out *Region, in []*Region) error {
	out.storeRGBA(effect.Sobel(in[0].toRGBA()), in[0].Rect.Min)
	return nil
}

func (o *SobelOp) fingerprint(*fingerprinter) {}

// Canny defaults.
const (
	DefaultCannySigma = 1.4
	DefaultCannyLow   = 50
	DefaultCannyHigh  = 150
)

// CannyOp performs Canny edge detection, producing a one-band image where
// edges are 255 and everything else is 0.
//
// # Algorithm
//
//  1. Grayscale conversion using Rec. 709 luma on the colour bands.
//
//  2. Gaussian blur with standard deviation Sigma, radius ceil(3*Sigma).
//     A zero Sigma skips the blur.
//
//  3. Sobel gradients: magnitude = sqrt(Gx² + Gy²), direction = atan2(Gy, Gx).
//
//  4. Non-maximum suppression: keep a pixel only if its magnitude is a local
//     maximum along the gradient direction. Pixels on the image border are
//     always suppressed.
//
//  5. Hysteresis: magnitudes at or above High are edges; magnitudes at or
//     above Low are edges when one of their eight neighbours is at or above
//     High.
//
// Thresholds are on the 0-255 luma scale. Lower thresholds find more edges
// and more noise. Typical starting points are 50/150 for clean diagrams and
// 100/200 for photographs.
type CannyOp struct {
	Sigma     float64
	Low, High float64
}

func (o *CannyOp) Kind() Kind { return KindCanny }
func (o *CannyOp) arity() int { return 1 }

func (o *CannyOp) validate() error {
	if !finite(o.Sigma, o.Low, o.High) || o.Sigma < 0 {
		return errorf(InvalidParameter, "canny", "sigma %v must not be negative", o.Sigma)
	}
	if o.Low < 0 || o.High < o.Low {
		return errorf(InvalidParameter, "canny", "thresholds need 0 <= low <= high, got %v and %v", o.Low, o.High)
	}
	return nil
}

func (o *CannyOp) infer(in []Descriptor) (Descriptor, error) {
	d := NewDescriptor(in[0].Width, in[0].Height, 1, Uchar)
	d.SourceFormat = in[0].SourceFormat
	return d, nil
}

func (o *CannyOp) radius() int {
	return int(math.Ceil(3 * o.Sigma))
}

// Blur radius, one pixel each for the gradient, the suppression and the
// hysteresis neighbourhood.
func (o *CannyOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return single(pad(out, o.radius()+3, ec.input(0).Bounds())), nil
}

// plane is a float image over a rectangle in global coordinates. Reads
// outside the rectangle clamp to its edge.
type plane struct {
	rect image.Rectangle
	v    []float64
}

func newPlane(r image.Rectangle) *plane {
	return &plane{rect: r, v: make([]float64, r.Dx()*r.Dy())}
}

func (p *plane) at(x, y int) float64 {
	x = min(max(x, p.rect.Min.X), p.rect.Max.X-1)
	y = min(max(y, p.rect.Min.Y), p.rect.Max.Y-1)
	return p.v[(y-p.rect.Min.Y)*p.rect.Dx()+x-p.rect.Min.X]
}

func (p *plane) set(x, y int, v float64) {
	p.v[(y-p.rect.Min.Y)*p.rect.Dx()+x-p.rect.Min.X] = v
}

func (o *CannyOp) compute(ec *evalContext, out *Region, in []*Region) error {
	d := ec.input(0)
	src := in[0]
	r := src.Rect

	// Grayscale
	grey := newPlane(r)
	var px []float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			px = src.PixelAt(x, y, px)
			red, green, blue := colorOf(px, d)
			grey.set(x, y, luma(red, green, blue))
		}
	}

	// Blur, separably.
	blurred := grey
	if rad := o.radius(); rad > 0 {
		k := gaussianKernel(o.Sigma, rad).Matrix
		tmp := newPlane(r)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				var s float64
				for i, w := range k {
					s += w * grey.at(x+i-rad, y)
				}
				tmp.set(x, y, s)
			}
		}
		blurred = newPlane(r)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				var s float64
				for i, w := range k {
					s += w * tmp.at(x, y+i-rad)
				}
				blurred.set(x, y, s)
			}
		}
	}

	// Gradients
	magnitude := newPlane(r)
	direction := newPlane(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			b := func(dx, dy int) float64 { return blurred.at(x+dx, y+dy) }
			gx := -b(-1, -1) + b(1, -1) - 2*b(-1, 0) + 2*b(1, 0) - b(-1, 1) + b(1, 1)
			gy := -b(-1, -1) - 2*b(0, -1) - b(1, -1) + b(-1, 1) + 2*b(0, 1) + b(1, 1)
			magnitude.set(x, y, math.Sqrt(gx*gx+gy*gy))
			direction.set(x, y, math.Atan2(gy, gx))
		}
	}

	// Non-maximum suppression
	suppressed := newPlane(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if y == 0 || y == d.Height-1 || x == 0 || x == d.Width-1 {
				continue
			}
			angle := direction.at(x, y)
			mag := magnitude.at(x, y)

			var n1, n2 float64
			switch {
			case (angle >= -math.Pi/8 && angle < math.Pi/8) || (angle >= 7*math.Pi/8 || angle < -7*math.Pi/8):
				n1, n2 = magnitude.at(x-1, y), magnitude.at(x+1, y)
			case (angle >= math.Pi/8 && angle < 3*math.Pi/8) || (angle >= -7*math.Pi/8 && angle < -5*math.Pi/8):
				n1, n2 = magnitude.at(x+1, y-1), magnitude.at(x-1, y+1)
			case (angle >= 3*math.Pi/8 && angle < 5*math.Pi/8) || (angle >= -5*math.Pi/8 && angle < -3*math.Pi/8):
				n1, n2 = magnitude.at(x, y-1), magnitude.at(x, y+1)
			default:
				n1, n2 = magnitude.at(x-1, y-1), magnitude.at(x+1, y+1)
			}
			if mag >= n1 && mag >= n2 {
				suppressed.set(x, y, mag)
			}
		}
	}

	// Double threshold and edge tracking by hysteresis
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			val := suppressed.at(x, y)
			edge := val >= o.High
			if !edge && val >= o.Low {
				for ky := -1; ky <= 1 && !edge; ky++ {
					for kx := -1; kx <= 1 && !edge; kx++ {
						edge = suppressed.at(x+kx, y+ky) >= o.High
					}
				}
			}
			if edge {
				out.Pix[out.offset(x, y)] = 255
			}
		}
	}
	return nil
}

func (o *CannyOp) fingerprint(f *fingerprinter) {
	f.float(o.Sigma)
	f.float(o.Low)
	f.float(o.High)
}
