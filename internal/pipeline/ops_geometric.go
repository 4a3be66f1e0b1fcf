package pipeline

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// CropOp extracts Rect from its input.
type CropOp struct {
	Rect image.Rectangle
}

func (o *CropOp) Kind() Kind { return KindCrop }
func (o *CropOp) arity() int { return 1 }

func (o *CropOp) validate() error {
	if o.Rect.Dx() <= 0 || o.Rect.Dy() <= 0 {
		return errorf(InvalidParameter, "crop", "area %v must be non-empty", o.Rect)
	}
	return nil
}

func (o *CropOp) infer(in []Descriptor) (Descriptor, error) {
	if !o.Rect.In(in[0].Bounds()) {
		return Descriptor{}, errorf(OutOfBounds, "crop", "area %v outside %dx%d", o.Rect, in[0].Width, in[0].Height)
	}
	return in[0].withSize(o.Rect.Dx(), o.Rect.Dy()), nil
}

func (o *CropOp) demand(_ *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return single(out.Add(o.Rect.Min)), nil
}

func (o *CropOp) compute(_ *evalContext, out *Region, in []*Region) error {
	out.copyFrom(in[0], o.Rect.Min.X, o.Rect.Min.Y)
	return nil
}

func (o *CropOp) fingerprint(f *fingerprinter) { f.rect(o.Rect) }

// Extend says how Embed fills pixels outside its input.
type Extend int

const (
	// ExtendBlack fills with zero in every band.
	ExtendBlack Extend = iota
	// ExtendCopy repeats the nearest edge pixel.
	ExtendCopy
	// ExtendRepeat tiles the input.
	ExtendRepeat
	// ExtendMirror tiles the input, reflecting alternate copies.
	ExtendMirror
	// ExtendWhite fills with 255 in every band.
	ExtendWhite
	// ExtendBackground fills with the Background colour.
	ExtendBackground
)

var extendNames = [...]string{"black", "copy", "repeat", "mirror", "white", "background"}

func (e Extend) String() string {
	if e >= 0 && int(e) < len(extendNames) {
		return extendNames[e]
	}
	return "unknown"
}

// ParseExtend parses an extend mode name.
func ParseExtend(s string) (Extend, error) {
	for i, n := range extendNames {
		if n == s {
			return Extend(i), nil
		}
	}
	return 0, errorf(InvalidParameter, "embed", "unknown extend mode %q", s)
}

// EmbedOp places its input at (X, Y) in a Width x Height image.
type EmbedOp struct {
	X, Y          int
	Width, Height int
	Extend        Extend
	Background    []float64
}

func (o *EmbedOp) Kind() Kind { return KindEmbed }
func (o *EmbedOp) arity() int { return 1 }

func (o *EmbedOp) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return errorf(InvalidParameter, "embed", "size %dx%d must be positive", o.Width, o.Height)
	}
	if o.Extend < ExtendBlack || o.Extend > ExtendBackground {
		return errorf(InvalidParameter, "embed", "unknown extend mode %d", o.Extend)
	}
	return nil
}

func (o *EmbedOp) infer(in []Descriptor) (Descriptor, error) {
	if _, err := o.fill(in[0]); err != nil {
		return Descriptor{}, err
	}
	return in[0].withSize(o.Width, o.Height), nil
}

// fill returns the constant pixel for the extend mode, or nil when pixels
// outside the input are copied from it.
func (o *EmbedOp) fill(d Descriptor) ([]float64, error) {
	switch o.Extend {
	case ExtendBlack:
		return make([]float64, d.Bands), nil
	case ExtendWhite:
		return expandPixel("embed", []float64{opaque}, d)
	case ExtendBackground:
		return expandPixel("embed", o.Background, d)
	}
	return nil, nil
}

// source maps an output coordinate on one axis to an input coordinate, or
// -1 when the pixel is filled with a constant.
func (o *EmbedOp) source(u, offset, n int) int {
	v := u - offset
	if v >= 0 && v < n {
		return v
	}
	switch o.Extend {
	case ExtendCopy:
		return min(max(v, 0), n-1)
	case ExtendRepeat:
		return ((v % n) + n) % n
	case ExtendMirror:
		m := ((v % (2 * n)) + 2*n) % (2 * n)
		if m >= n {
			m = 2*n - 1 - m
		}
		return m
	}
	return -1
}

func (o *EmbedOp) axis(lo, hi, offset, n int) []int {
	m := make([]int, hi-lo)
	for u := lo; u < hi; u++ {
		m[u-lo] = o.source(u, offset, n)
	}
	return m
}

func span(m []int) (lo, hi int, ok bool) {
	lo, hi = math.MaxInt, -1
	for _, v := range m {
		if v < 0 {
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	return lo, hi + 1, hi >= 0
}

func (o *EmbedOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	d := ec.input(0)
	x0, x1, okx := span(o.axis(out.Min.X, out.Max.X, o.X, d.Width))
	y0, y1, oky := span(o.axis(out.Min.Y, out.Max.Y, o.Y, d.Height))
	if !okx || !oky {
		return []image.Rectangle{{}}, nil
	}
	return single(image.Rect(x0, y0, x1, y1)), nil
}

func (o *EmbedOp) compute(ec *evalContext, out *Region, in []*Region) error {
	d := ec.input(0)
	fill, err := o.fill(d)
	if err != nil {
		return err
	}
	var bg []byte
	if fill != nil {
		bg = encodePixel(fill, out.Format)
	}
	xs := o.axis(out.Rect.Min.X, out.Rect.Max.X, o.X, d.Width)
	ys := o.axis(out.Rect.Min.Y, out.Rect.Max.Y, o.Y, d.Height)
	for j, sy := range ys {
		y := out.Rect.Min.Y + j
		for i, sx := range xs {
			dst := out.pixelBytes(out.Rect.Min.X+i, y)
			if sx < 0 || sy < 0 {
				copy(dst, bg)
				continue
			}
			copy(dst, in[0].pixelBytes(sx, sy))
		}
	}
	return nil
}

func (o *EmbedOp) fingerprint(f *fingerprinter) {
	f.int(o.X)
	f.int(o.Y)
	f.int(o.Width)
	f.int(o.Height)
	f.int(int(o.Extend))
	f.floats(o.Background)
}

// Direction is a flip axis.
type Direction int

const (
	// Horizontal mirrors left and right.
	Horizontal Direction = iota
	// Vertical mirrors top and bottom.
	Vertical
)

// FlipOp mirrors its input.
type FlipOp struct {
	Direction Direction
}

func (o *FlipOp) Kind() Kind { return KindFlip }
func (o *FlipOp) arity() int { return 1 }

func (o *FlipOp) validate() error {
	if o.Direction != Horizontal && o.Direction != Vertical {
		return errorf(InvalidParameter, "flip", "unknown direction %d", o.Direction)
	}
	return nil
}

func (o *FlipOp) infer(in []Descriptor) (Descriptor, error) { return in[0], nil }

func (o *FlipOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	d := ec.input(0)
	if o.Direction == Horizontal {
		return single(image.Rect(d.Width-out.Max.X, out.Min.Y, d.Width-out.Min.X, out.Max.Y)), nil
	}
	return single(image.Rect(out.Min.X, d.Height-out.Max.Y, out.Max.X, d.Height-out.Min.Y)), nil
}

func (o *FlipOp) compute(ec *evalContext, out *Region, in []*Region) error {
	d := ec.input(0)
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			sx, sy := d.Width-1-x, y
			if o.Direction == Vertical {
				sx, sy = x, d.Height-1-y
			}
			copy(out.pixelBytes(x, y), in[0].pixelBytes(sx, sy))
		}
	}
	return nil
}

func (o *FlipOp) fingerprint(f *fingerprinter) { f.int(int(o.Direction)) }

// RotOp rotates clockwise by a multiple of 90 degrees.
type RotOp struct {
	Angle int
}

func (o *RotOp) Kind() Kind { return KindRot }
func (o *RotOp) arity() int { return 1 }

func (o *RotOp) validate() error {
	switch o.Angle {
	case 0, 90, 180, 270:
		return nil
	}
	return errorf(InvalidParameter, "rot", "angle %d is not a multiple of 90 in [0, 270]", o.Angle)
}

func (o *RotOp) infer(in []Descriptor) (Descriptor, error) {
	if o.Angle == 90 || o.Angle == 270 {
		return in[0].withSize(in[0].Height, in[0].Width), nil
	}
	return in[0], nil
}

// source maps an output pixel to its input pixel.
func (o *RotOp) source(x, y int, d Descriptor) (int, int) {
	switch o.Angle {
	case 90:
		return y, d.Height - 1 - x
	case 180:
		return d.Width - 1 - x, d.Height - 1 - y
	case 270:
		return d.Width - 1 - y, x
	}
	return x, y
}

func (o *RotOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	d := ec.input(0)
	switch o.Angle {
	case 90:
		return single(image.Rect(out.Min.Y, d.Height-out.Max.X, out.Max.Y, d.Height-out.Min.X)), nil
	case 180:
		return single(image.Rect(d.Width-out.Max.X, d.Height-out.Max.Y, d.Width-out.Min.X, d.Height-out.Min.Y)), nil
	case 270:
		return single(image.Rect(d.Width-out.Max.Y, out.Min.X, d.Width-out.Min.Y, out.Max.X)), nil
	}
	return single(out), nil
}

func (o *RotOp) compute(ec *evalContext, out *Region, in []*Region) error {
	d := ec.input(0)
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		for x := out.Rect.Min.X; x < out.Rect.Max.X; x++ {
			sx, sy := o.source(x, y, d)
			copy(out.pixelBytes(x, y), in[0].pixelBytes(sx, sy))
		}
	}
	return nil
}

func (o *RotOp) fingerprint(f *fingerprinter) { f.int(o.Angle) }

// RotateOp rotates by an arbitrary angle in degrees, clockwise for positive
// angles, about the image centre. The output grows to hold the whole rotated
// image and uncovered pixels take Background.
type RotateOp struct {
	Degrees    float64
	Background []float64
}

func (o *RotateOp) Kind() Kind { return KindRotate }
func (o *RotateOp) arity() int { return 1 }

func (o *RotateOp) validate() error {
	if math.IsNaN(o.Degrees) || math.IsInf(o.Degrees, 0) {
		return errorf(InvalidParameter, "rotate", "angle %v is not finite", o.Degrees)
	}
	return nil
}

func (o *RotateOp) infer(in []Descriptor) (Descriptor, error) {
	if err := requireUchar(KindRotate, in[0]); err != nil {
		return Descriptor{}, err
	}
	if _, err := expandPixel("rotate", o.Background, in[0]); err != nil {
		return Descriptor{}, err
	}
	w, h := o.size(in[0])
	return in[0].withSize(w, h), nil
}

func (o *RotateOp) sincos() (float64, float64) {
	return math.Sincos(o.Degrees * math.Pi / 180)
}

func (o *RotateOp) size(d Descriptor) (int, int) {
	sin, cos := o.sincos()
	sin, cos = math.Abs(sin), math.Abs(cos)
	fw, fh := float64(d.Width), float64(d.Height)
	w := int(math.Ceil(fw*cos + fh*sin - 1e-7))
	h := int(math.Ceil(fw*sin + fh*cos - 1e-7))
	return max(w, 1), max(h, 1)
}

// transform returns the matrix mapping input coordinates to output
// coordinates, and its inverse.
func (o *RotateOp) transform(d Descriptor) (fwd, inv f64.Aff3) {
	sin, cos := o.sincos()
	w, h := o.size(d)
	cix, ciy := float64(d.Width)/2, float64(d.Height)/2
	cox, coy := float64(w)/2, float64(h)/2
	fwd = f64.Aff3{
		cos, -sin, cox - cos*cix + sin*ciy,
		sin, cos, coy - sin*cix - cos*ciy,
	}
	inv = f64.Aff3{
		cos, sin, cix - cos*cox - sin*coy,
		-sin, cos, ciy + sin*cox - cos*coy,
	}
	return fwd, inv
}

func (o *RotateOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	d := ec.input(0)
	_, inv := o.transform(d)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range [][2]float64{
		{float64(out.Min.X), float64(out.Min.Y)},
		{float64(out.Max.X), float64(out.Min.Y)},
		{float64(out.Min.X), float64(out.Max.Y)},
		{float64(out.Max.X), float64(out.Max.Y)},
	} {
		x := inv[0]*p[0] + inv[1]*p[1] + inv[2]
		y := inv[3]*p[0] + inv[4]*p[1] + inv[5]
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	r := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
	r = pad(r, 2, d.Bounds())
	if r.Empty() {
		return []image.Rectangle{{}}, nil
	}
	return single(r), nil
}

func (o *RotateOp) compute(ec *evalContext, out *Region, in []*Region) error {
	d := ec.input(0)
	bg, err := expandPixel("rotate", o.Background, d)
	if err != nil {
		return err
	}
	dst := image.NewRGBA(out.Rect)
	draw.Draw(dst, dst.Rect, &image.Uniform{C: color.RGBA(rgbaColor(bg))}, image.Point{}, draw.Src)
	if in[0] != nil {
		fwd, _ := o.transform(d)
		src := in[0].toRGBA()
		draw.BiLinear.Transform(dst, fwd, src, src.Rect, draw.Src, nil)
	}
	out.storeRGBA(dst, out.Rect.Min)
	return nil
}

func (o *RotateOp) fingerprint(f *fingerprinter) {
	f.float(o.Degrees)
	f.floats(o.Background)
}
