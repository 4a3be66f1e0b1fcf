package pipeline

import (
	"image"
	"math"
)

// The methods below are the host-facing way to build pipelines. Each adds
// one or more nodes and returns the id of the last; the first error from
// validation or descriptor inference is returned unchanged.

// Canvas adds a node reading c.
func (g *Graph) Canvas(c *Canvas) (NodeID, error) {
	return g.AddNode(&CanvasOp{c: c})
}

// Crop extracts a w x h area at (x, y).
func (g *Graph) Crop(in NodeID, x, y, w, h int) (NodeID, error) {
	return g.AddNode(&CropOp{Rect: image.Rect(x, y, x+w, y+h)}, in)
}

// Embed places in at (x, y) in a w x h image.
func (g *Graph) Embed(in NodeID, x, y, w, h int, extend Extend, background []float64) (NodeID, error) {
	return g.AddNode(&EmbedOp{X: x, Y: y, Width: w, Height: h, Extend: extend, Background: background}, in)
}

// Gravity is a compass position for placing an image in a larger one.
type Gravity int

const (
	GravityCentre Gravity = iota
	GravityNorth
	GravityEast
	GravitySouth
	GravityWest
	GravityNorthEast
	GravitySouthEast
	GravitySouthWest
	GravityNorthWest
)

var gravityNames = [...]string{"centre", "n", "e", "s", "w", "ne", "se", "sw", "nw"}

func (d Gravity) String() string {
	if d >= 0 && int(d) < len(gravityNames) {
		return gravityNames[d]
	}
	return "unknown"
}

// ParseGravity parses a compass name. "center" is accepted.
func ParseGravity(s string) (Gravity, error) {
	if s == "center" {
		return GravityCentre, nil
	}
	for i, n := range gravityNames {
		if n == s {
			return Gravity(i), nil
		}
	}
	return 0, errorf(InvalidParameter, "gravity", "unknown direction %q", s)
}

// offset returns where an inner extent goes within an outer one.
func (d Gravity) offset(outer, inner image.Point) image.Point {
	p := outer.Sub(inner).Div(2)
	switch d {
	case GravityNorth, GravityNorthEast, GravityNorthWest:
		p.Y = 0
	case GravitySouth, GravitySouthEast, GravitySouthWest:
		p.Y = outer.Y - inner.Y
	}
	switch d {
	case GravityWest, GravityNorthWest, GravitySouthWest:
		p.X = 0
	case GravityEast, GravityNorthEast, GravitySouthEast:
		p.X = outer.X - inner.X
	}
	return p
}

// Gravity places in within a w x h image at the compass position dir.
// A target smaller than the input crops it.
func (g *Graph) Gravity(in NodeID, dir Gravity, w, h int, extend Extend, background []float64) (NodeID, error) {
	if dir < GravityCentre || dir > GravityNorthWest {
		return -1, errorf(InvalidParameter, "gravity", "unknown direction %d", dir)
	}
	d, err := g.Descriptor(in)
	if err != nil {
		return -1, err
	}
	p := dir.offset(image.Pt(w, h), image.Pt(d.Width, d.Height))
	return g.Embed(in, p.X, p.Y, w, h, extend, background)
}

// Pad adds borders of the given widths around in.
func (g *Graph) Pad(in NodeID, top, right, bottom, left int, extend Extend, background []float64) (NodeID, error) {
	if top < 0 || right < 0 || bottom < 0 || left < 0 {
		return -1, errorf(InvalidParameter, "pad", "borders %d,%d,%d,%d must not be negative", top, right, bottom, left)
	}
	d, err := g.Descriptor(in)
	if err != nil {
		return -1, err
	}
	return g.Embed(in, left, top, d.Width+left+right, d.Height+top+bottom, extend, background)
}

// Flip mirrors in.
func (g *Graph) Flip(in NodeID, dir Direction) (NodeID, error) {
	return g.AddNode(&FlipOp{Direction: dir}, in)
}

// Rot90 rotates clockwise by a multiple of 90 degrees. Negative angles turn
// anticlockwise. A whole turn returns in itself.
func (g *Graph) Rot90(in NodeID, angle int) (NodeID, error) {
	if angle%90 != 0 {
		return -1, errorf(InvalidParameter, "rot", "angle %d is not a multiple of 90", angle)
	}
	angle = ((angle % 360) + 360) % 360
	if angle == 0 {
		if _, err := g.Node(in); err != nil {
			return -1, err
		}
		return in, nil
	}
	return g.AddNode(&RotOp{Angle: angle}, in)
}

// Rotate rotates clockwise by any angle in degrees, filling uncovered
// pixels with background.
func (g *Graph) Rotate(in NodeID, degrees float64, background []float64) (NodeID, error) {
	return g.AddNode(&RotateOp{Degrees: degrees, Background: background}, in)
}

// Resize resamples to exactly w x h.
func (g *Graph) Resize(in NodeID, w, h int, kernel Kernel) (NodeID, error) {
	return g.AddNode(&ResizeOp{Width: w, Height: h, Kernel: kernel}, in)
}

// ResizeScale resamples both axes by scale.
func (g *Graph) ResizeScale(in NodeID, scale float64, kernel Kernel) (NodeID, error) {
	if !finite(scale) || scale <= 0 {
		return -1, errorf(InvalidParameter, "resize", "scale %v must be positive", scale)
	}
	d, err := g.Descriptor(in)
	if err != nil {
		return -1, err
	}
	w := max(1, int(math.Round(float64(d.Width)*scale)))
	h := max(1, int(math.Round(float64(d.Height)*scale)))
	return g.Resize(in, w, h, kernel)
}

// ResizeToFit resamples in to the largest size that fits within w x h
// while keeping its aspect ratio.
func (g *Graph) ResizeToFit(in NodeID, w, h int, kernel Kernel) (NodeID, error) {
	if w <= 0 || h <= 0 {
		return -1, errorf(InvalidParameter, "resize", "box %dx%d must be positive", w, h)
	}
	d, err := g.Descriptor(in)
	if err != nil {
		return -1, err
	}
	fw, fh := fitSize(d.Width, d.Height, w, h)
	return g.Resize(in, fw, fh, kernel)
}

// fitSize scales w x h to fit inside bw x bh. The limiting axis matches the
// box exactly and the other is rounded, never exceeding the box.
func fitSize(w, h, bw, bh int) (int, int) {
	sx := float64(bw) / float64(w)
	sy := float64(bh) / float64(h)
	if sx <= sy {
		return bw, min(bh, max(1, int(math.Round(float64(h)*sx))))
	}
	return min(bw, max(1, int(math.Round(float64(w)*sy)))), bh
}

// fillSize scales w x h to cover bw x bh, the smaller axis matching.
func fillSize(w, h, bw, bh int) (int, int) {
	sx := float64(bw) / float64(w)
	sy := float64(bh) / float64(h)
	if sx >= sy {
		return bw, max(bh, int(math.Round(float64(h)*sx)))
	}
	return max(bw, int(math.Round(float64(w)*sy))), bh
}

// SmartCrop crops to w x h at the offset the strategy picks.
func (g *Graph) SmartCrop(in NodeID, w, h int, interesting Interesting) (NodeID, error) {
	return g.AddNode(&SmartCropOp{Width: w, Height: h, Interesting: interesting}, in)
}

// Grayscale converts to luma, keeping alpha.
func (g *Graph) Grayscale(in NodeID) (NodeID, error) {
	return g.AddNode(&GrayscaleOp{}, in)
}

// Invert inverts the colour bands.
func (g *Graph) Invert(in NodeID) (NodeID, error) {
	return g.AddNode(&InvertOp{}, in)
}

// Linear computes a*v + b per band.
func (g *Graph) Linear(in NodeID, a, b []float64) (NodeID, error) {
	d, err := g.Descriptor(in)
	if err != nil {
		return -1, err
	}
	return g.AddNode(&LinearOp{A: a, B: b, Float: d.Format == Float}, in)
}

// colourLinear is a linear transform on the colour bands that leaves alpha
// untouched.
func (g *Graph) colourLinear(op string, in NodeID, a, b float64) (NodeID, error) {
	if !finite(a, b) {
		return -1, errorf(InvalidParameter, op, "parameters must be finite")
	}
	d, err := g.Descriptor(in)
	if err != nil {
		return -1, err
	}
	as := make([]float64, d.Bands)
	bs := make([]float64, d.Bands)
	for i := range as {
		as[i] = 1
		if i < d.ColorBands() {
			as[i], bs[i] = a, b
		}
	}
	return g.AddNode(&LinearOp{A: as, B: bs, Float: d.Format == Float}, in)
}

// Brightness adds brightness*255 to the colour bands. Zero is neutral.
func (g *Graph) Brightness(in NodeID, brightness float64) (NodeID, error) {
	return g.colourLinear("brightness", in, 1, brightness*255)
}

// Contrast scales the colour bands about mid-grey. One is neutral.
func (g *Graph) Contrast(in NodeID, contrast float64) (NodeID, error) {
	if contrast < 0 {
		return -1, errorf(InvalidParameter, "contrast", "contrast %v must not be negative", contrast)
	}
	return g.colourLinear("contrast", in, contrast, 127.5*(1-contrast))
}

// Saturation scales chroma. One is neutral and zero is grey.
func (g *Graph) Saturation(in NodeID, factor float64) (NodeID, error) {
	return g.AddNode(&SaturationOp{Factor: factor}, in)
}

// Gamma applies 255*(v/255)^exponent to the colour bands.
func (g *Graph) Gamma(in NodeID, exponent float64) (NodeID, error) {
	return g.AddNode(&GammaOp{Exponent: exponent}, in)
}

// Adjust applies brightness and contrast as one linear step,
// v*contrast + 255*brightness + 127.5*(1-contrast), then saturation.
// Neutral values (0, 1, 1) add no node for that adjustment; when all are
// neutral in is returned.
func (g *Graph) Adjust(in NodeID, brightness, contrast, saturation float64) (NodeID, error) {
	if !finite(brightness, contrast, saturation) || contrast < 0 || saturation < 0 {
		return -1, errorf(InvalidParameter, "adjust", "brightness %v, contrast %v, saturation %v out of range", brightness, contrast, saturation)
	}
	if _, err := g.Node(in); err != nil {
		return -1, err
	}
	out := in
	if brightness != 0 || contrast != 1 {
		var err error
		if out, err = g.colourLinear("adjust", out, contrast, 255*brightness+127.5*(1-contrast)); err != nil {
			return -1, err
		}
	}
	if saturation == 1 {
		return out, nil
	}
	return g.Saturation(out, saturation)
}

// Cast converts the sample format.
func (g *Graph) Cast(in NodeID, format PixelFormat) (NodeID, error) {
	return g.AddNode(&CastOp{Format: format}, in)
}

// Flatten blends alpha onto background.
func (g *Graph) Flatten(in NodeID, background []float64) (NodeID, error) {
	return g.AddNode(&FlattenOp{Background: background}, in)
}

// Premultiply multiplies the colour bands by alpha/255. The result is
// float so Unpremultiply can restore the samples exactly.
func (g *Graph) Premultiply(in NodeID) (NodeID, error) {
	return g.AddNode(&PremultiplyOp{}, in)
}

// Unpremultiply divides the colour bands by alpha/255. Fully transparent
// pixels become zero. The result is float.
func (g *Graph) Unpremultiply(in NodeID) (NodeID, error) {
	return g.AddNode(&UnpremultiplyOp{}, in)
}

// SetMetadata sets one metadata field. value must be a string, int, float64
// or []byte.
func (g *Graph) SetMetadata(in NodeID, name string, value any) (NodeID, error) {
	return g.AddNode(&MetadataOp{Set: map[string]any{name: value}}, in)
}

// RemoveMetadata removes metadata fields. Missing fields are ignored.
func (g *Graph) RemoveMetadata(in NodeID, names ...string) (NodeID, error) {
	return g.AddNode(&MetadataOp{Remove: names}, in)
}

// AddAlpha appends an opaque alpha band. Images that already have alpha
// are returned unchanged.
func (g *Graph) AddAlpha(in NodeID) (NodeID, error) {
	d, err := g.Descriptor(in)
	if err != nil {
		return -1, err
	}
	if d.HasAlpha() {
		return in, nil
	}
	if d.Bands != 1 && d.Bands != 3 {
		return -1, errorf(DescriptorMismatch, "add_alpha", "cannot add alpha to %d bands", d.Bands)
	}
	return g.BandAppend(in, opaque)
}

// BandAppend appends a constant band.
func (g *Graph) BandAppend(in NodeID, value float64) (NodeID, error) {
	return g.AddNode(&BandAppendOp{Value: value}, in)
}

// BandJoin stacks the bands of b after those of a.
func (g *Graph) BandJoin(a, b NodeID) (NodeID, error) {
	return g.AddNode(&BandJoinOp{}, a, b)
}

// ExtractBand selects one band.
func (g *Graph) ExtractBand(in NodeID, band int) (NodeID, error) {
	return g.AddNode(&ExtractBandOp{Band: band}, in)
}

// EqualizeHistogram spreads each colour band over the full range.
func (g *Graph) EqualizeHistogram(in NodeID) (NodeID, error) {
	return g.AddNode(&HistEqualizeOp{}, in)
}

// Blur is a Gaussian blur.
func (g *Graph) Blur(in NodeID, sigma float64) (NodeID, error) {
	return g.AddNode(&BlurOp{Sigma: sigma}, in)
}

// Sharpen is an unsharp mask.
func (g *Graph) Sharpen(in NodeID, radius, amount float64) (NodeID, error) {
	return g.AddNode(&SharpenOp{Radius: radius, Amount: amount}, in)
}

// Sobel is the gradient magnitude per band.
func (g *Graph) Sobel(in NodeID) (NodeID, error) {
	return g.AddNode(&SobelOp{}, in)
}

// Canny detects edges. Zero thresholds select the defaults.
func (g *Graph) Canny(in NodeID, sigma, low, high float64) (NodeID, error) {
	if low == 0 && high == 0 {
		low, high = DefaultCannyLow, DefaultCannyHigh
	}
	return g.AddNode(&CannyOp{Sigma: sigma, Low: low, High: high}, in)
}

// Composite draws overlay over base at (x, y) with the given mode.
func (g *Graph) Composite(base, overlay NodeID, mode BlendMode, x, y int) (NodeID, error) {
	return g.AddNode(&CompositeOp{Mode: mode, X: x, Y: y}, base, overlay)
}

// Subtract computes a - b as float samples.
func (g *Graph) Subtract(a, b NodeID) (NodeID, error) {
	return g.AddNode(&SubtractOp{}, a, b)
}

// Abs takes the absolute value of every sample.
func (g *Graph) Abs(in NodeID) (NodeID, error) {
	return g.AddNode(&AbsOp{}, in)
}
