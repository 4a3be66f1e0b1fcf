package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"sync/atomic"

	"github.com/ironsheep/image-pipeline/internal/cache"
	"github.com/ironsheep/image-pipeline/internal/memory"
)

// Region holds computed pixels for a rectangle of a node's output, in the
// node's global coordinates.
//
// Regions are reference counted. The producer hands one reference to the
// caller; Release returns the memory to the accountant once the last
// reference is gone. A region obtained from the cache is shared and must
// not be written to.
type Region struct {
	Rect   image.Rectangle
	Bands  int
	Format PixelFormat
	Pix    []byte
	// Stride is the distance in bytes between vertically adjacent pixels.
	Stride int

	refs atomic.Int32
	acct *memory.Accountant
	size int64
}

// NewRegion allocates a zeroed region recorded against acct.
func NewRegion(acct *memory.Accountant, r image.Rectangle, bands int, format PixelFormat) (*Region, error) {
	if r.Empty() || bands <= 0 {
		return nil, errorf(InvalidParameter, "region", "cannot allocate %v with %d bands", r, bands)
	}
	stride := r.Dx() * bands * format.SampleSize()
	size := int64(stride) * int64(r.Dy())
	if acct != nil {
		if err := acct.Alloc(size); err != nil {
			if errors.Is(err, memory.ErrLimitExceeded) {
				return nil, wrapError(OutOfMemory, "region", err)
			}
			return nil, err
		}
	}
	reg := &Region{
		Rect:   r,
		Bands:  bands,
		Format: format,
		Pix:    make([]byte, size),
		Stride: stride,
		acct:   acct,
		size:   size,
	}
	reg.refs.Store(1)
	return reg, nil
}

// Size returns the bytes held by the region.
func (r *Region) Size() int64 {
	return r.size
}

// Retain adds a reference.
func (r *Region) Retain() {
	r.refs.Add(1)
}

// Release drops a reference, freeing the pixels when none remain.
func (r *Region) Release() {
	if r.refs.Add(-1) != 0 {
		return
	}
	r.Pix = nil
	if r.acct != nil {
		r.acct.Free(r.size)
	}
}

// WriteTo writes the raw pixel bytes.
func (r *Region) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.Pix)
	return int64(n), err
}

// Restore builds a new region with r's shape from raw pixel bytes.
func (r *Region) Restore(src io.Reader) (cache.Value, error) {
	out, err := NewRegion(r.acct, r.Rect, r.Bands, r.Format)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(src, out.Pix); err != nil {
		out.Release()
		return nil, fmt.Errorf("restore region: %w", err)
	}
	return out, nil
}

func (r *Region) offset(x, y int) int {
	return (y-r.Rect.Min.Y)*r.Stride + (x-r.Rect.Min.X)*r.Bands*r.Format.SampleSize()
}

// At returns sample b of the pixel at global (x, y).
func (r *Region) At(x, y, b int) float64 {
	i := r.offset(x, y)
	if r.Format == Uchar {
		return float64(r.Pix[i+b])
	}
	i += b * 4
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(r.Pix[i:])))
}

// Set stores sample b of the pixel at global (x, y). Uchar samples are
// rounded and clamped to [0, 255].
func (r *Region) Set(x, y, b int, v float64) {
	i := r.offset(x, y)
	if r.Format == Uchar {
		r.Pix[i+b] = clampUint8(v)
		return
	}
	i += b * 4
	binary.LittleEndian.PutUint32(r.Pix[i:], math.Float32bits(float32(v)))
}

// PixelAt fills dst with the samples at (x, y) and returns it.
func (r *Region) PixelAt(x, y int, dst []float64) []float64 {
	if cap(dst) < r.Bands {
		dst = make([]float64, r.Bands)
	}
	dst = dst[:r.Bands]
	for b := range dst {
		dst[b] = r.At(x, y, b)
	}
	return dst
}

// SetPixel stores px at (x, y).
func (r *Region) SetPixel(x, y int, px []float64) {
	for b := 0; b < r.Bands && b < len(px); b++ {
		r.Set(x, y, b, px[b])
	}
}

// copyFrom copies the pixels of src that fall inside both regions, with
// src's pixel (x+dx, y+dy) landing at r's (x, y). Shapes must match.
func (r *Region) copyFrom(src *Region, dx, dy int) {
	area := r.Rect.Intersect(src.Rect.Sub(image.Pt(dx, dy)))
	if area.Empty() {
		return
	}
	n := area.Dx() * r.Bands * r.Format.SampleSize()
	for y := area.Min.Y; y < area.Max.Y; y++ {
		di := r.offset(area.Min.X, y)
		si := src.offset(area.Min.X+dx, y+dy)
		copy(r.Pix[di:di+n], src.Pix[si:si+n])
	}
}

// fill sets every pixel to px.
func (r *Region) fill(px []float64) {
	for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
		for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
			r.SetPixel(x, y, px)
		}
	}
}

func clampUint8(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

// toRGBA converts a Uchar region of 1 to 4 bands into an RGBA image with the
// same bounds. Samples are stored unpremultiplied: grey is replicated into
// R, G and B, and missing alpha is 255.
func (r *Region) toRGBA() *image.RGBA {
	img := image.NewRGBA(r.Rect)
	w, h := r.Rect.Dx(), r.Rect.Dy()
	for y := 0; y < h; y++ {
		src := r.Pix[y*r.Stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			s := src[x*r.Bands:]
			d := dst[x*4 : x*4+4]
			switch r.Bands {
			case 1:
				d[0], d[1], d[2], d[3] = s[0], s[0], s[0], 255
			case 2:
				d[0], d[1], d[2], d[3] = s[0], s[0], s[0], s[1]
			case 3:
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 255
			default:
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
			}
		}
	}
	return img
}

// storeRGBA copies img into r, reading img's first pixel as the pixel at
// global origin. Grey regions take the red channel.
func (r *Region) storeRGBA(img *image.RGBA, origin image.Point) {
	area := r.Rect.Intersect(image.Rectangle{Min: origin, Max: origin.Add(img.Rect.Size())})
	for y := area.Min.Y; y < area.Max.Y; y++ {
		src := img.Pix[(y-origin.Y)*img.Stride:]
		for x := area.Min.X; x < area.Max.X; x++ {
			s := src[(x-origin.X)*4:]
			d := r.Pix[r.offset(x, y):]
			switch r.Bands {
			case 1:
				d[0] = s[0]
			case 2:
				d[0], d[1] = s[0], s[3]
			case 3:
				d[0], d[1], d[2] = s[0], s[1], s[2]
			default:
				d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
			}
		}
	}
}

// ToImage converts the region to a standard image with the same bounds.
// Float samples are rounded and clamped. Grey maps to *image.Gray and
// everything else to *image.NRGBA.
func (r *Region) ToImage() image.Image {
	if r.Bands == 1 {
		img := image.NewGray(r.Rect)
		for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
			for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: clampUint8(r.At(x, y, 0))})
			}
		}
		return img
	}

	img := image.NewNRGBA(r.Rect)
	for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
		for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
			c := color.NRGBA{A: 255}
			switch r.Bands {
			case 2:
				g := clampUint8(r.At(x, y, 0))
				c.R, c.G, c.B, c.A = g, g, g, clampUint8(r.At(x, y, 1))
			case 3:
				c.R, c.G, c.B = clampUint8(r.At(x, y, 0)), clampUint8(r.At(x, y, 1)), clampUint8(r.At(x, y, 2))
			default:
				c.R, c.G, c.B = clampUint8(r.At(x, y, 0)), clampUint8(r.At(x, y, 1)), clampUint8(r.At(x, y, 2))
				c.A = clampUint8(r.At(x, y, 3))
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
