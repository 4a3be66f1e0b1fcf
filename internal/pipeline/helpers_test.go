package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
)

// pattern is the sample value of the synthetic test image at (x, y) in band c.
func pattern(x, y, c int) byte {
	return byte(x*7 + y*13 + c*50)
}

// createPatternPixels returns an interleaved buffer filled with pattern.
func createPatternPixels(width, height, bands int) []byte {
	pix := make([]byte, width*height*bands)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for c := 0; c < bands; c++ {
				pix[(y*width+x)*bands+c] = pattern(x, y, c)
			}
		}
	}
	return pix
}

// createSolidPixels returns a buffer where every pixel is px.
func createSolidPixels(width, height int, px ...byte) []byte {
	pix := make([]byte, 0, width*height*len(px))
	for i := 0; i < width*height; i++ {
		pix = append(pix, px...)
	}
	return pix
}

// fillRect paints px into a w-wide buffer over r.
func fillRect(pix []byte, width int, r image.Rectangle, px ...byte) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			copy(pix[(y*width+x)*len(px):], px)
		}
	}
}

func newTestEngine(t *testing.T, configure func(*Config), codecs ...Codec) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if configure != nil {
		configure(&cfg)
	}
	e, err := NewEngine(cfg, NewRegistry(codecs...))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func wrapPixels(t *testing.T, e *Engine, g *Graph, pix []byte, width, height, bands int) NodeID {
	t.Helper()
	id, err := e.WrapMemory(g, pix, width, height, bands)
	if err != nil {
		t.Fatalf("WrapMemory failed: %v", err)
	}
	return id
}

func mustNode(t *testing.T) func(NodeID, error) NodeID {
	return func(id NodeID, err error) NodeID {
		t.Helper()
		if err != nil {
			t.Fatalf("adding node failed: %v", err)
		}
		return id
	}
}

func materialize(t *testing.T, ev *Evaluator, id NodeID) *Region {
	t.Helper()
	reg, err := ev.Materialize(id)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	t.Cleanup(reg.Release)
	return reg
}

// patternSource generates pattern pixels without holding a buffer.
type patternSource struct {
	desc  Descriptor
	scale int
}

func newPatternSource(width, height, bands, scale int) *patternSource {
	return &patternSource{desc: NewDescriptor(width, height, bands, Uchar), scale: scale}
}

func (s *patternSource) Descriptor() Descriptor { return s.desc }
func (s *patternSource) Bytes() int64           { return 0 }

func (s *patternSource) Fingerprint() []byte {
	return []byte(fmt.Sprintf("pattern %v %d", s.desc, s.scale))
}

func (s *patternSource) ReadRegion(dst *Region) error {
	for y := dst.Rect.Min.Y; y < dst.Rect.Max.Y; y++ {
		for x := dst.Rect.Min.X; x < dst.Rect.Max.X; x++ {
			px := dst.pixelBytes(x, y)
			for c := range px {
				px[c] = pattern(x*s.scale, y*s.scale, c)
			}
		}
	}
	return nil
}

// pngMagic makes an input that sniffs as PNG.
var pngMagic = BufferInput([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"))

// fakeCodec serves pattern images of a fixed size for the PNG format.
type fakeCodec struct {
	width, height, bands int
	caps                 Capability

	mu      sync.Mutex
	shrinks []int
	full    int
	regions []image.Rectangle
}

func (c *fakeCodec) Name() string             { return "fakeload" }
func (c *fakeCodec) Formats() []ImageFormat   { return []ImageFormat{FormatPNG} }
func (c *fakeCodec) Capabilities() Capability { return c.caps }

func (c *fakeCodec) DecodeHeader(Input) (Descriptor, string, error) {
	return NewDescriptor(c.width, c.height, c.bands, Uchar), c.Name(), nil
}

func (c *fakeCodec) DecodeFull(Input, Access) (Source, error) {
	c.mu.Lock()
	c.full++
	c.mu.Unlock()
	return newPatternSource(c.width, c.height, c.bands, 1), nil
}

func (c *fakeCodec) DecodeShrunk(_ Input, width, height int) (Source, error) {
	f := max(1, min(c.width/width, c.height/height))
	c.mu.Lock()
	c.shrinks = append(c.shrinks, f)
	c.mu.Unlock()
	return newPatternSource(c.width/f, c.height/f, c.bands, f), nil
}

func (c *fakeCodec) DecodeRegion(_ Input, r image.Rectangle) (image.Image, error) {
	c.mu.Lock()
	c.regions = append(c.regions, r)
	c.mu.Unlock()
	img := image.NewNRGBA(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: pattern(x, y, 0), G: pattern(x, y, 1), B: pattern(x, y, 2), A: 255})
		}
	}
	return img, nil
}

func (c *fakeCodec) Encode(io.Writer, image.Image, EncodeOptions) error {
	return Unsupported("encode", "fake codec cannot encode")
}

func (c *fakeCodec) EncodeToFile(image.Image, string, EncodeOptions) error {
	return Unsupported("encode", "fake codec cannot encode")
}
