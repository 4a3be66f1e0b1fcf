package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"sync"
)

// SourceOp is a leaf node that reads pixels from a Source.
type SourceOp struct {
	src    Source
	access Access

	mu      sync.Mutex
	lastTop int
	started bool

	release   func()
	closeOnce sync.Once
}

// NewSourceOp wraps src as a source operation. A sequential source rejects
// regions whose top is above the previous region's top.
func NewSourceOp(src Source, access Access) *SourceOp {
	return &SourceOp{src: src, access: access}
}

func (s *SourceOp) Kind() Kind { return KindSource }

// Source returns the underlying source.
func (s *SourceOp) Source() Source { return s.src }

// Access returns the access mode.
func (s *SourceOp) Access() Access { return s.access }

func (s *SourceOp) arity() int { return 0 }

func (s *SourceOp) validate() error {
	if s.src == nil {
		return errorf(InvalidParameter, "source", "nil source")
	}
	return nil
}

func (s *SourceOp) infer([]Descriptor) (Descriptor, error) {
	return s.src.Descriptor(), nil
}

func (s *SourceOp) demand(*evalContext, image.Rectangle) ([]image.Rectangle, error) {
	return nil, nil
}

func (s *SourceOp) compute(_ *evalContext, out *Region, _ []*Region) error {
	return CodecError("read region", s.src.ReadRegion(out))
}

func (s *SourceOp) fingerprint(f *fingerprinter) {
	f.bytes(s.src.Fingerprint())
}

func (s *SourceOp) checkAccess(r image.Rectangle) error {
	if s.access != Sequential {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && r.Min.Y < s.lastTop {
		return errorf(SequentialAccessViolation, "source",
			"region top %d is above previous top %d", r.Min.Y, s.lastTop)
	}
	s.lastTop = r.Min.Y
	s.started = true
	return nil
}

func (s *SourceOp) close() {
	s.closeOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// FingerprintInput identifies encoded input cheaply: a file by path, size and
// modification time, a buffer by its content hash. extra distinguishes
// decodes of the same input, such as a shrink factor.
func FingerprintInput(in Input, extra ...int) []byte {
	h := sha256.New()
	if in.Data != nil {
		h.Write([]byte("buf"))
		h.Write(in.Data)
	} else {
		h.Write([]byte("file"))
		h.Write([]byte(in.Path))
		if fi, err := os.Stat(in.Path); err == nil {
			var b [16]byte
			binary.LittleEndian.PutUint64(b[:8], uint64(fi.Size()))
			binary.LittleEndian.PutUint64(b[8:], uint64(fi.ModTime().UnixNano()))
			h.Write(b[:])
		}
	}
	var b [8]byte
	for _, v := range extra {
		binary.LittleEndian.PutUint64(b[:], uint64(int64(v)))
		h.Write(b[:])
	}
	return h.Sum(nil)
}

// ImageSource serves regions from a decoded image.Image.
type ImageSource struct {
	img    image.Image
	desc   Descriptor
	fp     []byte
	origin image.Point
}

// NewImageSource wraps a decoded image. Band count follows the image type:
// grey images give one band, opaque colour images three, others four.
func NewImageSource(img image.Image, format ImageFormat, fingerprint []byte) *ImageSource {
	b := img.Bounds()
	desc := NewDescriptor(b.Dx(), b.Dy(), bandsOf(img), Uchar)
	desc.SourceFormat = format
	return &ImageSource{img: img, desc: desc, fp: fingerprint, origin: b.Min}
}

// WithMetadata attaches the fields read from the file and returns s.
func (s *ImageSource) WithMetadata(m *Metadata) *ImageSource {
	s.desc.Meta = m
	return s
}

func (s *ImageSource) Descriptor() Descriptor { return s.desc }

func (s *ImageSource) Fingerprint() []byte { return s.fp }

// Bytes estimates the decoded image's memory.
func (s *ImageSource) Bytes() int64 {
	px := int64(s.desc.Width) * int64(s.desc.Height)
	switch img := s.img.(type) {
	case *image.Gray, *image.Paletted:
		return px
	case *image.Gray16:
		return px * 2
	case *image.RGBA64, *image.NRGBA64:
		return px * 8
	case *image.YCbCr:
		return int64(len(img.Y) + len(img.Cb) + len(img.Cr))
	default:
		return px * 4
	}
}

// Image returns the wrapped image.
func (s *ImageSource) Image() image.Image { return s.img }

func (s *ImageSource) ReadRegion(dst *Region) error {
	if !dst.Rect.In(s.desc.Bounds()) {
		return errorf(OutOfBounds, "read region", "%v outside %dx%d", dst.Rect, s.desc.Width, s.desc.Height)
	}
	if dst.Bands != s.desc.Bands || dst.Format != Uchar {
		return errorf(DescriptorMismatch, "read region", "destination has %d %s bands, source %d uchar", dst.Bands, dst.Format, s.desc.Bands)
	}

	ox, oy := s.origin.X, s.origin.Y
	switch img := s.img.(type) {
	case *image.NRGBA:
		if dst.Bands == 4 {
			for y := dst.Rect.Min.Y; y < dst.Rect.Max.Y; y++ {
				si := img.PixOffset(dst.Rect.Min.X+ox, y+oy)
				di := dst.offset(dst.Rect.Min.X, y)
				copy(dst.Pix[di:di+dst.Rect.Dx()*4], img.Pix[si:])
			}
			return nil
		}
	case *image.Gray:
		for y := dst.Rect.Min.Y; y < dst.Rect.Max.Y; y++ {
			si := img.PixOffset(dst.Rect.Min.X+ox, y+oy)
			di := dst.offset(dst.Rect.Min.X, y)
			copy(dst.Pix[di:di+dst.Rect.Dx()], img.Pix[si:])
		}
		return nil
	}

	for y := dst.Rect.Min.Y; y < dst.Rect.Max.Y; y++ {
		for x := dst.Rect.Min.X; x < dst.Rect.Max.X; x++ {
			c := s.img.At(x+ox, y+oy)
			d := dst.Pix[dst.offset(x, y):]
			if dst.Bands == 1 {
				d[0] = color.GrayModel.Convert(c).(color.Gray).Y
				continue
			}
			n := color.NRGBAModel.Convert(c).(color.NRGBA)
			switch dst.Bands {
			case 3:
				d[0], d[1], d[2] = n.R, n.G, n.B
			default:
				d[0], d[1], d[2], d[3] = n.R, n.G, n.B, n.A
			}
		}
	}
	return nil
}

// bandsOf picks a band count for a decoded image.
func bandsOf(img image.Image) int {
	switch img := img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.YCbCr, *image.CMYK:
		return 3
	case *image.Paletted:
		for _, c := range img.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return 4
			}
		}
		return 3
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return 3
	}
	return 4
}

// MemorySource serves regions from a raw interleaved uchar buffer.
type MemorySource struct {
	pix  []byte
	desc Descriptor
	fp   []byte
}

// NewMemorySource wraps pix, which holds width*height*bands bytes in row
// order. Two bands or fewer are grey, more are sRGB.
func NewMemorySource(pix []byte, width, height, bands int) (*MemorySource, error) {
	desc := NewDescriptor(width, height, bands, Uchar)
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if int64(len(pix)) != desc.Bytes() {
		return nil, errorf(InvalidParameter, "wrap memory", "buffer has %d bytes, %v needs %d", len(pix), desc, desc.Bytes())
	}
	h := sha256.New()
	var b [8]byte
	for _, v := range []int{width, height, bands} {
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		h.Write(b[:])
	}
	h.Write(pix)
	return &MemorySource{pix: pix, desc: desc, fp: h.Sum(nil)}, nil
}

func (s *MemorySource) Descriptor() Descriptor { return s.desc }

func (s *MemorySource) Fingerprint() []byte { return s.fp }

func (s *MemorySource) Bytes() int64 { return int64(len(s.pix)) }

func (s *MemorySource) ReadRegion(dst *Region) error {
	if !dst.Rect.In(s.desc.Bounds()) {
		return errorf(OutOfBounds, "read region", "%v outside %dx%d", dst.Rect, s.desc.Width, s.desc.Height)
	}
	row := s.desc.RowBytes()
	n := dst.Rect.Dx() * s.desc.Bands
	for y := dst.Rect.Min.Y; y < dst.Rect.Max.Y; y++ {
		si := y*row + dst.Rect.Min.X*s.desc.Bands
		di := dst.offset(dst.Rect.Min.X, y)
		copy(dst.Pix[di:di+n], s.pix[si:si+n])
	}
	return nil
}
