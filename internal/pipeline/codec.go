package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
)

// Input is an encoded image held either in a file or in memory.
type Input struct {
	Path string
	Data []byte
}

// FileInput returns an Input backed by a file.
func FileInput(path string) Input {
	return Input{Path: path}
}

// BufferInput returns an Input backed by an encoded byte buffer.
func BufferInput(data []byte) Input {
	return Input{Data: data}
}

// Open returns a reader over the encoded bytes.
func (in Input) Open() (io.ReadCloser, error) {
	if in.Data != nil {
		return io.NopCloser(bytes.NewReader(in.Data)), nil
	}
	if in.Path == "" {
		return nil, errorf(InvalidParameter, "input", "neither path nor data given")
	}
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return f, nil
}

// Peek returns up to n leading bytes.
func (in Input) Peek(n int) ([]byte, error) {
	if in.Data != nil {
		return in.Data[:min(n, len(in.Data))], nil
	}
	rc, err := in.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf := make([]byte, n)
	m, err := io.ReadFull(rc, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	return buf[:m], nil
}

func (in Input) String() string {
	if in.Data != nil {
		return fmt.Sprintf("buffer(%d bytes)", len(in.Data))
	}
	return in.Path
}

// Access is the read pattern a source must support.
type Access int

const (
	// Random allows regions in any order.
	Random Access = iota
	// Sequential allows only non-decreasing region tops.
	Sequential
)

func (a Access) String() string {
	if a == Sequential {
		return "sequential"
	}
	return "random"
}

// Capability flags optional codec features.
type Capability uint

const (
	// CapShrink means DecodeShrunk reduces resolution while decoding.
	CapShrink Capability = 1 << iota
	// CapRegion means DecodeRegion avoids decoding the whole image. Codecs
	// without it may still implement DecodeRegion by cropping a full decode.
	CapRegion
	// CapEncode means Encode and EncodeToFile are supported.
	CapEncode
)

// Has reports whether every flag in c2 is set.
func (c Capability) Has(c2 Capability) bool {
	return c&c2 == c2
}

// EncodeOptions controls encoding.
type EncodeOptions struct {
	Format ImageFormat
	// Quality is 1-100 for lossy formats; 0 means the codec default.
	Quality  int
	Lossless bool
}

// Source delivers pixels for a decoded image.
type Source interface {
	Descriptor() Descriptor
	// ReadRegion fills dst, whose rectangle lies within the image.
	ReadRegion(dst *Region) error
	// Fingerprint identifies the pixels: equal fingerprints mean equal images.
	Fingerprint() []byte
	// Bytes is the memory held by the source while it is open.
	Bytes() int64
}

// Codec reads and writes one or more file formats.
type Codec interface {
	Name() string
	Formats() []ImageFormat
	Capabilities() Capability

	// DecodeHeader reads dimensions and layout without decoding pixels. The
	// string is the loader name.
	DecodeHeader(in Input) (Descriptor, string, error)
	DecodeFull(in Input, access Access) (Source, error)
	// DecodeShrunk decodes at the largest native reduction that keeps the
	// image at least width x height.
	DecodeShrunk(in Input, width, height int) (Source, error)
	DecodeRegion(in Input, r image.Rectangle) (image.Image, error)

	Encode(w io.Writer, img image.Image, opts EncodeOptions) error
	EncodeToFile(img image.Image, path string, opts EncodeOptions) error
}

// Registry maps formats to codecs. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byFormat map[ImageFormat]Codec
	codecs   []Codec
}

// NewRegistry returns a registry holding codecs. Later codecs take over
// formats claimed by earlier ones.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{byFormat: make(map[ImageFormat]Codec)}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Register adds a codec for every format it reports.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs = append(r.codecs, c)
	for _, f := range c.Formats() {
		r.byFormat[f] = c
	}
}

// Codecs returns the registered codecs in registration order.
func (r *Registry) Codecs() []Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Codec(nil), r.codecs...)
}

// For returns the codec for a format.
func (r *Registry) For(f ImageFormat) (Codec, error) {
	r.mu.RLock()
	c, ok := r.byFormat[f]
	r.mu.RUnlock()
	if !ok {
		return nil, errorf(UnsupportedFormat, "codec", "no codec for %s", f)
	}
	return c, nil
}

// ByName returns the codec with the given loader name.
func (r *Registry) ByName(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, errorf(UnsupportedFormat, "codec", "no codec named %q", name)
}

// Detect identifies the format of in, from its magic bytes first and its
// file extension second, and returns the codec for it.
func (r *Registry) Detect(in Input) (ImageFormat, Codec, error) {
	header, err := in.Peek(SniffLen)
	if err != nil {
		return FormatUnknown, nil, err
	}
	f := SniffFormat(header)
	if f == FormatUnknown && in.Path != "" {
		f = FormatFromFilename(in.Path)
	}
	if f == FormatUnknown {
		return FormatUnknown, nil, errorf(UnsupportedFormat, "detect", "unrecognised image data in %s", in)
	}
	c, err := r.For(f)
	if err != nil {
		return f, nil, err
	}
	return f, c, nil
}
