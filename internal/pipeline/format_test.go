package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   ImageFormat
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10}, FormatJPEG},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00"), FormatPNG},
		{"gif87", []byte("GIF87a\x01\x00"), FormatGIF},
		{"gif89", []byte("GIF89a\x01\x00"), FormatGIF},
		{"tiff little endian", []byte("II*\x00\x08\x00"), FormatTIFF},
		{"tiff big endian", []byte("MM\x00*\x00\x08"), FormatTIFF},
		{"bmp", []byte("BM\x36\x00"), FormatBMP},
		{"webp", []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"riff not webp", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), FormatUnknown},
		{"jxl codestream", []byte{0xFF, 0x0A, 0x00}, FormatJXL},
		{"jxl container", []byte{0, 0, 0, 0x0C, 'J', 'X', 'L', ' ', 0x0D, 0x0A, 0x87, 0x0A}, FormatJXL},
		{"heic", []byte("\x00\x00\x00\x18ftypheic\x00\x00"), FormatHEIF},
		{"avif", []byte("\x00\x00\x00\x1cftypavif\x00\x00"), FormatAVIF},
		{"mp4 is not an image", []byte("\x00\x00\x00\x18ftypisom\x00\x00"), FormatUnknown},
		{"text", []byte("hello"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffFormat(tt.header); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want ImageFormat
	}{
		{"jpg", FormatJPEG},
		{".JPEG", FormatJPEG},
		{"tif", FormatTIFF},
		{"heic", FormatHEIF},
		{"webp", FormatWebP},
		{"xcf", FormatUnknown},
		{"", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseFormat(tt.in); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
	if got := FormatFromFilename("/tmp/photo.PNG"); got != FormatPNG {
		t.Errorf("filename: got %v, want png", got)
	}
	if got := FormatJPEG.Extension(); got != "jpg" {
		t.Errorf("extension: got %q, want jpg", got)
	}
}

func TestRegistry_Detect(t *testing.T) {
	codec := &fakeCodec{width: 1, height: 1, bands: 3}
	r := NewRegistry(codec)

	f, c, err := r.Detect(pngMagic)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if f != FormatPNG || c != codec {
		t.Errorf("got %v via %v, want png via fake codec", f, c)
	}

	// Unknown magic falls back to the extension.
	path := filepath.Join(t.TempDir(), "image.png")
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if f, _, err := r.Detect(FileInput(path)); err != nil || f != FormatPNG {
		t.Errorf("extension fallback: got %v, %v; want png", f, err)
	}

	if _, _, err := r.Detect(BufferInput([]byte("GIF89a"))); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("no gif codec: got %v, want UnsupportedFormat", err)
	}
	if _, _, err := r.Detect(FileInput(filepath.Join(t.TempDir(), "missing.png"))); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file: got %v, want not exist", err)
	}
}

func TestDescriptor(t *testing.T) {
	tests := []struct {
		bands      int
		format     PixelFormat
		interp     Interpretation
		alpha      bool
		colorBands int
		bytes      int64
	}{
		{1, Uchar, BW, false, 1, 20},
		{2, Uchar, BW, true, 1, 40},
		{3, Uchar, SRGB, false, 3, 60},
		{4, Float, SRGB, true, 3, 320},
		{5, Uchar, Multiband, false, 5, 100},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.bands, tt.format), func(t *testing.T) {
			d := NewDescriptor(5, 4, tt.bands, tt.format)
			if d.Interpretation != tt.interp {
				t.Errorf("interpretation: got %v, want %v", d.Interpretation, tt.interp)
			}
			if d.HasAlpha() != tt.alpha {
				t.Errorf("alpha: got %v, want %v", d.HasAlpha(), tt.alpha)
			}
			if d.ColorBands() != tt.colorBands {
				t.Errorf("colour bands: got %d, want %d", d.ColorBands(), tt.colorBands)
			}
			if d.Bytes() != tt.bytes {
				t.Errorf("bytes: got %d, want %d", d.Bytes(), tt.bytes)
			}
			if err := d.Validate(); err != nil {
				t.Errorf("Validate failed: %v", err)
			}
		})
	}

	for _, d := range []Descriptor{
		NewDescriptor(0, 4, 3, Uchar),
		NewDescriptor(4, -1, 3, Uchar),
		NewDescriptor(4, 4, 0, Uchar),
		NewDescriptor(4, 4, 3, PixelFormat(7)),
	} {
		if err := d.Validate(); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("Validate(%v): got %v, want InvalidParameter", d, err)
		}
	}
}

func TestErrors(t *testing.T) {
	cause := errors.New("truncated stream")
	err := CodecError("decode", cause)

	if !errors.Is(err, ErrCodecFailure) {
		t.Errorf("errors.Is codec failure: got false, want true")
	}
	if errors.Is(err, ErrOutOfBounds) {
		t.Errorf("errors.Is out of bounds: got true, want false")
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not reachable through Unwrap")
	}
	if got := KindOf(fmt.Errorf("loading: %w", err)); got != CodecFailure {
		t.Errorf("KindOf wrapped: got %v, want %v", got, CodecFailure)
	}
	if got := KindOf(cause); got != 0 {
		t.Errorf("KindOf plain error: got %v, want 0", got)
	}
	if got, want := err.Error(), "pipeline: decode: codec failure: truncated stream"; got != want {
		t.Errorf("message: got %q, want %q", got, want)
	}

	// Pipeline errors pass through CodecError unchanged.
	inner := errorf(OutOfBounds, "read region", "outside")
	if got := CodecError("decode", inner); got != error(inner) {
		t.Errorf("CodecError rewrapped a pipeline error: %v", got)
	}
	if CodecError("decode", nil) != nil {
		t.Errorf("CodecError(nil): got non-nil")
	}
	if got := ErrorKind(42).String(); got != "ErrorKind(42)" {
		t.Errorf("unknown kind: got %q", got)
	}
}
