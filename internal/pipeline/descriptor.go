package pipeline

import (
	"fmt"
	"image"
)

// PixelFormat is the storage type of one sample.
type PixelFormat int

const (
	// Uchar is one unsigned byte per sample.
	Uchar PixelFormat = iota
	// Float is one float32 per sample, little-endian.
	Float
)

// SampleSize returns the bytes per sample.
func (f PixelFormat) SampleSize() int {
	if f == Float {
		return 4
	}
	return 1
}

func (f PixelFormat) String() string {
	if f == Float {
		return "float"
	}
	return "uchar"
}

// Interpretation says how bands map to colour.
type Interpretation int

const (
	// BW is grey, optionally with alpha as a second band.
	BW Interpretation = iota
	// SRGB is red, green, blue, optionally with alpha as a fourth band.
	SRGB
	// Multiband is anything else.
	Multiband
)

func (i Interpretation) String() string {
	switch i {
	case BW:
		return "b-w"
	case SRGB:
		return "srgb"
	default:
		return "multiband"
	}
}

// interpretationFor picks the default interpretation for a band count.
func interpretationFor(bands int) Interpretation {
	switch {
	case bands <= 2:
		return BW
	case bands <= 4:
		return SRGB
	default:
		return Multiband
	}
}

// Descriptor describes an image without its pixels. It is a value type and
// never changes once built.
type Descriptor struct {
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Bands          int            `json:"bands"`
	Format         PixelFormat    `json:"format"`
	Interpretation Interpretation `json:"interpretation"`
	// SourceFormat is the file format the pixels came from, if any.
	SourceFormat ImageFormat `json:"source_format"`
	// Meta carries the fields read from the file, if any.
	Meta *Metadata `json:"metadata,omitempty"`
}

// NewDescriptor returns a descriptor with the default interpretation for
// bands.
func NewDescriptor(width, height, bands int, format PixelFormat) Descriptor {
	return Descriptor{
		Width:          width,
		Height:         height,
		Bands:          bands,
		Format:         format,
		Interpretation: interpretationFor(bands),
	}
}

// Bounds returns the image extent with its origin at (0,0).
func (d Descriptor) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.Width, d.Height)
}

// HasAlpha reports whether the last band is alpha.
func (d Descriptor) HasAlpha() bool {
	switch d.Interpretation {
	case BW:
		return d.Bands == 2
	case SRGB:
		return d.Bands == 4
	}
	return false
}

// ColorBands returns the number of non-alpha bands.
func (d Descriptor) ColorBands() int {
	if d.HasAlpha() {
		return d.Bands - 1
	}
	return d.Bands
}

// PixelSize returns the bytes per pixel.
func (d Descriptor) PixelSize() int {
	return d.Bands * d.Format.SampleSize()
}

// RowBytes returns the bytes per full-width row.
func (d Descriptor) RowBytes() int {
	return d.Width * d.PixelSize()
}

// Bytes returns the size of the fully materialised image.
func (d Descriptor) Bytes() int64 {
	return int64(d.RowBytes()) * int64(d.Height)
}

// Validate checks that the descriptor describes a non-empty image.
func (d Descriptor) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return errorf(InvalidParameter, "descriptor", "dimensions %dx%d must be positive", d.Width, d.Height)
	}
	if d.Bands <= 0 {
		return errorf(InvalidParameter, "descriptor", "band count %d must be positive", d.Bands)
	}
	if d.Format != Uchar && d.Format != Float {
		return errorf(InvalidParameter, "descriptor", "unknown pixel format %d", d.Format)
	}
	return nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%dx%d %d-band %s %s", d.Width, d.Height, d.Bands, d.Format, d.Interpretation)
}

// withSize returns a copy of d with new dimensions.
func (d Descriptor) withSize(w, h int) Descriptor {
	d.Width, d.Height = w, h
	return d
}

// withBands returns a copy of d with a new band count and the matching
// default interpretation.
func (d Descriptor) withBands(bands int) Descriptor {
	d.Bands = bands
	d.Interpretation = interpretationFor(bands)
	return d
}
