package codec

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/image-pipeline/internal/pipeline"
)

// Imaging reads and writes JPEG, PNG, GIF, TIFF and BMP through
// github.com/disintegration/imaging. Decoded JPEGs are rotated upright from
// their EXIF orientation.
//
// The whole file is decoded for every request, so the codec claims neither
// region decoding nor shrink-on-load. DecodeRegion still works by cropping
// the decoded image.
type Imaging struct{}

var imagingFormats = map[pipeline.ImageFormat]imaging.Format{
	pipeline.FormatJPEG: imaging.JPEG,
	pipeline.FormatPNG:  imaging.PNG,
	pipeline.FormatGIF:  imaging.GIF,
	pipeline.FormatTIFF: imaging.TIFF,
	pipeline.FormatBMP:  imaging.BMP,
}

// NewImaging returns the imaging codec.
func NewImaging() *Imaging { return &Imaging{} }

func (c *Imaging) Name() string { return "imagingload" }

func (c *Imaging) Formats() []pipeline.ImageFormat {
	return []pipeline.ImageFormat{
		pipeline.FormatJPEG,
		pipeline.FormatPNG,
		pipeline.FormatGIF,
		pipeline.FormatTIFF,
		pipeline.FormatBMP,
	}
}

func (c *Imaging) Capabilities() pipeline.Capability {
	return pipeline.CapEncode
}

// DecodeHeader reads the dimensions and file metadata without decoding
// pixels. Images whose EXIF orientation transposes them report swapped
// dimensions, matching what DecodeFull returns.
func (c *Imaging) DecodeHeader(in pipeline.Input) (pipeline.Descriptor, string, error) {
	rc, err := in.Open()
	if err != nil {
		return pipeline.Descriptor{}, "", err
	}
	defer rc.Close()

	cfg, name, err := image.DecodeConfig(rc)
	if err != nil {
		return pipeline.Descriptor{}, "", fmt.Errorf("failed to decode image header: %w", err)
	}
	format := pipeline.ParseFormat(name)
	meta := readMetadata(in, format, cfg.Height)
	w, h := cfg.Width, cfg.Height
	if transposes(orientationOf(meta)) {
		w, h = h, w
	}
	desc := pipeline.NewDescriptor(w, h, bandsOfModel(cfg.ColorModel), pipeline.Uchar)
	desc.SourceFormat = format
	desc.Meta = meta
	return desc, c.Name(), nil
}

func (c *Imaging) decode(in pipeline.Input) (image.Image, error) {
	rc, err := in.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// DecodeFull decodes the whole image. A decoded image serves any access
// pattern, so access is not consulted.
func (c *Imaging) DecodeFull(in pipeline.Input, _ pipeline.Access) (pipeline.Source, error) {
	img, err := c.decode(in)
	if err != nil {
		return nil, err
	}
	format := formatOf(in)
	src := pipeline.NewImageSource(img, format, pipeline.FingerprintInput(in))
	return src.WithMetadata(readMetadata(in, format, img.Bounds().Dy())), nil
}

func (c *Imaging) DecodeShrunk(pipeline.Input, int, int) (pipeline.Source, error) {
	return nil, pipeline.Unsupported("decode shrunk", "%s cannot shrink on load", c.Name())
}

// DecodeRegion decodes the image and crops r from it.
func (c *Imaging) DecodeRegion(in pipeline.Input, r image.Rectangle) (image.Image, error) {
	img, err := c.decode(in)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if !r.Add(b.Min).In(b) {
		return nil, fmt.Errorf("region %v outside %dx%d image", r, b.Dx(), b.Dy())
	}
	cropped := imaging.Crop(img, r.Add(b.Min))
	// imaging.Crop rebases to (0,0); callers expect the requested rectangle.
	cropped.Rect = r
	return cropped, nil
}

// Encode writes img in opts.Format. Quality applies to JPEG; Lossless
// selects the best PNG compression.
func (c *Imaging) Encode(w io.Writer, img image.Image, opts pipeline.EncodeOptions) error {
	f, ok := imagingFormats[opts.Format]
	if !ok {
		return pipeline.Unsupported("encode", "%s cannot encode %s", c.Name(), opts.Format)
	}
	var eo []imaging.EncodeOption
	if opts.Quality > 0 {
		if opts.Quality > 100 {
			return fmt.Errorf("quality %d must be 1-100", opts.Quality)
		}
		eo = append(eo, imaging.JPEGQuality(opts.Quality))
	}
	if opts.Lossless {
		eo = append(eo, imaging.PNGCompressionLevel(png.BestCompression))
	}
	if err := imaging.Encode(w, img, f, eo...); err != nil {
		return fmt.Errorf("failed to encode %s: %w", opts.Format, err)
	}
	return nil
}

// EncodeToFile creates path and encodes img into it. A failed encode removes
// the partial file.
func (c *Imaging) EncodeToFile(img image.Image, path string, opts pipeline.EncodeOptions) (err error) {
	if opts.Format == pipeline.FormatUnknown {
		opts.Format = pipeline.FormatFromFilename(path)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return c.Encode(f, img, opts)
}

// formatOf sniffs the format for source descriptors.
func formatOf(in pipeline.Input) pipeline.ImageFormat {
	header, err := in.Peek(pipeline.SniffLen)
	if err != nil {
		return pipeline.FormatUnknown
	}
	return pipeline.SniffFormat(header)
}
