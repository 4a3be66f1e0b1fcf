package codec

import (
	"fmt"
	"image"
	"io"

	"golang.org/x/image/webp"

	"github.com/ironsheep/image-pipeline/internal/pipeline"
)

// WebP decodes WebP files with golang.org/x/image/webp. It cannot encode.
type WebP struct{}

// NewWebP returns the WebP codec.
func NewWebP() *WebP { return &WebP{} }

func (c *WebP) Name() string                      { return "webpload" }
func (c *WebP) Formats() []pipeline.ImageFormat   { return []pipeline.ImageFormat{pipeline.FormatWebP} }
func (c *WebP) Capabilities() pipeline.Capability { return 0 }

func (c *WebP) DecodeHeader(in pipeline.Input) (pipeline.Descriptor, string, error) {
	rc, err := in.Open()
	if err != nil {
		return pipeline.Descriptor{}, "", err
	}
	defer rc.Close()

	cfg, err := webp.DecodeConfig(rc)
	if err != nil {
		return pipeline.Descriptor{}, "", fmt.Errorf("failed to decode webp header: %w", err)
	}
	desc := pipeline.NewDescriptor(cfg.Width, cfg.Height, bandsOfModel(cfg.ColorModel), pipeline.Uchar)
	desc.SourceFormat = pipeline.FormatWebP
	return desc, c.Name(), nil
}

func (c *WebP) decode(in pipeline.Input) (image.Image, error) {
	rc, err := in.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := webp.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode webp: %w", err)
	}
	return img, nil
}

func (c *WebP) DecodeFull(in pipeline.Input, _ pipeline.Access) (pipeline.Source, error) {
	img, err := c.decode(in)
	if err != nil {
		return nil, err
	}
	return pipeline.NewImageSource(img, pipeline.FormatWebP, pipeline.FingerprintInput(in)), nil
}

func (c *WebP) DecodeShrunk(pipeline.Input, int, int) (pipeline.Source, error) {
	return nil, pipeline.Unsupported("decode shrunk", "%s cannot shrink on load", c.Name())
}

// DecodeRegion decodes the image and returns the sub-image at r.
func (c *WebP) DecodeRegion(in pipeline.Input, r image.Rectangle) (image.Image, error) {
	img, err := c.decode(in)
	if err != nil {
		return nil, err
	}
	if !r.In(img.Bounds()) {
		return nil, fmt.Errorf("region %v outside %v", r, img.Bounds())
	}
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r), nil
	}
	return img, nil
}

func (c *WebP) Encode(io.Writer, image.Image, pipeline.EncodeOptions) error {
	return pipeline.Unsupported("encode", "%s cannot encode", c.Name())
}

func (c *WebP) EncodeToFile(image.Image, string, pipeline.EncodeOptions) error {
	return pipeline.Unsupported("encode", "%s cannot encode", c.Name())
}
