package pipeline

import (
	"image"
	"log/slog"
)

// ThumbnailOptions controls Thumbnail.
type ThumbnailOptions struct {
	Kernel Kernel
	// Crop fills the whole box and centre-crops the overflow instead of
	// fitting inside it.
	Crop bool
	// Sequential loads the source for top-to-bottom reads only.
	Sequential bool
}

// DefaultThumbnailOptions fits with Lanczos3.
func DefaultThumbnailOptions() ThumbnailOptions {
	return ThumbnailOptions{Kernel: KernelLanczos3}
}

// Thumbnail adds in to g, reduced to fit within width x height, and returns
// the resized node. Codecs that can shrink while decoding are asked for the
// largest integer reduction that keeps the image at least the box size,
// so a large file never has to be decoded at full resolution.
//
// In fit mode the limiting axis equals the box and the other axis is no
// larger than the box. In crop mode the result is exactly width x height.
func (e *Engine) Thumbnail(g *Graph, in Input, width, height int, opts ThumbnailOptions) (NodeID, error) {
	if width <= 0 || height <= 0 {
		return -1, errorf(InvalidParameter, "thumbnail", "target %dx%d must be positive", width, height)
	}
	if opts.Kernel < KernelNearest || opts.Kernel > KernelLanczos3 {
		return -1, errorf(InvalidParameter, "thumbnail", "unknown kernel %d", opts.Kernel)
	}

	format, c, err := e.registry.Detect(in)
	if err != nil {
		return -1, err
	}
	header, _, err := c.DecodeHeader(in)
	if err != nil {
		return -1, CodecError("decode header", err)
	}
	nw, nh := header.Width, header.Height

	tw, th := fitSize(nw, nh, width, height)
	if opts.Crop {
		tw, th = fillSize(nw, nh, width, height)
	}
	// Both axes of the shrunk decode stay at least the box size.
	shrink := max(1, min(nw/width, nh/height))

	var src Source
	access := Random
	if opts.Sequential {
		access = Sequential
	}
	if shrink > 1 && c.Capabilities().Has(CapShrink) {
		src, err = c.DecodeShrunk(in, nw/shrink, nh/shrink)
		access = Random
	} else {
		src, err = c.DecodeFull(in, access)
	}
	if err != nil {
		return -1, CodecError("decode", err)
	}

	Logger().Debug("thumbnail",
		slog.String("input", in.String()),
		slog.String("format", format.String()),
		slog.Int("shrink", shrink),
		slog.Int("width", tw),
		slog.Int("height", th))

	id, err := e.addSource(g, src, access)
	if err != nil {
		return -1, err
	}
	id, err = g.Resize(id, tw, th, opts.Kernel)
	if err != nil {
		return -1, err
	}
	if opts.Crop && (tw != width || th != height) {
		p := GravityCentre.offset(image.Pt(tw, th), image.Pt(width, height))
		return g.Crop(id, p.X, p.Y, width, height)
	}
	return id, nil
}
