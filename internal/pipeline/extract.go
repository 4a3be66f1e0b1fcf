package pipeline

import (
	"image"
)

// ExtractRegion adds the w x h area at (x, y) of in to g. Codecs that can
// decode a region directly do so; otherwise the image is decoded for
// sequential reads and cropped.
func (e *Engine) ExtractRegion(g *Graph, in Input, x, y, w, h int) (NodeID, error) {
	if w <= 0 || h <= 0 {
		return -1, errorf(InvalidParameter, "extract region", "size %dx%d must be positive", w, h)
	}
	format, c, err := e.registry.Detect(in)
	if err != nil {
		return -1, err
	}
	header, _, err := c.DecodeHeader(in)
	if err != nil {
		return -1, CodecError("decode header", err)
	}
	r := image.Rect(x, y, x+w, y+h)
	if !r.In(header.Bounds()) {
		return -1, errorf(OutOfBounds, "extract region", "area %v outside %dx%d", r, header.Width, header.Height)
	}

	if c.Capabilities().Has(CapRegion) {
		img, err := c.DecodeRegion(in, r)
		if err != nil {
			return -1, CodecError("decode region", err)
		}
		return e.addSource(g, NewImageSource(img, format, FingerprintInput(in, x, y, w, h)), Random)
	}

	src, err := c.DecodeFull(in, Sequential)
	if err != nil {
		return -1, CodecError("decode", err)
	}
	id, err := e.addSource(g, src, Sequential)
	if err != nil {
		return -1, err
	}
	return g.Crop(id, x, y, w, h)
}
