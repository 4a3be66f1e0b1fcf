package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"image/color"
	"image/gif"
	"io"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/ironsheep/image-pipeline/internal/pipeline"
)

// Millimetres per resolution unit, by the EXIF ResolutionUnit value.
var resolutionUnits = map[int]float64{
	2: 25.4, // inch
	3: 10,   // centimetre
}

// readMetadata collects the fields a file declares. Files with nothing to
// report give nil. Unreadable metadata is skipped; it never fails a load.
func readMetadata(in pipeline.Input, format pipeline.ImageFormat, height int) *pipeline.Metadata {
	m := pipeline.NewMetadata()
	switch format {
	case pipeline.FormatJPEG, pipeline.FormatTIFF:
		m = addEXIF(m, in)
	}
	if format == pipeline.FormatJPEG {
		m = addJPEGSegments(m, in)
	}
	if format == pipeline.FormatGIF {
		if n := gifFrames(in); n > 1 {
			m = with(m, pipeline.MetaPageCount, n)
			m = with(m, pipeline.MetaPageHeight, height)
		}
	}
	if m.Len() == 0 {
		return nil
	}
	return m
}

// with sets a field whose type is known to be valid.
func with(m *pipeline.Metadata, name string, value any) *pipeline.Metadata {
	out, err := m.With(name, value)
	if err != nil {
		return m
	}
	return out
}

// exifWalker copies every parsed tag into the metadata as a string.
type exifWalker struct {
	m *pipeline.Metadata
}

func (w *exifWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	v := tag.String()
	if tag.Format() == tiff.StringVal {
		if s, err := tag.StringVal(); err == nil {
			v = s
		}
	}
	w.m = with(w.m, pipeline.EXIFPrefix+string(name), v)
	return nil
}

func addEXIF(m *pipeline.Metadata, in pipeline.Input) *pipeline.Metadata {
	rc, err := in.Open()
	if err != nil {
		return m
	}
	defer rc.Close()

	x, err := exif.Decode(rc)
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return m
	}
	if len(x.Raw) > 0 {
		m = with(m, pipeline.MetaEXIF, x.Raw)
	}
	w := &exifWalker{m: m}
	x.Walk(w)
	m = w.m

	if o, ok := tagInt(x, exif.Orientation); ok && o >= 1 && o <= 8 {
		m = with(m, pipeline.MetaOrientation, o)
	}
	unit := 2
	if u, ok := tagInt(x, exif.ResolutionUnit); ok {
		unit = u
	}
	if mm, ok := resolutionUnits[unit]; ok {
		if v, ok := tagRat(x, exif.XResolution); ok {
			m = with(m, pipeline.MetaXResolution, v/mm)
		}
		if v, ok := tagRat(x, exif.YResolution); ok {
			m = with(m, pipeline.MetaYResolution, v/mm)
		}
	}
	return m
}

func tagInt(x *exif.Exif, name exif.FieldName) (int, bool) {
	tag, err := x.Get(name)
	if err != nil || tag.Count == 0 || tag.Format() != tiff.IntVal {
		return 0, false
	}
	v, err := tag.Int(0)
	return v, err == nil
}

func tagRat(x *exif.Exif, name exif.FieldName) (float64, bool) {
	tag, err := x.Get(name)
	if err != nil || tag.Count == 0 || tag.Format() != tiff.RatVal {
		return 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0, false
	}
	return float64(num) / float64(den), true
}

// orientationOf returns the declared EXIF orientation, or 1.
func orientationOf(m *pipeline.Metadata) int {
	if o, ok := m.Orientation(); ok {
		return o
	}
	return 1
}

// transposes reports whether an EXIF orientation swaps width and height.
func transposes(o int) bool {
	return o >= 5 && o <= 8
}

var (
	xmpSignature = []byte("http://ns.adobe.com/xap/1.0/\x00")
	iccSignature = []byte("ICC_PROFILE\x00")
)

// addJPEGSegments reads the XMP packet from APP1 and the ICC profile from
// APP2, joining a profile split across several segments in sequence order.
func addJPEGSegments(m *pipeline.Metadata, in pipeline.Input) *pipeline.Metadata {
	rc, err := in.Open()
	if err != nil {
		return m
	}
	defer rc.Close()
	r := bufio.NewReader(rc)

	var soi uint16
	if binary.Read(r, binary.BigEndian, &soi) != nil || soi != 0xffd8 {
		return m
	}
	icc := map[byte][]byte{}
	var xmp []byte
	for {
		var marker, size uint16
		if binary.Read(r, binary.BigEndian, &marker) != nil || binary.Read(r, binary.BigEndian, &size) != nil {
			break
		}
		// Metadata segments precede the scan.
		if marker>>8 != 0xff || size < 2 || marker == 0xffda {
			break
		}
		n := int(size) - 2
		if marker != 0xffe1 && marker != 0xffe2 {
			if _, err := r.Discard(n); err != nil {
				break
			}
			continue
		}
		seg := make([]byte, n)
		if _, err := io.ReadFull(r, seg); err != nil {
			break
		}
		switch {
		case marker == 0xffe1 && bytes.HasPrefix(seg, xmpSignature):
			xmp = seg[len(xmpSignature):]
		case marker == 0xffe2 && bytes.HasPrefix(seg, iccSignature) && len(seg) > len(iccSignature)+2:
			// Sequence number, then the chunk count.
			icc[seg[len(iccSignature)]] = seg[len(iccSignature)+2:]
		}
	}
	if len(xmp) > 0 {
		m = with(m, pipeline.MetaXMP, xmp)
	}
	if len(icc) > 0 {
		var profile []byte
		for seq := 1; seq <= len(icc); seq++ {
			chunk, ok := icc[byte(seq)]
			if !ok {
				profile = nil
				break
			}
			profile = append(profile, chunk...)
		}
		if len(profile) > 0 {
			m = with(m, pipeline.MetaICC, profile)
		}
	}
	return m
}

// gifFrames counts the frames of an animated GIF.
func gifFrames(in pipeline.Input) int {
	rc, err := in.Open()
	if err != nil {
		return 0
	}
	defer rc.Close()
	g, err := gif.DecodeAll(rc)
	if err != nil {
		return 0
	}
	return len(g.Image)
}

// bandsOfModel guesses the band count a decoder will produce. Formats with
// an alpha-capable model report four bands even when every pixel turns out
// to be opaque.
func bandsOfModel(m color.Model) int {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return 1
	case color.YCbCrModel, color.CMYKModel:
		return 3
	}
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return 4
			}
		}
		return 3
	}
	return 4
}
