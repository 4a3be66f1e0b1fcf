package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"sort"
	"strings"
)

// Well-known metadata fields. Codecs fill them on load; parsed EXIF tags
// are added under EXIFPrefix followed by the tag name.
const (
	MetaOrientation = "orientation"
	MetaXResolution = "xres"
	MetaYResolution = "yres"
	MetaPageCount   = "n-pages"
	MetaPageHeight  = "page-height"
	MetaEXIF        = "exif-data"
	MetaXMP         = "xmp-data"
	MetaICC         = "icc-profile-data"

	EXIFPrefix = "exif-"
)

// Metadata is a set of named string, int, float64 and blob fields attached
// to a descriptor. It never changes once built: With and Without return
// copies. A nil *Metadata is empty.
type Metadata struct {
	fields map[string]any
}

// NewMetadata returns an empty set.
func NewMetadata() *Metadata {
	return &Metadata{fields: map[string]any{}}
}

// Len returns the number of fields.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Fields returns the field names in sorted order.
func (m *Metadata) Fields() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.fields))
	for k := range m.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is set.
func (m *Metadata) Has(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.fields[name]
	return ok
}

func (m *Metadata) get(name string) any {
	if m == nil {
		return nil
	}
	return m.fields[name]
}

// StringField returns a string field. Fields of another type report false.
func (m *Metadata) StringField(name string) (string, bool) {
	v, ok := m.get(name).(string)
	return v, ok
}

// IntField returns an int field.
func (m *Metadata) IntField(name string) (int, bool) {
	v, ok := m.get(name).(int)
	return v, ok
}

// FloatField returns a float64 field.
func (m *Metadata) FloatField(name string) (float64, bool) {
	v, ok := m.get(name).(float64)
	return v, ok
}

// BlobField returns a copy of a binary field.
func (m *Metadata) BlobField(name string) ([]byte, bool) {
	v, ok := m.get(name).([]byte)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// With returns a copy of m with name set to value, which must be a string,
// int, float64 or []byte. Blobs are copied.
func (m *Metadata) With(name string, value any) (*Metadata, error) {
	if name == "" {
		return nil, errorf(InvalidParameter, "metadata", "field name is empty")
	}
	switch v := value.(type) {
	case string, int, float64:
	case []byte:
		value = bytes.Clone(v)
	default:
		return nil, errorf(InvalidParameter, "metadata", "field %q has unsupported type %T", name, value)
	}
	out := m.clone()
	out.fields[name] = value
	return out, nil
}

// Without returns a copy of m without name.
func (m *Metadata) Without(name string) *Metadata {
	out := m.clone()
	delete(out.fields, name)
	return out
}

func (m *Metadata) clone() *Metadata {
	out := NewMetadata()
	if m != nil {
		for k, v := range m.fields {
			out.fields[k] = v
		}
	}
	return out
}

// Equal reports whether m and o hold the same fields.
func (m *Metadata) Equal(o *Metadata) bool {
	if m.Len() != o.Len() {
		return false
	}
	for _, k := range m.Fields() {
		a, b := m.get(k), o.get(k)
		if ab, ok := a.([]byte); ok {
			bb, ok := b.([]byte)
			if !ok || !bytes.Equal(ab, bb) {
				return false
			}
			continue
		}
		if a != b {
			return false
		}
	}
	return true
}

// Orientation returns the EXIF orientation, 1-8, declared by the file.
// Loaded pixels are already upright.
func (m *Metadata) Orientation() (int, bool) {
	return m.IntField(MetaOrientation)
}

// XResolution returns the horizontal resolution in pixels per millimetre.
func (m *Metadata) XResolution() (float64, bool) {
	return m.FloatField(MetaXResolution)
}

// YResolution returns the vertical resolution in pixels per millimetre.
func (m *Metadata) YResolution() (float64, bool) {
	return m.FloatField(MetaYResolution)
}

// PageCount returns the number of pages, 1 when unset.
func (m *Metadata) PageCount() int {
	if n, ok := m.IntField(MetaPageCount); ok && n > 0 {
		return n
	}
	return 1
}

// PageHeight returns the height of one page of a multi-page image.
func (m *Metadata) PageHeight() (int, bool) {
	return m.IntField(MetaPageHeight)
}

// EXIF returns the raw EXIF block.
func (m *Metadata) EXIF() ([]byte, bool) { return m.BlobField(MetaEXIF) }

// XMP returns the raw XMP packet.
func (m *Metadata) XMP() ([]byte, bool) { return m.BlobField(MetaXMP) }

// ICC returns the embedded colour profile.
func (m *Metadata) ICC() ([]byte, bool) { return m.BlobField(MetaICC) }

// EXIFField returns a parsed EXIF tag by name, e.g. "Make".
func (m *Metadata) EXIFField(tag string) (string, bool) {
	return m.StringField(EXIFPrefix + tag)
}

// MarshalJSON writes the fields as an object. Blobs are written as their
// length.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, m.Len())
	for _, k := range m.Fields() {
		v := m.get(k)
		if b, ok := v.([]byte); ok {
			v = fmt.Sprintf("%d bytes", len(b))
		}
		out[k] = v
	}
	return json.Marshal(out)
}

func (m *Metadata) fingerprint(f *fingerprinter) {
	f.int(m.Len())
	for _, k := range m.Fields() {
		f.string(k)
		switch v := m.get(k).(type) {
		case string:
			f.string("s" + v)
		case int:
			f.int(v)
		case float64:
			f.float(v)
		case []byte:
			f.bytes(v)
		}
	}
}

// MetadataOp replaces the metadata of its input. Pixels pass through.
type MetadataOp struct {
	Set    map[string]any
	Remove []string
}

func (o *MetadataOp) Kind() Kind { return KindMetadata }
func (o *MetadataOp) arity() int { return 1 }

func (o *MetadataOp) validate() error {
	for _, name := range o.Remove {
		if strings.TrimSpace(name) == "" {
			return errorf(InvalidParameter, "metadata", "field name is empty")
		}
	}
	_, err := o.apply(nil)
	return err
}

func (o *MetadataOp) apply(m *Metadata) (*Metadata, error) {
	out := m.clone()
	for _, name := range o.Remove {
		out = out.Without(name)
	}
	names := make([]string, 0, len(o.Set))
	for k := range o.Set {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		var err error
		if out, err = out.With(k, o.Set[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (o *MetadataOp) infer(in []Descriptor) (Descriptor, error) {
	d := in[0]
	m, err := o.apply(d.Meta)
	if err != nil {
		return Descriptor{}, err
	}
	d.Meta = m
	return d, nil
}

func (o *MetadataOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	return pointDemand(ec, out)
}

func (o *MetadataOp) compute(_ *evalContext, out *Region, in []*Region) error {
	out.copyFrom(in[0], 0, 0)
	return nil
}

func (o *MetadataOp) fingerprint(f *fingerprinter) {
	m, _ := o.apply(nil)
	m.fingerprint(f)
	remove := append([]string(nil), o.Remove...)
	sort.Strings(remove)
	for _, name := range remove {
		f.string(name)
	}
}
