package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMetadata_WithWithout(t *testing.T) {
	base := NewMetadata()
	m, err := base.With(MetaOrientation, 6)
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}
	blob := []byte("exif")
	if m, err = m.With(MetaEXIF, blob); err != nil {
		t.Fatalf("With failed: %v", err)
	}
	blob[0] = 'X'

	if base.Len() != 0 {
		t.Errorf("base: got %d fields, want 0", base.Len())
	}
	if o, ok := m.Orientation(); !ok || o != 6 {
		t.Errorf("orientation: got %d %v, want 6 true", o, ok)
	}
	if got, _ := m.EXIF(); string(got) != "exif" {
		t.Errorf("exif: got %q, want %q", got, "exif")
	}
	if _, ok := m.StringField(MetaOrientation); ok {
		t.Error("orientation read back as a string")
	}

	trimmed := m.Without(MetaEXIF)
	if diff := cmp.Diff([]string{MetaEXIF, MetaOrientation}, m.Fields()); diff != "" {
		t.Errorf("original fields (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{MetaOrientation}, trimmed.Fields()); diff != "" {
		t.Errorf("trimmed fields (-want +got):\n%s", diff)
	}
	if m.Equal(trimmed) {
		t.Error("sets with different fields compare equal")
	}
	again, _ := trimmed.With(MetaEXIF, []byte("exif"))
	if !m.Equal(again) {
		t.Error("sets with the same fields compare unequal")
	}
}

func TestMetadata_Defaults(t *testing.T) {
	var m *Metadata
	if m.Len() != 0 || m.Has(MetaOrientation) {
		t.Error("nil metadata is not empty")
	}
	if got := m.PageCount(); got != 1 {
		t.Errorf("page count: got %d, want 1", got)
	}
	if _, ok := m.XResolution(); ok {
		t.Error("nil metadata reports a resolution")
	}
}

func TestMetadata_RejectsBadFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{"empty name", "", 1},
		{"unsupported type", "flag", true},
		{"int64", "count", int64(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMetadata().With(tt.field, tt.value); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("got %v, want InvalidParameter", err)
			}
		})
	}
}

func TestMetadataOp_Propagates(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createSolidPixels(4, 4, 10, 20, 30), 4, 4, 3)

	tagged := mustNode(t)(g.SetMetadata(in, "artist", "ada"))
	tagged = mustNode(t)(g.SetMetadata(tagged, MetaXResolution, 4.0))
	inverted := mustNode(t)(g.Invert(tagged))
	resized := mustNode(t)(g.Resize(inverted, 2, 2, KernelLinear))
	stripped := mustNode(t)(g.RemoveMetadata(resized, "artist"))

	d, err := g.Descriptor(resized)
	if err != nil {
		t.Fatalf("Descriptor failed: %v", err)
	}
	if got, _ := d.Meta.StringField("artist"); got != "ada" {
		t.Errorf("artist: got %q, want %q", got, "ada")
	}
	if got, _ := d.Meta.XResolution(); got != 4 {
		t.Errorf("xres: got %v, want 4", got)
	}

	d, err = g.Descriptor(stripped)
	if err != nil {
		t.Fatalf("Descriptor failed: %v", err)
	}
	if diff := cmp.Diff([]string{MetaXResolution}, d.Meta.Fields()); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}

	src, _ := g.Node(in)
	set, _ := g.Node(tagged)
	if src.Sig == set.Sig {
		t.Error("setting metadata kept the input signature")
	}

	ev := e.Evaluator(g)
	if diff := cmp.Diff(pixelAt(t, ev, in, 1, 1), pixelAt(t, ev, tagged, 1, 1)); diff != "" {
		t.Errorf("pixels changed (-want +got):\n%s", diff)
	}
}

func TestMetadataOp_Errors(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createSolidPixels(2, 2, 1), 2, 2, 1)

	if _, err := g.SetMetadata(in, "when", struct{}{}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("unsupported value: got %v, want InvalidParameter", err)
	}
	if _, err := g.RemoveMetadata(in, " "); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("blank name: got %v, want InvalidParameter", err)
	}
}
