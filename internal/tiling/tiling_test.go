package tiling

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTileRects(t *testing.T) {
	tests := []struct {
		name                  string
		width, height, tw, th int
		want                  []image.Rectangle
	}{
		{
			"exact fit",
			4, 4, 2, 2,
			[]image.Rectangle{
				image.Rect(0, 0, 2, 2), image.Rect(2, 0, 4, 2),
				image.Rect(0, 2, 2, 4), image.Rect(2, 2, 4, 4),
			},
		},
		{
			"clipped edges",
			5, 3, 2, 2,
			[]image.Rectangle{
				image.Rect(0, 0, 2, 2), image.Rect(2, 0, 4, 2), image.Rect(4, 0, 5, 2),
				image.Rect(0, 2, 2, 3), image.Rect(2, 2, 4, 3), image.Rect(4, 2, 5, 3),
			},
		},
		{
			"tile larger than image",
			3, 2, 10, 10,
			[]image.Rectangle{image.Rect(0, 0, 3, 2)},
		},
		{"zero tile width", 10, 10, 0, 5, nil},
		{"negative tile height", 10, 10, 5, -1, nil},
		{"empty image", 0, 10, 5, 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TileRects(tt.width, tt.height, tt.tw, tt.th)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("TileRects mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTileRects_CoverWithoutOverlap(t *testing.T) {
	const w, h = 37, 23
	seen := make([]int, w*h)

	for _, r := range TileRects(w, h, 8, 5) {
		if r.Empty() {
			t.Fatalf("empty tile %v", r)
		}
		if r.Dx() > 8 || r.Dy() > 5 {
			t.Errorf("tile %v larger than requested", r)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				seen[y*w+x]++
			}
		}
	}

	for i, n := range seen {
		if n != 1 {
			t.Fatalf("pixel (%d,%d) covered %d times, want 1", i%w, i/w, n)
		}
	}
}

func TestStripCount(t *testing.T) {
	tests := []struct {
		height, strip, want int
	}{
		{30000, 1000, 30},
		{30500, 1000, 31},
		{999, 1000, 1},
		{1000, 0, 0},
		{1000, -5, 0},
		{0, 10, 0},
	}

	for _, tt := range tests {
		if got := StripCount(tt.height, tt.strip); got != tt.want {
			t.Errorf("StripCount(%d, %d): got %d, want %d", tt.height, tt.strip, got, tt.want)
		}
	}
}

func TestStripRect(t *testing.T) {
	r, ok := StripRect(500, 30000, 1000, 29)
	if !ok {
		t.Fatal("strip 29 should exist")
	}
	if r.Dy() != 1000 || r.Min.Y != 29000 {
		t.Errorf("strip 29: got %v, want height 1000 at y=29000", r)
	}

	r, ok = StripRect(500, 30500, 1000, 30)
	if !ok {
		t.Fatal("strip 30 should exist")
	}
	if r.Dy() != 500 {
		t.Errorf("last strip height: got %d, want 500", r.Dy())
	}

	if _, ok := StripRect(500, 30000, 1000, 30); ok {
		t.Error("strip 30 of 30 should not exist")
	}
	if _, ok := StripRect(500, 30000, 1000, -1); ok {
		t.Error("negative strip index should not exist")
	}
}

func TestGrid(t *testing.T) {
	cols, rows := Grid(100, 50, 64, 64)
	if cols != 2 || rows != 1 {
		t.Errorf("Grid: got %dx%d, want 2x1", cols, rows)
	}
}
