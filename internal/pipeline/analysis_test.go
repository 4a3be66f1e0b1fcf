package pipeline

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func createImageWithMargins(width, height, margin int, content, background []byte) []byte {
	pix := createSolidPixels(width, height, background...)
	fillRect(pix, width, image.Rect(margin, margin, width-margin, height-margin), content...)
	return pix
}

func TestFindTrim(t *testing.T) {
	tests := []struct {
		name       string
		pix        []byte
		width      int
		bands      int
		threshold  float64
		background []float64
		want       image.Rectangle
	}{
		{
			name:      "white margins",
			pix:       createImageWithMargins(200, 200, 20, []byte{255, 0, 0}, []byte{255, 255, 255}),
			width:     200,
			bands:     3,
			threshold: DefaultTrimThreshold,
			want:      image.Rect(20, 20, 180, 180),
		},
		{
			name:      "black margins grey",
			pix:       createImageWithMargins(150, 100, 25, []byte{200}, []byte{0}),
			width:     150,
			bands:     1,
			threshold: DefaultTrimThreshold,
			want:      image.Rect(25, 25, 125, 75),
		},
		{
			name:      "content below threshold",
			pix:       createImageWithMargins(50, 50, 10, []byte{250, 250, 250}, []byte{255, 255, 255}),
			width:     50,
			bands:     3,
			threshold: DefaultTrimThreshold,
			want:      image.Rect(0, 0, 50, 50),
		},
		{
			name:       "explicit background",
			pix:        createImageWithMargins(100, 100, 10, []byte{100, 100, 100}, []byte{200, 200, 200}),
			width:      100,
			bands:      3,
			threshold:  DefaultTrimThreshold,
			background: []float64{200, 200, 200},
			want:       image.Rect(10, 10, 90, 90),
		},
		{
			name:       "background not present",
			pix:        createSolidPixels(30, 20, 0, 0, 0),
			width:      30,
			bands:      3,
			threshold:  DefaultTrimThreshold,
			background: []float64{255},
			want:       image.Rect(0, 0, 30, 20),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, nil)
			g := NewGraph()
			defer g.Close()
			height := len(tt.pix) / tt.bands / tt.width
			in := wrapPixels(t, e, g, tt.pix, tt.width, height, tt.bands)

			got, err := e.Evaluator(g).FindTrim(in, tt.threshold, tt.background)
			if err != nil {
				t.Fatalf("FindTrim failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindTrim_InvalidThreshold(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createSolidPixels(4, 4, 0), 4, 4, 1)
	if _, err := e.Evaluator(g).FindTrim(in, -1, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("got %v, want InvalidParameter", err)
	}
}

func TestStatistics(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	// Two columns: band 0 is 0 and 100, band 1 is always 50.
	pix := createSolidPixels(2, 3, 0, 50)
	for y := 0; y < 3; y++ {
		pix[(y*2+1)*2] = 100
	}
	in := wrapPixels(t, e, g, pix, 2, 3, 2)

	got, err := e.Evaluator(g).Statistics(in)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}

	band0SD := math.Sqrt(6 * 2500.0 / 5)
	all := []float64{0, 0, 0, 100, 100, 100, 50, 50, 50, 50, 50, 50}
	want := Statistics{
		BandStats: BandStats{Min: 0, Max: 100, Mean: 50, StdDev: sampleStdDev(all)},
		Bands: []BandStats{
			{Min: 0, Max: 100, Mean: 50, StdDev: band0SD},
			{Min: 50, Max: 50, Mean: 50, StdDev: 0},
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}

func sampleStdDev(vs []float64) float64 {
	mean := 0.0
	for _, v := range vs {
		mean += v
	}
	mean /= float64(len(vs))
	ss := 0.0
	for _, v := range vs {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(vs)-1))
}

func TestStatistics_Gradient(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	pix := make([]byte, 256*10)
	for y := 0; y < 10; y++ {
		for x := 0; x < 256; x++ {
			pix[y*256+x] = byte(x)
		}
	}
	in := wrapPixels(t, e, g, pix, 256, 10, 1)

	got, err := e.Evaluator(g).Statistics(in)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if got.Min != 0 || got.Max != 255 {
		t.Errorf("range: got [%v, %v], want [0, 255]", got.Min, got.Max)
	}
	if got.Mean != 127.5 {
		t.Errorf("mean: got %v, want 127.5", got.Mean)
	}
	if got.StdDev < 50 {
		t.Errorf("stddev: got %v, want > 50", got.StdDev)
	}
}

func TestAverageColor(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createSolidPixels(50, 50, 128, 64, 32), 50, 50, 3)

	got, err := e.Evaluator(g).AverageColor(in)
	if err != nil {
		t.Fatalf("AverageColor failed: %v", err)
	}
	if diff := cmp.Diff([]float64{128, 64, 32}, got); diff != "" {
		t.Errorf("average mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectBackground(t *testing.T) {
	tests := []struct {
		name       string
		pix        []byte
		size       int
		stripWidth int
		want       []float64
	}{
		{"white", createImageWithMargins(100, 100, 20, []byte{255, 0, 0}, []byte{255, 255, 255}), 100, DefaultStripWidth, []float64{255, 255, 255}},
		{"black", createImageWithMargins(100, 100, 15, []byte{0, 255, 0}, []byte{0, 0, 0}), 100, DefaultStripWidth, []float64{0, 0, 0}},
		{"wide strip", createImageWithMargins(100, 100, 25, []byte{255, 0, 0}, []byte{128, 128, 128}), 100, 20, []float64{128, 128, 128}},
		{"too small uses average", createSolidPixels(12, 12, 9, 8, 7), 12, DefaultStripWidth, []float64{9, 8, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, nil)
			g := NewGraph()
			defer g.Close()
			in := wrapPixels(t, e, g, tt.pix, tt.size, tt.size, 3)

			got, err := e.Evaluator(g).DetectBackground(in, tt.stripWidth)
			if err != nil {
				t.Fatalf("DetectBackground failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("background mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPixel(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createPatternPixels(9, 9, 4), 9, 9, 4)
	ev := e.Evaluator(g)

	want := []float64{float64(pattern(4, 7, 0)), float64(pattern(4, 7, 1)), float64(pattern(4, 7, 2)), float64(pattern(4, 7, 3))}
	if diff := cmp.Diff(want, pixelAt(t, ev, in, 4, 7)); diff != "" {
		t.Errorf("pixel mismatch (-want +got):\n%s", diff)
	}
	if _, err := ev.Pixel(in, 9, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("outside: got %v, want OutOfBounds", err)
	}
}
