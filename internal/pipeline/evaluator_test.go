package pipeline

import (
	"bytes"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ironsheep/image-pipeline/internal/memory"
)

// compareTiles checks every tile of node id against the same rectangle of
// the whole image computed in one piece.
func compareTiles(t *testing.T, ev *Evaluator, id NodeID, tw, th int) {
	t.Helper()
	whole := materialize(t, ev, id)
	tiles := 0
	err := ev.ForEachTile(id, tw, th, func(tile *Region) error {
		tiles++
		for y := tile.Rect.Min.Y; y < tile.Rect.Max.Y; y++ {
			for x := tile.Rect.Min.X; x < tile.Rect.Max.X; x++ {
				if !bytes.Equal(tile.pixelBytes(x, y), whole.pixelBytes(x, y)) {
					t.Fatalf("tile %v pixel (%d,%d): got %v, want %v", tile.Rect, x, y, tile.pixelBytes(x, y), whole.pixelBytes(x, y))
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachTile failed: %v", err)
	}
	if tiles == 0 {
		t.Fatal("no tiles visited")
	}
}

func TestEvaluate_TilesMatchWholeImage(t *testing.T) {
	const w, h = 61, 47
	rgb := createPatternPixels(w, h, 3)
	rgba := createPatternPixels(w, h, 4)

	tests := []struct {
		name  string
		bands int
		build func(g *Graph, in NodeID) (NodeID, error)
	}{
		{"crop", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.Crop(in, 5, 7, 40, 30) }},
		{"embed mirror", 3, func(g *Graph, in NodeID) (NodeID, error) {
			return g.Embed(in, 20, 10, 120, 90, ExtendMirror, nil)
		}},
		{"embed repeat", 3, func(g *Graph, in NodeID) (NodeID, error) {
			return g.Embed(in, -5, 3, 100, 70, ExtendRepeat, nil)
		}},
		{"embed background", 4, func(g *Graph, in NodeID) (NodeID, error) {
			return g.Embed(in, 3, 3, 80, 60, ExtendBackground, []float64{10, 20, 30})
		}},
		{"flip", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.Flip(in, Vertical) }},
		{"rot90", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.Rot90(in, 90) }},
		{"rot270", 4, func(g *Graph, in NodeID) (NodeID, error) { return g.Rot90(in, -90) }},
		{"rotate", 4, func(g *Graph, in NodeID) (NodeID, error) { return g.Rotate(in, 30, nil) }},
		{"resize down lanczos3", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.Resize(in, 23, 19, KernelLanczos3) }},
		{"resize up cubic", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.Resize(in, 130, 90, KernelCubic) }},
		{"resize nearest", 4, func(g *Graph, in NodeID) (NodeID, error) { return g.Resize(in, 40, 90, KernelNearest) }},
		{"blur", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.Blur(in, 2) }},
		{"sharpen", 4, func(g *Graph, in NodeID) (NodeID, error) { return g.Sharpen(in, 1, 1.5) }},
		{"sobel", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.Sobel(in) }},
		{"canny", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.Canny(in, DefaultCannySigma, 0, 0) }},
		{"histogram equalisation", 3, func(g *Graph, in NodeID) (NodeID, error) { return g.EqualizeHistogram(in) }},
		{"smartcrop attention", 3, func(g *Graph, in NodeID) (NodeID, error) {
			return g.SmartCrop(in, 30, 30, InterestingAttention)
		}},
		{"chain", 3, func(g *Graph, in NodeID) (NodeID, error) {
			id, err := g.Blur(in, 1.2)
			if err != nil {
				return -1, err
			}
			if id, err = g.Resize(id, 90, 70, KernelLinear); err != nil {
				return -1, err
			}
			return g.Rot90(id, 180)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, func(c *Config) {
				c.TileSize = 16
				c.Concurrency = 4
			})
			g := NewGraph()
			defer g.Close()
			pix := rgb
			if tt.bands == 4 {
				pix = rgba
			}
			in := wrapPixels(t, e, g, pix, w, h, tt.bands)
			id := mustNode(t)(tt.build(g, in))
			compareTiles(t, e.Evaluator(g), id, 13, 11)
		})
	}
}

func TestEvaluate_OutOfBounds(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createPatternPixels(10, 10, 1), 10, 10, 1)
	ev := e.Evaluator(g)

	tests := []struct {
		name string
		r    image.Rectangle
	}{
		{"negative origin", image.Rect(-1, 0, 5, 5)},
		{"past right edge", image.Rect(5, 5, 11, 10)},
		{"empty", image.Rect(3, 3, 3, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ev.Evaluate(in, tt.r)
			if !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("got %v, want OutOfBounds", err)
			}
		})
	}
}

func TestEvaluate_CacheHit(t *testing.T) {
	e := newTestEngine(t, nil)
	pix := createPatternPixels(32, 32, 3)
	r := image.Rect(4, 4, 20, 20)

	build := func(g *Graph) NodeID {
		in := wrapPixels(t, e, g, pix, 32, 32, 3)
		id := mustNode(t)(g.Blur(in, 1))
		return mustNode(t)(g.Invert(id))
	}

	g1 := NewGraph()
	defer g1.Close()
	id1 := build(g1)
	reg, err := e.Evaluator(g1).Evaluate(id1, r)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	want := append([]byte(nil), reg.Pix...)
	reg.Release()

	computed := e.Computed()
	if computed != 3 {
		t.Errorf("computed: got %d, want 3", computed)
	}

	// An identical pipeline in another graph shares the cached result.
	g2 := NewGraph()
	defer g2.Close()
	id2 := build(g2)
	reg, err = e.Evaluator(g2).Evaluate(id2, r)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	defer reg.Release()
	if got := e.Computed(); got != computed {
		t.Errorf("computed after cache hit: got %d, want %d", got, computed)
	}
	if !bytes.Equal(reg.Pix, want) {
		t.Error("cached region differs from computed region")
	}
	if hits := e.Stats().Cache.Hits; hits == 0 {
		t.Error("expected a cache hit")
	}

	e.ClearCache()
	reg2, err := e.Evaluator(g2).Evaluate(id2, r)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	reg2.Release()
	if got := e.Computed(); got != computed+3 {
		t.Errorf("computed after clear: got %d, want %d", got, computed+3)
	}
}

func TestEvaluate_CacheDisabled(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.CacheMaxOps = 0 })
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createPatternPixels(8, 8, 1), 8, 8, 1)
	ev := e.Evaluator(g)

	for i := 0; i < 2; i++ {
		reg, err := ev.Evaluate(in, image.Rect(0, 0, 8, 8))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		reg.Release()
	}
	if got := e.Computed(); got != 2 {
		t.Errorf("computed: got %d, want 2", got)
	}
}

func TestEvaluate_SequentialAccess(t *testing.T) {
	codec := &fakeCodec{width: 40, height: 40, bands: 3}

	tests := []struct {
		name       string
		sequential bool
		wantErr    error
	}{
		{"sequential rejects upward read", true, ErrSequentialAccessViolation},
		{"random allows upward read", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, nil, codec)
			g := NewGraph()
			defer g.Close()
			src, err := e.Load(g, pngMagic, LoadOptions{Sequential: tt.sequential})
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			ev := e.Evaluator(g)

			reg, err := ev.Evaluate(src, image.Rect(0, 20, 40, 30))
			if err != nil {
				t.Fatalf("first read failed: %v", err)
			}
			reg.Release()

			reg, err = ev.Evaluate(src, image.Rect(0, 0, 40, 10))
			if !errors.Is(err, tt.wantErr) && !(tt.wantErr == nil && err == nil) {
				t.Fatalf("upward read: got %v, want %v", err, tt.wantErr)
			}
			if err == nil {
				reg.Release()
			}
		})
	}
}

func TestMaterialize_SequentialSource(t *testing.T) {
	codec := &fakeCodec{width: 300, height: 200, bands: 3}
	e := newTestEngine(t, func(c *Config) {
		c.TileSize = 64
		c.Concurrency = 4
	}, codec)
	g := NewGraph()
	defer g.Close()
	src, err := e.Load(g, pngMagic, LoadOptions{Sequential: true})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	id := mustNode(t)(g.Resize(src, 150, 100, KernelLanczos3))
	reg := materialize(t, e.Evaluator(g), id)
	if reg.Rect != image.Rect(0, 0, 150, 100) {
		t.Errorf("rect: got %v, want 150x100", reg.Rect)
	}
}

func TestEvaluate_Strip(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	pix := createPatternPixels(20, 25, 1)
	in := wrapPixels(t, e, g, pix, 20, 25, 1)
	ev := e.Evaluator(g)

	reg, err := ev.Strip(in, 10, 2)
	if err != nil {
		t.Fatalf("Strip failed: %v", err)
	}
	defer reg.Release()
	if want := image.Rect(0, 20, 20, 25); reg.Rect != want {
		t.Errorf("strip rect: got %v, want %v", reg.Rect, want)
	}
	if got, want := reg.At(3, 22, 0), float64(pattern(3, 22, 0)); got != want {
		t.Errorf("pixel: got %v, want %v", got, want)
	}

	if _, err := ev.Strip(in, 10, 3); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("strip past end: got %v, want OutOfBounds", err)
	}
	if _, err := ev.Strip(in, 0, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("zero strip height: got %v, want InvalidParameter", err)
	}
}

func TestEvaluate_ForEachTileOrder(t *testing.T) {
	e := newTestEngine(t, nil)
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createPatternPixels(10, 7, 1), 10, 7, 1)

	var got []image.Rectangle
	err := e.Evaluator(g).ForEachTile(in, 4, 4, func(r *Region) error {
		got = append(got, r.Rect)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachTile failed: %v", err)
	}
	want := []image.Rectangle{
		image.Rect(0, 0, 4, 4), image.Rect(4, 0, 8, 4), image.Rect(8, 0, 10, 4),
		image.Rect(0, 4, 4, 7), image.Rect(4, 4, 8, 7), image.Rect(8, 4, 10, 7),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tile order mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_MemoryAccounting(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.CacheMaxOps = 0 })
	g := NewGraph()
	pix := createPatternPixels(50, 40, 3)
	in := wrapPixels(t, e, g, pix, 50, 40, 3)
	id := mustNode(t)(g.Invert(in))

	base := e.Accountant().Current()
	if base != int64(len(pix)) {
		t.Errorf("source charge: got %d, want %d", base, len(pix))
	}

	reg, err := e.Evaluator(g).Materialize(id)
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if hw := e.Stats().MemoryHighWater; hw < base+reg.Size() {
		t.Errorf("high water: got %d, want at least %d", hw, base+reg.Size())
	}
	reg.Release()
	if got := e.Accountant().Current(); got != base {
		t.Errorf("after release: got %d, want %d", got, base)
	}

	e.ResetHighWater()
	if got := e.Stats().MemoryHighWater; got != base {
		t.Errorf("high water after reset: got %d, want %d", got, base)
	}

	g.Close()
	if got := e.Accountant().Current(); got != 0 {
		t.Errorf("after graph close: got %d, want 0", got)
	}
}

func TestEvaluate_OutOfMemory(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.CacheMaxOps = 0
		c.MemoryLimit = 150
	})
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createPatternPixels(10, 10, 1), 10, 10, 1)
	id := mustNode(t)(g.Invert(in))

	_, err := e.Evaluator(g).Materialize(id)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("got %v, want OutOfMemory", err)
	}
	// The failed call leaves nothing allocated beyond the source.
	if got := e.Accountant().Current(); got != 100 {
		t.Errorf("current: got %d, want 100", got)
	}
}

func TestEngine_SharedAccountant(t *testing.T) {
	acct := memory.New()
	shared := func(c *Config) { c.Accountant = acct }
	e1 := newTestEngine(t, shared)
	e2 := newTestEngine(t, shared)
	if got := acct.Reclaimers(); got != 2 {
		t.Fatalf("reclaimers: got %d, want 2", got)
	}

	g1 := NewGraph()
	defer g1.Close()
	in := wrapPixels(t, e1, g1, createPatternPixels(10, 10, 1), 10, 10, 1)
	id := mustNode(t)(g1.Invert(in))
	reg, err := e1.Evaluator(g1).Evaluate(id, image.Rect(0, 0, 10, 10))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	reg.Release()
	cached := e1.Stats().Cache.Entries
	if cached == 0 {
		t.Fatal("expected cached results in the first engine")
	}

	// The second engine's load only fits once the first engine's cache
	// gives memory back.
	acct.SetLimit(acct.Current() + 50)
	g2 := NewGraph()
	defer g2.Close()
	wrapPixels(t, e2, g2, createPatternPixels(10, 10, 1), 10, 10, 1)
	if got := e1.Stats().Cache.Entries; got >= cached {
		t.Errorf("first engine cache entries: got %d, want fewer than %d", got, cached)
	}

	e1.Close()
	if got := acct.Reclaimers(); got != 1 {
		t.Errorf("reclaimers after close: got %d, want 1", got)
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.TileSize = 32
		c.Concurrency = AutoConcurrency
	})
	g := NewGraph()
	defer g.Close()
	in := wrapPixels(t, e, g, createPatternPixels(128, 96, 3), 128, 96, 3)
	id := mustNode(t)(g.Blur(in, 1.5))
	ev := e.Evaluator(g)

	want := materialize(t, ev, id)
	e.ClearCache()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg, err := ev.Materialize(id)
			if err != nil {
				errs <- err
				return
			}
			defer reg.Release()
			if !bytes.Equal(reg.Pix, want.Pix) {
				errs <- errors.New("concurrent result differs")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
