package pipeline

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/lucasb-eyer/go-colorful"
)

// Interesting is a smart-crop strategy.
type Interesting int

const (
	// InterestingNone keeps the top-left corner.
	InterestingNone Interesting = iota
	// InterestingCentre keeps the middle.
	InterestingCentre
	// InterestingEntropy trims the edge with less information until the
	// target size is reached.
	InterestingEntropy
	// InterestingAttention keeps the window with the most edges, saturated
	// colour and skin tones.
	InterestingAttention
	// InterestingLow keeps the top-left corner.
	InterestingLow
	// InterestingHigh keeps the bottom-right corner.
	InterestingHigh
)

var interestingNames = [...]string{"none", "centre", "entropy", "attention", "low", "high"}

func (i Interesting) String() string {
	if i >= 0 && int(i) < len(interestingNames) {
		return interestingNames[i]
	}
	return "unknown"
}

// ParseInteresting parses a strategy name. "center" is accepted too.
func ParseInteresting(s string) (Interesting, error) {
	if s == "center" {
		return InterestingCentre, nil
	}
	for i, n := range interestingNames {
		if n == s {
			return Interesting(i), nil
		}
	}
	return 0, errorf(InvalidParameter, "smartcrop", "unknown strategy %q", s)
}

// SmartCropOp crops its input to Width x Height, choosing the offset with
// the Interesting strategy. Content-aware strategies read the whole input
// once; the offset is then remembered per node signature.
type SmartCropOp struct {
	Width, Height int
	Interesting   Interesting
}

func (o *SmartCropOp) Kind() Kind { return KindSmartCrop }
func (o *SmartCropOp) arity() int { return 1 }

func (o *SmartCropOp) validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return errorf(InvalidParameter, "smartcrop", "size %dx%d must be positive", o.Width, o.Height)
	}
	if o.Interesting < InterestingNone || o.Interesting > InterestingHigh {
		return errorf(InvalidParameter, "smartcrop", "unknown strategy %d", o.Interesting)
	}
	return nil
}

func (o *SmartCropOp) infer(in []Descriptor) (Descriptor, error) {
	if o.Width > in[0].Width || o.Height > in[0].Height {
		return Descriptor{}, errorf(OutOfBounds, "smartcrop", "%dx%d larger than %dx%d", o.Width, o.Height, in[0].Width, in[0].Height)
	}
	return in[0].withSize(o.Width, o.Height), nil
}

func (o *SmartCropOp) demand(ec *evalContext, out image.Rectangle) ([]image.Rectangle, error) {
	off, err := o.offset(ec)
	if err != nil {
		return nil, err
	}
	return single(out.Add(off)), nil
}

func (o *SmartCropOp) compute(ec *evalContext, out *Region, in []*Region) error {
	off, err := o.offset(ec)
	if err != nil {
		return err
	}
	out.copyFrom(in[0], off.X, off.Y)
	return nil
}

func (o *SmartCropOp) fingerprint(f *fingerprinter) {
	f.int(o.Width)
	f.int(o.Height)
	f.int(int(o.Interesting))
}

// offset returns the top-left of the crop within the input.
func (o *SmartCropOp) offset(ec *evalContext) (image.Point, error) {
	d := ec.input(0)
	excess := image.Pt(d.Width-o.Width, d.Height-o.Height)
	switch o.Interesting {
	case InterestingNone, InterestingLow:
		return image.Point{}, nil
	case InterestingHigh:
		return excess, nil
	case InterestingCentre:
		return excess.Div(2), nil
	}

	v, err := ec.ev.e.memoize("smartcrop", ec.node.Sig, func() (any, error) {
		g, err := buildAnalysisGrid(ec.ev, ec.node.Inputs[0], o.Interesting == InterestingAttention)
		if err != nil {
			return nil, err
		}
		var p image.Point
		if o.Interesting == InterestingEntropy {
			p = g.entropyWindow(o.Width, o.Height)
		} else {
			p = g.attentionWindow(o.Width, o.Height)
		}
		p.X = min(max(p.X, 0), excess.X)
		p.Y = min(max(p.Y, 0), excess.Y)
		Logger().Debug("smartcrop offset", "node", ec.node.ID, "strategy", o.Interesting, "offset", p)
		return p, nil
	})
	if err != nil {
		return image.Point{}, err
	}
	return v.(image.Point), nil
}

// analysisGrid is a reduced view of an image: the mean luma and colour of
// each cell x cell block.
type analysisGrid struct {
	cols, rows int
	cell       int
	luma       []float64
	rgb        [][3]float64
}

// attentionCells bounds the long side of the attention grid.
const attentionCells = 128

// entropyCells bounds the long side of the entropy grid.
const entropyCells = 256

func buildAnalysisGrid(ev *Evaluator, id NodeID, attention bool) (*analysisGrid, error) {
	n, err := ev.g.Node(id)
	if err != nil {
		return nil, err
	}
	d := n.Desc
	limit := entropyCells
	if attention {
		limit = attentionCells
	}
	cell := max(1, (max(d.Width, d.Height)+limit-1)/limit)
	g := &analysisGrid{
		cols: (d.Width + cell - 1) / cell,
		rows: (d.Height + cell - 1) / cell,
		cell: cell,
	}
	g.luma = make([]float64, g.cols*g.rows)
	g.rgb = make([][3]float64, g.cols*g.rows)
	counts := make([]int, g.cols*g.rows)

	var px []float64
	err = ev.forEachStrip(id, func(r *Region) error {
		for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
			for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
				px = r.PixelAt(x, y, px)
				red, green, blue := colorOf(px, d)
				i := (y/cell)*g.cols + x/cell
				g.luma[i] += luma(red, green, blue)
				g.rgb[i][0] += red
				g.rgb[i][1] += green
				g.rgb[i][2] += blue
				counts[i]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, c := range counts {
		if c == 0 {
			continue
		}
		g.luma[i] /= float64(c)
		for b := range g.rgb[i] {
			g.rgb[i][b] /= float64(c)
		}
	}
	return g, nil
}

// colorOf returns the red, green and blue of a pixel, replicating grey.
func colorOf(px []float64, d Descriptor) (float64, float64, float64) {
	if d.ColorBands() < 3 {
		return px[0], px[0], px[0]
	}
	return px[0], px[1], px[2]
}

// window converts a target size to whole cells, at least one.
func (g *analysisGrid) window(w, h int) (int, int) {
	wc := min(max(1, int(math.Round(float64(w)/float64(g.cell)))), g.cols)
	hc := min(max(1, int(math.Round(float64(h)/float64(g.cell)))), g.rows)
	return wc, hc
}

// sliceEntropy returns the Shannon entropy of the quantised luma of cells
// [x0, x1) x [y0, y1).
func (g *analysisGrid) sliceEntropy(x0, y0, x1, y1 int) float64 {
	var hist [256]int
	n := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[clampUint8(g.luma[y*g.cols+x])]++
			n++
		}
	}
	e := 0.0
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		e -= p * math.Log2(p)
	}
	return e
}

// entropyWindow repeatedly trims a slice from whichever edge carries less
// entropy until the window matches the target.
func (g *analysisGrid) entropyWindow(w, h int) image.Point {
	wc, hc := g.window(w, h)
	x0, y0, x1, y1 := 0, 0, g.cols, g.rows
	for x1-x0 > wc {
		step := min(x1-x0-wc, max(1, (x1-x0)/10))
		if g.sliceEntropy(x0, y0, x0+step, y1) < g.sliceEntropy(x1-step, y0, x1, y1) {
			x0 += step
		} else {
			x1 -= step
		}
	}
	for y1-y0 > hc {
		step := min(y1-y0-hc, max(1, (y1-y0)/10))
		if g.sliceEntropy(x0, y0, x1, y0+step) < g.sliceEntropy(x0, y1-step, x1, y1) {
			y0 += step
		} else {
			y1 -= step
		}
	}
	return image.Pt(x0*g.cell, y0*g.cell)
}

// skinTone is a reference skin colour for the attention score.
var skinTone = colorful.Color{R: 0.78, G: 0.57, B: 0.44}

// attentionWindow scores every cell by edge strength, saturation and
// closeness to skin tone, then returns the window with the highest total.
func (g *analysisGrid) attentionWindow(w, h int) image.Point {
	grey := image.NewGray(image.Rect(0, 0, g.cols, g.rows))
	for i, v := range g.luma {
		grey.Pix[i] = clampUint8(v)
	}
	edges := effect.Sobel(grey)

	score := make([]float64, g.cols*g.rows)
	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			i := y*g.cols + x
			c := colorful.Color{R: g.rgb[i][0] / 255, G: g.rgb[i][1] / 255, B: g.rgb[i][2] / 255}
			_, sat, _ := c.Hsv()
			skin := math.Max(0, 1-c.DistanceLab(skinTone)/0.4)
			edge := float64(edges.RGBAAt(x, y).R)
			score[i] = edge + 128*sat + 192*skin
		}
	}

	wc, hc := g.window(w, h)
	sat := summedArea(score, g.cols, g.rows)
	best, bx, by := math.Inf(-1), 0, 0
	for y := 0; y+hc <= g.rows; y++ {
		for x := 0; x+wc <= g.cols; x++ {
			s := sat.sum(x, y, x+wc, y+hc)
			if s > best {
				best, bx, by = s, x, y
			}
		}
	}
	// Centre the pixel window on the chosen cells.
	cx := bx*g.cell + (wc*g.cell-w)/2
	cy := by*g.cell + (hc*g.cell-h)/2
	return image.Pt(cx, cy)
}

// areaTable is a summed-area table with a zero first row and column.
type areaTable struct {
	stride int
	v      []float64
}

func summedArea(src []float64, cols, rows int) areaTable {
	t := areaTable{stride: cols + 1, v: make([]float64, (cols+1)*(rows+1))}
	for y := 0; y < rows; y++ {
		run := 0.0
		for x := 0; x < cols; x++ {
			run += src[y*cols+x]
			t.v[(y+1)*t.stride+x+1] = t.v[y*t.stride+x+1] + run
		}
	}
	return t
}

func (t areaTable) sum(x0, y0, x1, y1 int) float64 {
	return t.v[y1*t.stride+x1] - t.v[y0*t.stride+x1] - t.v[y1*t.stride+x0] + t.v[y0*t.stride+x0]
}
