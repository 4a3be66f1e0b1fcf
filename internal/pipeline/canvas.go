package pipeline

import (
	"image"
	"sync"

	"github.com/google/uuid"

	"github.com/ironsheep/image-pipeline/internal/memory"
)

// Canvas is a mutable uchar image for drawing. Unlike every other image in a
// pipeline it changes in place: drawing takes the canvas's write lock, and a
// graph node reading the canvas takes its read lock for the copy. Canvas
// nodes are never cached.
type Canvas struct {
	id   uuid.UUID
	desc Descriptor
	acct *memory.Accountant

	mu       sync.RWMutex
	pix      []byte
	released bool
}

// NewCanvas allocates a zeroed canvas charged to e's accountant.
func (e *Engine) NewCanvas(width, height, bands int) (*Canvas, error) {
	desc := NewDescriptor(width, height, bands, Uchar)
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if bands > 4 {
		return nil, errorf(InvalidParameter, "canvas", "%d bands, at most 4 supported", bands)
	}
	if err := e.acct.Alloc(desc.Bytes()); err != nil {
		return nil, wrapError(OutOfMemory, "canvas", err)
	}
	return &Canvas{
		id:   uuid.New(),
		desc: desc,
		acct: e.acct,
		pix:  make([]byte, desc.Bytes()),
	}, nil
}

// CanvasFrom materializes node id of ev's graph into a new canvas.
func (e *Engine) CanvasFrom(ev *Evaluator, id NodeID) (*Canvas, error) {
	reg, err := ev.Materialize(id)
	if err != nil {
		return nil, err
	}
	defer reg.Release()
	if reg.Format != Uchar {
		return nil, errorf(DescriptorMismatch, "canvas", "needs uchar input, got %s", reg.Format)
	}
	c, err := e.NewCanvas(reg.Rect.Dx(), reg.Rect.Dy(), reg.Bands)
	if err != nil {
		return nil, err
	}
	copy(c.pix, reg.Pix)
	return c, nil
}

// ID identifies the canvas.
func (c *Canvas) ID() uuid.UUID { return c.id }

// Descriptor describes the canvas.
func (c *Canvas) Descriptor() Descriptor { return c.desc }

// Close returns the canvas memory to the accountant. Further drawing fails.
func (c *Canvas) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.pix = nil
	c.acct.Free(c.desc.Bytes())
}

// ink converts a caller colour to the canvas's bands. Three values on a grey
// canvas become Rec. 709 luma; missing alpha is opaque.
func (c *Canvas) ink(op string, px []float64) ([]byte, error) {
	if len(px) == 3 && c.desc.ColorBands() == 1 {
		px = []float64{luma(px[0], px[1], px[2])}
	}
	full, err := expandPixel(op, px, c.desc)
	if err != nil {
		return nil, err
	}
	return encodePixel(full, Uchar), nil
}

func (c *Canvas) lock(op string) error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return errorf(InvalidParameter, op, "canvas is closed")
	}
	return nil
}

func (c *Canvas) put(x, y int, ink []byte) {
	if x < 0 || y < 0 || x >= c.desc.Width || y >= c.desc.Height {
		return
	}
	i := (y*c.desc.Width + x) * c.desc.Bands
	copy(c.pix[i:i+c.desc.Bands], ink)
}

func (c *Canvas) span(x0, x1, y int, ink []byte) {
	for x := x0; x <= x1; x++ {
		c.put(x, y, ink)
	}
}

// DrawRect draws r, filled or as a one-pixel outline. Parts outside the
// canvas are clipped.
func (c *Canvas) DrawRect(r image.Rectangle, ink []float64, fill bool) error {
	if r.Empty() {
		return errorf(InvalidParameter, "draw_rect", "rectangle %v is empty", r)
	}
	b, err := c.ink("draw_rect", ink)
	if err != nil {
		return err
	}
	if err := c.lock("draw_rect"); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if fill {
		area := r.Intersect(c.desc.Bounds())
		for y := area.Min.Y; y < area.Max.Y; y++ {
			c.span(area.Min.X, area.Max.X-1, y, b)
		}
		return nil
	}
	c.span(r.Min.X, r.Max.X-1, r.Min.Y, b)
	c.span(r.Min.X, r.Max.X-1, r.Max.Y-1, b)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		c.put(r.Min.X, y, b)
		c.put(r.Max.X-1, y, b)
	}
	return nil
}

// DrawLine draws a one-pixel line between two points inclusive.
func (c *Canvas) DrawLine(x0, y0, x1, y1 int, ink []float64) error {
	b, err := c.ink("draw_line", ink)
	if err != nil {
		return err
	}
	if err := c.lock("draw_line"); err != nil {
		return err
	}
	defer c.mu.Unlock()

	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		c.put(x0, y0, b)
		if x0 == x1 && y0 == y1 {
			return nil
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DrawCircle draws a circle of the given radius around (cx, cy), filled or
// as a one-pixel outline.
func (c *Canvas) DrawCircle(cx, cy, radius int, ink []float64, fill bool) error {
	if radius < 0 {
		return errorf(InvalidParameter, "draw_circle", "radius %d must not be negative", radius)
	}
	b, err := c.ink("draw_circle", ink)
	if err != nil {
		return err
	}
	if err := c.lock("draw_circle"); err != nil {
		return err
	}
	defer c.mu.Unlock()

	x, y := radius, 0
	e := 1 - radius
	for x >= y {
		if fill {
			c.span(cx-x, cx+x, cy+y, b)
			c.span(cx-x, cx+x, cy-y, b)
			c.span(cx-y, cx+y, cy+x, b)
			c.span(cx-y, cx+y, cy-x, b)
		} else {
			for _, p := range [][2]int{
				{x, y}, {y, x}, {-y, x}, {-x, y},
				{-x, -y}, {-y, -x}, {y, -x}, {x, -y},
			} {
				c.put(cx+p[0], cy+p[1], b)
			}
		}
		y++
		if e < 0 {
			e += 2*y + 1
		} else {
			x--
			e += 2*(y-x) + 1
		}
	}
	return nil
}

// FloodFill replaces the 4-connected area of pixels equal to the pixel at
// (x, y) with ink.
func (c *Canvas) FloodFill(x, y int, ink []float64) error {
	if !image.Pt(x, y).In(c.desc.Bounds()) {
		return errorf(OutOfBounds, "flood_fill", "(%d,%d) outside %dx%d", x, y, c.desc.Width, c.desc.Height)
	}
	b, err := c.ink("flood_fill", ink)
	if err != nil {
		return err
	}
	if err := c.lock("flood_fill"); err != nil {
		return err
	}
	defer c.mu.Unlock()

	n := c.desc.Bands
	w, h := c.desc.Width, c.desc.Height
	at := func(x, y int) []byte {
		i := (y*w + x) * n
		return c.pix[i : i+n]
	}
	target := append([]byte(nil), at(x, y)...)
	if string(target) == string(b) {
		return nil
	}
	match := func(x, y int) bool { return string(at(x, y)) == string(target) }

	stack := []image.Point{{X: x, Y: y}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !match(p.X, p.Y) {
			continue
		}
		l, r := p.X, p.X
		for l > 0 && match(l-1, p.Y) {
			l--
		}
		for r < w-1 && match(r+1, p.Y) {
			r++
		}
		for i := l; i <= r; i++ {
			copy(at(i, p.Y), b)
			for _, ny := range []int{p.Y - 1, p.Y + 1} {
				if ny >= 0 && ny < h && match(i, ny) {
					stack = append(stack, image.Pt(i, ny))
				}
			}
		}
	}
	return nil
}

// CanvasOp reads a canvas as a source.
type CanvasOp struct {
	c *Canvas
}

func (o *CanvasOp) Kind() Kind     { return KindCanvas }
func (o *CanvasOp) arity() int     { return 0 }
func (o *CanvasOp) volatile() bool { return true }

func (o *CanvasOp) validate() error {
	if o.c == nil {
		return errorf(InvalidParameter, "canvas", "nil canvas")
	}
	return nil
}

func (o *CanvasOp) infer([]Descriptor) (Descriptor, error) { return o.c.desc, nil }

func (o *CanvasOp) demand(*evalContext, image.Rectangle) ([]image.Rectangle, error) {
	return nil, nil
}

func (o *CanvasOp) compute(_ *evalContext, out *Region, _ []*Region) error {
	c := o.c
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return errorf(InvalidParameter, "canvas", "canvas is closed")
	}
	row := c.desc.RowBytes()
	n := out.Rect.Dx() * c.desc.Bands
	for y := out.Rect.Min.Y; y < out.Rect.Max.Y; y++ {
		si := y*row + out.Rect.Min.X*c.desc.Bands
		copy(out.Pix[out.offset(out.Rect.Min.X, y):], c.pix[si:si+n])
	}
	return nil
}

func (o *CanvasOp) fingerprint(f *fingerprinter) { f.bytes(o.c.id[:]) }
