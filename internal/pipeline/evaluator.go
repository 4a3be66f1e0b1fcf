package pipeline

import (
	"image"
	"io"

	"github.com/ironsheep/image-pipeline/internal/tiling"
)

// Evaluator computes regions of a graph's nodes on demand. Each request pulls
// only the input rectangles the node needs, consulting the engine's cache
// before computing anything.
type Evaluator struct {
	e *Engine
	g *Graph
}

// Graph returns the evaluated graph.
func (ev *Evaluator) Graph() *Graph {
	return ev.g
}

// Engine returns the backing engine.
func (ev *Evaluator) Engine() *Engine {
	return ev.e
}

// Evaluate returns the pixels of node id within r. The caller owns one
// reference to the region and must Release it. The region may be shared with
// the cache and must not be modified.
func (ev *Evaluator) Evaluate(id NodeID, r image.Rectangle) (*Region, error) {
	n, err := ev.g.Node(id)
	if err != nil {
		return nil, err
	}
	if r.Empty() || !r.In(n.Desc.Bounds()) {
		return nil, errorf(OutOfBounds, "evaluate", "%v outside %s node %d (%dx%d)", r, n.Kind(), id, n.Desc.Width, n.Desc.Height)
	}
	if ac, ok := n.Op.(accessChecker); ok {
		if err := ac.checkAccess(r); err != nil {
			return nil, err
		}
	}

	log := Logger()
	key := cacheKey{sig: n.Sig, rect: r}
	if !n.volatile {
		if v, ok := ev.e.cache.Get(key); ok {
			log.Debug("cache hit", "node", id, "kind", n.Kind(), "rect", r)
			return v.(*Region), nil
		}
	}

	ec, err := ev.context(n)
	if err != nil {
		return nil, err
	}
	need, err := n.Op.demand(ec, r)
	if err != nil {
		return nil, err
	}
	if need != nil && len(need) != len(n.Inputs) {
		return nil, errorf(InvalidParameter, n.Kind().String(), "demand returned %d rectangles for %d inputs", len(need), len(n.Inputs))
	}

	in := make([]*Region, len(n.Inputs))
	defer func() {
		for _, reg := range in {
			if reg != nil {
				reg.Release()
			}
		}
	}()

	var tasks []func() error
	for i, rr := range need {
		if rr.Empty() {
			continue
		}
		tasks = append(tasks, func() error {
			reg, err := ev.Evaluate(n.Inputs[i], rr)
			in[i] = reg
			return err
		})
	}
	if err := ev.e.pool.Run(tasks...); err != nil {
		return nil, err
	}

	out, err := ev.e.newRegion(r, n.Desc)
	if err != nil {
		return nil, err
	}
	if err := n.Op.compute(ec, out, in); err != nil {
		out.Release()
		return nil, err
	}
	ev.e.computed.Add(1)
	log.Debug("region computed", "node", id, "kind", n.Kind(), "rect", r, "bytes", out.Size())

	if !n.volatile && ev.e.cache.Put(key, out) {
		log.Debug("region cached", "node", id, "sig", n.Sig)
	}
	return out, nil
}

func (ev *Evaluator) context(n *Node) (*evalContext, error) {
	descs := make([]Descriptor, len(n.Inputs))
	for i, id := range n.Inputs {
		in, err := ev.g.Node(id)
		if err != nil {
			return nil, err
		}
		descs[i] = in.Desc
	}
	return &evalContext{ev: ev, node: n, in: descs}, nil
}

// Materialize computes the whole output of node id into one region owned by
// the caller. Tiles of a row are computed in parallel and rows in order, so
// sequential sources are read top to bottom.
func (ev *Evaluator) Materialize(id NodeID) (*Region, error) {
	n, err := ev.g.Node(id)
	if err != nil {
		return nil, err
	}
	out, err := ev.e.newRegion(n.Desc.Bounds(), n.Desc)
	if err != nil {
		return nil, err
	}

	ts := ev.e.cfg.TileSize
	cols, rows := tiling.Grid(n.Desc.Width, n.Desc.Height, ts, ts)
	rects := tiling.TileRects(n.Desc.Width, n.Desc.Height, ts, ts)
	for row := 0; row < rows; row++ {
		tasks := make([]func() error, 0, cols)
		for _, r := range rects[row*cols : (row+1)*cols] {
			tasks = append(tasks, func() error {
				tile, err := ev.Evaluate(id, r)
				if err != nil {
					return err
				}
				out.copyFrom(tile, 0, 0)
				tile.Release()
				return nil
			})
		}
		if err := ev.e.pool.Run(tasks...); err != nil {
			out.Release()
			return nil, err
		}
	}
	return out, nil
}

// ForEachTile evaluates node id tile by tile in row-major order and passes
// each tile to fn. The tile is released when fn returns.
func (ev *Evaluator) ForEachTile(id NodeID, tileW, tileH int, fn func(*Region) error) error {
	n, err := ev.g.Node(id)
	if err != nil {
		return err
	}
	if tileW <= 0 || tileH <= 0 {
		return errorf(InvalidParameter, "tiles", "tile size %dx%d must be positive", tileW, tileH)
	}
	for _, r := range tiling.TileRects(n.Desc.Width, n.Desc.Height, tileW, tileH) {
		tile, err := ev.Evaluate(id, r)
		if err != nil {
			return err
		}
		err = fn(tile)
		tile.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// Strip evaluates strip index of node id, each strip being stripHeight rows
// of the full width. The last strip may be shorter.
func (ev *Evaluator) Strip(id NodeID, stripHeight, index int) (*Region, error) {
	n, err := ev.g.Node(id)
	if err != nil {
		return nil, err
	}
	if stripHeight <= 0 {
		return nil, errorf(InvalidParameter, "strip", "strip height %d must be positive", stripHeight)
	}
	r, ok := tiling.StripRect(n.Desc.Width, n.Desc.Height, stripHeight, index)
	if !ok {
		return nil, errorf(OutOfBounds, "strip", "strip %d of %d", index, tiling.StripCount(n.Desc.Height, stripHeight))
	}
	return ev.Evaluate(id, r)
}

// forEachStrip evaluates node id strip by strip, top to bottom.
func (ev *Evaluator) forEachStrip(id NodeID, fn func(*Region) error) error {
	n, err := ev.g.Node(id)
	if err != nil {
		return err
	}
	return ev.ForEachTile(id, n.Desc.Width, stripHeightFor(n.Desc), fn)
}

// stripHeightFor picks a strip height that keeps a strip near 1 MiB.
func stripHeightFor(d Descriptor) int {
	row := max(d.RowBytes(), 1)
	return max(1, min(d.Height, (1<<20)/row))
}

// ToImage materializes node id as a standard image.
func (ev *Evaluator) ToImage(id NodeID) (image.Image, error) {
	reg, err := ev.Materialize(id)
	if err != nil {
		return nil, err
	}
	defer reg.Release()
	return reg.ToImage(), nil
}

// Encode materializes node id and writes it in opts.Format.
func (ev *Evaluator) Encode(w io.Writer, id NodeID, opts EncodeOptions) error {
	c, err := ev.encoder(opts.Format)
	if err != nil {
		return err
	}
	img, err := ev.ToImage(id)
	if err != nil {
		return err
	}
	return CodecError("encode", c.Encode(w, img, opts))
}

// Save materializes node id and writes it to path. The format comes from
// opts, or from the file extension when opts.Format is unknown.
func (ev *Evaluator) Save(path string, id NodeID, opts EncodeOptions) error {
	if opts.Format == FormatUnknown {
		opts.Format = FormatFromFilename(path)
	}
	c, err := ev.encoder(opts.Format)
	if err != nil {
		return err
	}
	img, err := ev.ToImage(id)
	if err != nil {
		return err
	}
	return CodecError("save", c.EncodeToFile(img, path, opts))
}

func (ev *Evaluator) encoder(f ImageFormat) (Codec, error) {
	if f == FormatUnknown {
		return nil, errorf(UnsupportedFormat, "encode", "no output format")
	}
	c, err := ev.e.registry.For(f)
	if err != nil {
		return nil, err
	}
	if !c.Capabilities().Has(CapEncode) {
		return nil, errorf(UnsupportedFormat, "encode", "%s codec cannot encode %s", c.Name(), f)
	}
	return c, nil
}
