package pipeline

import (
	"image"
	"math"
	"slices"
)

// BandStats summarises the samples of one band, or of all bands.
type BandStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Statistics holds whole-image figures over every sample, plus one entry
// per band.
type Statistics struct {
	BandStats
	Bands []BandStats `json:"bands"`
}

type accumulator struct {
	n          int
	sum, sum2  float64
	minV, maxV float64
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v < a.minV {
		a.minV = v
	}
	if a.n == 0 || v > a.maxV {
		a.maxV = v
	}
	a.n++
	a.sum += v
	a.sum2 += v * v
}

func (a *accumulator) merge(b accumulator) {
	if b.n == 0 {
		return
	}
	if a.n == 0 || b.minV < a.minV {
		a.minV = b.minV
	}
	if a.n == 0 || b.maxV > a.maxV {
		a.maxV = b.maxV
	}
	a.n += b.n
	a.sum += b.sum
	a.sum2 += b.sum2
}

// stats uses the sample standard deviation.
func (a *accumulator) stats() BandStats {
	s := BandStats{Min: a.minV, Max: a.maxV}
	if a.n == 0 {
		return s
	}
	s.Mean = a.sum / float64(a.n)
	if a.n > 1 {
		s.StdDev = math.Sqrt(math.Max(0, (a.sum2-a.sum*a.sum/float64(a.n))/float64(a.n-1)))
	}
	return s
}

// Statistics computes min, max, mean and standard deviation of node id,
// reading it strip by strip.
func (ev *Evaluator) Statistics(id NodeID) (Statistics, error) {
	d, err := ev.g.Descriptor(id)
	if err != nil {
		return Statistics{}, err
	}
	acc := make([]accumulator, d.Bands)
	var row []float64
	err = ev.forEachStrip(id, func(r *Region) error {
		for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
			row = r.rowFloats(y, r.Rect.Min.X, r.Rect.Max.X, row)
			for i, v := range row {
				acc[i%d.Bands].add(v)
			}
		}
		return nil
	})
	if err != nil {
		return Statistics{}, err
	}

	var all accumulator
	out := Statistics{Bands: make([]BandStats, d.Bands)}
	for b := range acc {
		out.Bands[b] = acc[b].stats()
		all.merge(acc[b])
	}
	out.BandStats = all.stats()
	return out, nil
}

// AverageColor returns the mean of each band.
func (ev *Evaluator) AverageColor(id NodeID) ([]float64, error) {
	s, err := ev.Statistics(id)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(s.Bands))
	for b, bs := range s.Bands {
		out[b] = bs.Mean
	}
	return out, nil
}

// Pixel returns the samples at (x, y).
func (ev *Evaluator) Pixel(id NodeID, x, y int) ([]float64, error) {
	reg, err := ev.Evaluate(id, image.Rect(x, y, x+1, y+1))
	if err != nil {
		return nil, err
	}
	defer reg.Release()
	return reg.PixelAt(x, y, nil), nil
}

// DefaultTrimThreshold is the FindTrim threshold callers use when they have
// no better value.
const DefaultTrimThreshold = 10

// FindTrim returns the bounding box of pixels that differ from background
// by more than threshold in any band. A nil background means the pixel at
// (0, 0). An image with no such pixel returns its full bounds.
func (ev *Evaluator) FindTrim(id NodeID, threshold float64, background []float64) (image.Rectangle, error) {
	if !finite(threshold) || threshold < 0 {
		return image.Rectangle{}, errorf(InvalidParameter, "find_trim", "threshold %v must not be negative", threshold)
	}
	d, err := ev.g.Descriptor(id)
	if err != nil {
		return image.Rectangle{}, err
	}
	var bg []float64
	if background == nil {
		if bg, err = ev.Pixel(id, 0, 0); err != nil {
			return image.Rectangle{}, err
		}
	} else if bg, err = expandPixel("find_trim", background, d); err != nil {
		return image.Rectangle{}, err
	}

	found := image.Rectangle{}
	var row []float64
	err = ev.forEachStrip(id, func(r *Region) error {
		for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
			row = r.rowFloats(y, r.Rect.Min.X, r.Rect.Max.X, row)
			for i := 0; i < len(row); i += d.Bands {
				for b := 0; b < d.Bands; b++ {
					if math.Abs(row[i+b]-bg[b]) > threshold {
						x := r.Rect.Min.X + i/d.Bands
						found = found.Union(image.Rect(x, y, x+1, y+1))
						break
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return image.Rectangle{}, err
	}
	if found.Empty() {
		return d.Bounds(), nil
	}
	return found, nil
}

// DefaultStripWidth is the edge strip width DetectBackground callers use by
// default.
const DefaultStripWidth = 10

// DetectBackground estimates the background colour as the per-band median
// of the four edge strips of the given width. Images too small to have
// distinct strips return their average colour.
func (ev *Evaluator) DetectBackground(id NodeID, stripWidth int) ([]float64, error) {
	d, err := ev.g.Descriptor(id)
	if err != nil {
		return nil, err
	}
	sw := max(1, stripWidth)
	w, h := d.Width, d.Height
	if w <= 2*sw || h <= 2*sw {
		return ev.AverageColor(id)
	}

	// Ordered by top edge so sequential sources can serve them.
	strips := []image.Rectangle{
		image.Rect(0, 0, w, sw),
		image.Rect(0, sw, sw, h-sw),
		image.Rect(w-sw, sw, w, h-sw),
		image.Rect(0, h-sw, w, h),
	}
	samples := make([][]float64, d.Bands)
	var px []float64
	for _, s := range strips {
		reg, err := ev.Evaluate(id, s)
		if err != nil {
			return nil, err
		}
		for y := s.Min.Y; y < s.Max.Y; y++ {
			for x := s.Min.X; x < s.Max.X; x++ {
				px = reg.PixelAt(x, y, px)
				for b, v := range px {
					samples[b] = append(samples[b], v)
				}
			}
		}
		reg.Release()
	}

	out := make([]float64, d.Bands)
	for b, vs := range samples {
		slices.Sort(vs)
		n := len(vs)
		if n%2 == 1 {
			out[b] = vs[n/2]
		} else {
			out[b] = (vs[n/2-1] + vs[n/2]) / 2
		}
	}
	return out, nil
}
