package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"image"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"

	"github.com/ironsheep/image-pipeline/internal/cache"
	"github.com/ironsheep/image-pipeline/internal/memory"
	"github.com/ironsheep/image-pipeline/internal/tiling"
)

// Config holds engine settings.
type Config struct {
	// CacheMaxOps bounds the number of cached regions. Zero disables caching.
	CacheMaxOps int
	// CacheMaxBytes bounds the bytes of cached regions held in memory. Zero
	// means unbounded.
	CacheMaxBytes int64
	// CacheMaxFiles bounds the backing files of spilled regions. Zero
	// disables spilling.
	CacheMaxFiles int
	// CacheSpillBytes is the smallest region that is spilled to a file.
	CacheSpillBytes int64
	// CacheDir holds backing files. Empty means the system temp directory.
	CacheDir string

	// Concurrency is the number of worker goroutines. Zero runs everything
	// on the calling goroutine; AutoConcurrency uses GOMAXPROCS.
	Concurrency int
	// MemoryLimit bounds live region bytes. Zero means unbounded.
	MemoryLimit int64
	// TileSize is the tile edge used by Materialize.
	TileSize int

	// Accountant records region memory. Nil gives the engine its own.
	// Engines may share one; each registers its cache as a reclaimer.
	Accountant *memory.Accountant
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		CacheMaxOps:     cache.DefaultMaxEntries,
		CacheSpillBytes: 64 << 20,
		TileSize:        tiling.DefaultTileSize,
	}
}

// cacheKey identifies one computed region of one node.
type cacheKey struct {
	sig  Signature
	rect image.Rectangle
}

func hashCacheKey(k cacheKey) uint64 {
	h := binary.LittleEndian.Uint64(k.sig[:8])
	h ^= uint64(k.rect.Min.X)*0x9e3779b97f4a7c15 + uint64(k.rect.Min.Y)*0xbf58476d1ce4e5b9
	return h
}

// Engine owns the shared state of pipeline evaluation: the operation cache,
// the memory accountant, the worker pool and the codec registry. Graphs are
// cheap and built per request; the engine is long-lived.
//
// An Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	registry *Registry
	acct     *memory.Accountant
	cache    *cache.Cache[cacheKey]
	pool     *Pool
	detach   func()

	computed atomic.Uint64

	memoGroup singleflight.Group
	memo      sync.Map
}

// NewEngine creates an engine that decodes with registry.
func NewEngine(cfg Config, registry *Registry) (*Engine, error) {
	if cfg.Concurrency < AutoConcurrency {
		return nil, errorf(InvalidParameter, "engine", "concurrency %d must be >= %d", cfg.Concurrency, AutoConcurrency)
	}
	if cfg.CacheMaxOps < 0 || cfg.CacheMaxBytes < 0 || cfg.CacheMaxFiles < 0 || cfg.MemoryLimit < 0 {
		return nil, errorf(InvalidParameter, "engine", "cache and memory limits must not be negative")
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = tiling.DefaultTileSize
	}
	if registry == nil {
		registry = NewRegistry()
	}

	acct := cfg.Accountant
	if acct == nil {
		acct = memory.New()
	}
	if cfg.MemoryLimit > 0 {
		acct.SetLimit(cfg.MemoryLimit)
	}

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		acct:     acct,
		pool:     NewPool(cfg.Concurrency),
		cache: cache.New(cache.Config{
			MaxEntries: cfg.CacheMaxOps,
			MaxBytes:   cfg.CacheMaxBytes,
			MaxFiles:   cfg.CacheMaxFiles,
			SpillBytes: cfg.CacheSpillBytes,
			Dir:        cfg.CacheDir,
		}, hashCacheKey),
	}
	e.detach = acct.AddReclaimer(e.cache.Shrink)

	Logger().Info("engine created",
		"workers", e.pool.Workers(),
		"cache_max_ops", cfg.CacheMaxOps,
		"cache_max_bytes", cfg.CacheMaxBytes,
		"memory_limit", cfg.MemoryLimit,
		"tile_size", cfg.TileSize)
	return e, nil
}

// Config returns the engine's settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Registry returns the codec registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Accountant returns the memory accountant.
func (e *Engine) Accountant() *memory.Accountant {
	return e.acct
}

// Evaluator returns an evaluator for g backed by this engine.
func (e *Engine) Evaluator(g *Graph) *Evaluator {
	return &Evaluator{e: e, g: g}
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Sequential restricts reads to non-decreasing region tops.
	Sequential bool
}

// Header reads an input's descriptor and loader name without decoding pixels.
func (e *Engine) Header(in Input) (Descriptor, string, error) {
	format, c, err := e.registry.Detect(in)
	if err != nil {
		return Descriptor{}, "", err
	}
	d, name, err := c.DecodeHeader(in)
	if err != nil {
		return Descriptor{}, "", CodecError("decode header", err)
	}
	d.SourceFormat = format
	return d, name, nil
}

// Load decodes in and adds it to g as a source node. The decoded pixels are
// charged to the accountant until g is closed.
func (e *Engine) Load(g *Graph, in Input, opts LoadOptions) (NodeID, error) {
	_, c, err := e.registry.Detect(in)
	if err != nil {
		return -1, err
	}
	access := Random
	if opts.Sequential {
		access = Sequential
	}
	src, err := c.DecodeFull(in, access)
	if err != nil {
		return -1, CodecError("decode", err)
	}
	return e.addSource(g, src, access)
}

// WrapMemory adds a raw interleaved uchar buffer to g. The buffer must not
// change while the graph is in use.
func (e *Engine) WrapMemory(g *Graph, pix []byte, width, height, bands int) (NodeID, error) {
	src, err := NewMemorySource(pix, width, height, bands)
	if err != nil {
		return -1, err
	}
	return e.addSource(g, src, Random)
}

// AddImage adds a decoded image to g. Its fingerprint is a hash of its
// pixels.
func (e *Engine) AddImage(g *Graph, img image.Image) (NodeID, error) {
	if img == nil || img.Bounds().Empty() {
		return -1, errorf(InvalidParameter, "add image", "empty image")
	}
	n := imaging.Clone(img)
	h := sha256.New()
	var b [8]byte
	for _, v := range []int{n.Rect.Dx(), n.Rect.Dy(), bandsOf(img)} {
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		h.Write(b[:])
	}
	h.Write(n.Pix)
	return e.addSource(g, NewImageSource(img, FormatUnknown, h.Sum(nil)), Random)
}

func (e *Engine) addSource(g *Graph, src Source, access Access) (NodeID, error) {
	size := src.Bytes()
	if err := e.acct.Alloc(size); err != nil {
		return -1, wrapError(OutOfMemory, "load", err)
	}
	op := NewSourceOp(src, access)
	op.release = func() { e.acct.Free(size) }
	id, err := g.AddNode(op)
	if err != nil {
		op.close()
		return -1, err
	}
	return id, nil
}

func (e *Engine) newRegion(r image.Rectangle, d Descriptor) (*Region, error) {
	return NewRegion(e.acct, r, d.Bands, d.Format)
}

// memoize runs fn once per name and signature and keeps its result until
// the cache is cleared. Concurrent callers share one run.
func (e *Engine) memoize(name string, sig Signature, fn func() (any, error)) (any, error) {
	key := name + ":" + string(sig[:])
	if v, ok := e.memo.Load(key); ok {
		return v, nil
	}
	v, err, _ := e.memoGroup.Do(key, func() (any, error) {
		if v, ok := e.memo.Load(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		e.memo.Store(key, v)
		return v, nil
	})
	return v, err
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Cache           cache.Stats `json:"cache"`
	MemoryCurrent   int64       `json:"memory_current"`
	MemoryHighWater int64       `json:"memory_high_water"`
	MemoryLimit     int64       `json:"memory_limit"`
	Computed        uint64      `json:"computed"`
	Workers         int         `json:"workers"`
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Cache:           e.cache.Stats(),
		MemoryCurrent:   e.acct.Current(),
		MemoryHighWater: e.acct.HighWater(),
		MemoryLimit:     e.acct.Limit(),
		Computed:        e.computed.Load(),
		Workers:         e.pool.Workers(),
	}
}

// Computed returns the number of regions computed so far. Cache hits do not
// count.
func (e *Engine) Computed() uint64 {
	return e.computed.Load()
}

// ClearCache drops every cached region and memoized analysis.
func (e *Engine) ClearCache() {
	e.cache.Clear()
	e.memo.Range(func(k, _ any) bool {
		e.memo.Delete(k)
		return true
	})
	Logger().Debug("cache cleared")
}

// SetCacheLimits changes the cache budgets, evicting down to them.
func (e *Engine) SetCacheLimits(maxOps int, maxBytes int64, maxFiles int) {
	e.cache.SetLimits(maxOps, maxBytes, maxFiles)
}

// CacheLimits returns the current cache budgets.
func (e *Engine) CacheLimits() (maxOps int, maxBytes int64, maxFiles int) {
	return e.cache.Limits()
}

// ResetHighWater lowers the memory high-water mark to current usage.
func (e *Engine) ResetHighWater() {
	e.acct.ResetHighWater()
}

// Close clears the cache, removing any backing files, and detaches the
// engine from its accountant. Other engines sharing the accountant keep
// their reclaimers.
func (e *Engine) Close() {
	e.detach()
	e.ClearCache()
}
