// Package cache implements the operation cache used by the pipeline
// evaluator.
//
// Cache is a sharded LRU keyed by any comparable type. It enforces three
// independent budgets: an entry count, an aggregate in-memory byte size, and a
// number of concurrently open backing files for entries spilled to disk.
// Eviction follows global least-recently-used order across shards.
package cache

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	// ShardCount is the number of shards. Must be a power of 2.
	ShardCount = 16

	shardMask = ShardCount - 1

	// DefaultMaxEntries is the default entry budget.
	DefaultMaxEntries = 1000
)

// Hasher computes the shard hash of a key.
type Hasher[K any] func(K) uint64

// StringHasher computes the FNV-1a hash of a string key.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Value is a reference-counted cached result. The cache holds one reference
// for as long as the entry lives in memory and calls Release when it drops it.
type Value interface {
	Size() int64
	Retain()
	Release()
}

// Spiller is a Value that can be moved to a backing file. Restore must only
// use the shape of the receiver, never its pixel data, because the receiver
// has been released by the time it is called.
type Spiller interface {
	Value
	WriteTo(w io.Writer) (int64, error)
	Restore(r io.Reader) (Value, error)
}

// Config holds the cache budgets.
type Config struct {
	// MaxEntries bounds the number of entries. Zero disables caching.
	MaxEntries int
	// MaxBytes bounds the in-memory bytes held. Zero means unbounded.
	MaxBytes int64
	// MaxFiles bounds the open backing files. Zero disables spilling.
	MaxFiles int
	// SpillBytes is the smallest entry moved to a backing file.
	SpillBytes int64
	// Dir holds backing files. Empty means os.TempDir().
	Dir string
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int     `json:"entries"`
	Bytes     int64   `json:"bytes"`
	Files     int     `json:"files"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions uint64  `json:"evictions"`
	Spills    uint64  `json:"spills"`
}

// Cache is safe for concurrent use.
type Cache[K comparable] struct {
	shards [ShardCount]*shard[K]
	hasher Hasher[K]

	maxEntries atomic.Int64
	maxBytes   atomic.Int64
	maxFiles   atomic.Int64
	spillBytes atomic.Int64
	dir        string

	tick  atomic.Uint64
	count atomic.Int64
	bytes atomic.Int64
	files atomic.Int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	spills    atomic.Uint64

	evictMu    sync.Mutex
	spillMu    sync.Mutex
	spillOrder []K
}

type shard[K comparable] struct {
	mu      sync.RWMutex
	entries map[K]*entry[K]
	lru     *lruList[K]
}

type entry[K comparable] struct {
	value Value
	size  int64
	tick  uint64
	node  *lruNode[K]

	mu       sync.Mutex
	file     *os.File
	template Spiller
}

// New creates a cache with the given budgets.
func New[K comparable](cfg Config, hasher Hasher[K]) *Cache[K] {
	c := &Cache[K]{
		hasher: hasher,
		dir:    cfg.Dir,
	}
	if c.dir == "" {
		c.dir = os.TempDir()
	}
	c.maxEntries.Store(int64(cfg.MaxEntries))
	c.maxBytes.Store(cfg.MaxBytes)
	c.maxFiles.Store(int64(cfg.MaxFiles))
	c.spillBytes.Store(cfg.SpillBytes)

	for i := range c.shards {
		c.shards[i] = &shard[K]{
			entries: make(map[K]*entry[K]),
			lru:     newLRUList[K](),
		}
	}
	return c
}

func (c *Cache[K]) shardFor(key K) *shard[K] {
	return c.shards[c.hasher(key)&shardMask]
}

// SetLimits replaces the budgets and evicts down to them.
func (c *Cache[K]) SetLimits(maxEntries int, maxBytes int64, maxFiles int) {
	c.maxEntries.Store(int64(maxEntries))
	c.maxBytes.Store(maxBytes)
	c.maxFiles.Store(int64(maxFiles))
	c.enforce()
}

// Limits returns the current budgets.
func (c *Cache[K]) Limits() (maxEntries int, maxBytes int64, maxFiles int) {
	return int(c.maxEntries.Load()), c.maxBytes.Load(), int(c.maxFiles.Load())
}

// Get returns the value for key with a reference held for the caller, who
// must Release it. Spilled entries are restored from their backing file.
func (c *Cache[K]) Get(key K) (Value, bool) {
	s := c.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	s.lru.MoveToFront(e.node)
	e.tick = c.tick.Add(1)

	if e.template == nil {
		v := e.value
		v.Retain()
		s.mu.Unlock()
		c.hits.Add(1)
		return v, true
	}

	s.mu.Unlock()

	v, err := restore(e)
	if err != nil {
		c.deleteEntry(key, e)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v, true
}

// restore reads the backing file under the entry lock and rebuilds the value
// outside it, since rebuilding allocates and may trigger eviction.
func restore[K comparable](e *entry[K]) (Value, error) {
	e.mu.Lock()
	if e.file == nil {
		e.mu.Unlock()
		return nil, os.ErrClosed
	}
	data, err := readAllAt(e.file)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return e.template.Restore(bytes.NewReader(data))
}

func readAllAt(f *os.File) ([]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// Contains reports whether key is cached without touching recency.
func (c *Cache[K]) Contains(key K) bool {
	s := c.shardFor(key)
	s.mu.RLock()
	_, ok := s.entries[key]
	s.mu.RUnlock()
	return ok
}

// Put stores v under key. The cache takes its own reference; the caller keeps
// theirs. It reports whether the value was stored.
func (c *Cache[K]) Put(key K, v Value) bool {
	if c.maxEntries.Load() <= 0 {
		return false
	}
	size := v.Size()
	if mb := c.maxBytes.Load(); mb > 0 && size > mb {
		return false
	}

	e := &entry[K]{value: v, size: size}
	spilled := false
	if sp, ok := v.(Spiller); ok && c.shouldSpill(size) {
		f, err := c.spill(sp)
		if err == nil {
			e.value = nil
			e.file = f
			e.template = sp
			spilled = true
		}
	}

	s := c.shardFor(key)
	s.mu.Lock()
	if _, exists := s.entries[key]; exists {
		s.mu.Unlock()
		if spilled {
			closeAndRemove(e.file)
		}
		return false
	}
	if !spilled {
		v.Retain()
	}
	e.tick = c.tick.Add(1)
	e.node = s.lru.PushFront(key)
	s.entries[key] = e
	s.mu.Unlock()

	c.count.Add(1)
	if spilled {
		c.files.Add(1)
		c.spills.Add(1)
		c.spillMu.Lock()
		c.spillOrder = append(c.spillOrder, key)
		c.spillMu.Unlock()
	} else {
		c.bytes.Add(size)
	}

	c.enforce()
	return true
}

func (c *Cache[K]) shouldSpill(size int64) bool {
	threshold := c.spillBytes.Load()
	return c.maxFiles.Load() > 0 && threshold > 0 && size >= threshold
}

func (c *Cache[K]) spill(v Spiller) (*os.File, error) {
	name := filepath.Join(c.dir, "pipeline-"+uuid.NewString()+".spill")
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("cache: create backing file: %w", err)
	}
	if _, err := v.WriteTo(f); err != nil {
		closeAndRemove(f)
		return nil, fmt.Errorf("cache: write backing file: %w", err)
	}
	return f, nil
}

func closeAndRemove(f *os.File) {
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
}

// Delete removes key. It reports whether an entry was removed.
func (c *Cache[K]) Delete(key K) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		s.lru.Remove(e.node)
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if ok {
		c.drop(e)
	}
	return ok
}

// deleteEntry removes key only while it still maps to e, leaving any entry
// stored under the key since e was read.
func (c *Cache[K]) deleteEntry(key K, e *entry[K]) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	ok := s.entries[key] == e
	if ok {
		s.lru.Remove(e.node)
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if ok {
		c.drop(e)
	}
	return ok
}

// drop releases an entry that has been unlinked from its shard.
func (c *Cache[K]) drop(e *entry[K]) {
	c.count.Add(-1)
	e.mu.Lock()
	f := e.file
	e.file = nil
	e.mu.Unlock()
	if f != nil {
		closeAndRemove(f)
		c.files.Add(-1)
		return
	}
	c.bytes.Add(-e.size)
	e.value.Release()
}

// enforce evicts until every budget holds.
func (c *Cache[K]) enforce() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	for c.overBudget() {
		if _, ok := c.evictOldest(); !ok {
			break
		}
	}
	for c.files.Load() > c.maxFiles.Load() {
		if !c.evictOldestSpilled() {
			break
		}
	}
}

func (c *Cache[K]) overBudget() bool {
	if c.count.Load() > c.maxEntries.Load() {
		return true
	}
	mb := c.maxBytes.Load()
	return mb > 0 && c.bytes.Load() > mb
}

// evictOldest removes the globally least recently used entry and returns the
// in-memory bytes it held.
func (c *Cache[K]) evictOldest() (int64, bool) {
	var (
		victim  *shard[K]
		minTick uint64
	)
	for _, s := range c.shards {
		s.mu.RLock()
		if key, ok := s.lru.Oldest(); ok {
			if t := s.entries[key].tick; victim == nil || t < minTick {
				victim, minTick = s, t
			}
		}
		s.mu.RUnlock()
	}
	if victim == nil {
		return 0, false
	}

	victim.mu.Lock()
	key, ok := victim.lru.Oldest()
	if !ok {
		victim.mu.Unlock()
		return 0, true
	}
	e := victim.entries[key]
	victim.lru.Remove(e.node)
	delete(victim.entries, key)
	victim.mu.Unlock()

	spilled := e.template != nil
	c.evictions.Add(1)
	c.drop(e)
	if spilled {
		return 0, true
	}
	return e.size, true
}

func (c *Cache[K]) evictOldestSpilled() bool {
	for {
		c.spillMu.Lock()
		if len(c.spillOrder) == 0 {
			c.spillMu.Unlock()
			return false
		}
		key := c.spillOrder[0]
		c.spillOrder = c.spillOrder[1:]
		c.spillMu.Unlock()

		s := c.shardFor(key)
		s.mu.Lock()
		e, ok := s.entries[key]
		if !ok || e.template == nil {
			s.mu.Unlock()
			continue
		}
		s.lru.Remove(e.node)
		delete(s.entries, key)
		s.mu.Unlock()

		c.evictions.Add(1)
		c.drop(e)
		return true
	}
}

// Shrink evicts least recently used entries until at least need in-memory
// bytes are freed or the cache is empty. It returns the bytes freed.
func (c *Cache[K]) Shrink(need int64) int64 {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var freed int64
	for freed < need {
		n, ok := c.evictOldest()
		if !ok {
			break
		}
		freed += n
	}
	return freed
}

// Clear drops every entry, releasing values and removing backing files.
func (c *Cache[K]) Clear() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var dropped []*entry[K]
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.entries {
			dropped = append(dropped, e)
		}
		s.entries = make(map[K]*entry[K])
		s.lru.Clear()
		s.mu.Unlock()
	}

	c.spillMu.Lock()
	c.spillOrder = nil
	c.spillMu.Unlock()

	for _, e := range dropped {
		c.drop(e)
	}
}

// Len returns the number of entries.
func (c *Cache[K]) Len() int {
	return int(c.count.Load())
}

// Stats returns a snapshot of the counters.
func (c *Cache[K]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:   c.Len(),
		Bytes:     c.bytes.Load(),
		Files:     int(c.files.Load()),
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		Evictions: c.evictions.Load(),
		Spills:    c.spills.Load(),
	}
}

// ResetStats zeroes the hit, miss, eviction and spill counters.
func (c *Cache[K]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.spills.Store(0)
}
