package cache

import (
	"bytes"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
)

// testValue is a reference-counted byte slice.
type testValue struct {
	data []byte
	refs atomic.Int32
}

func newTestValue(n int, fill byte) *testValue {
	v := &testValue{data: bytes.Repeat([]byte{fill}, n)}
	v.refs.Store(1)
	return v
}

func (v *testValue) Size() int64 { return int64(len(v.data)) }
func (v *testValue) Retain()     { v.refs.Add(1) }
func (v *testValue) Release()    { v.refs.Add(-1) }

// spillValue additionally supports backing files. beforeRestore, when set,
// runs first and its error fails the restore.
type spillValue struct {
	testValue
	beforeRestore func() error
}

func newSpillValue(n int, fill byte) *spillValue {
	v := &spillValue{}
	v.data = bytes.Repeat([]byte{fill}, n)
	v.refs.Store(1)
	return v
}

func (v *spillValue) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(v.data)
	return int64(n), err
}

func (v *spillValue) Restore(r io.Reader) (Value, error) {
	if v.beforeRestore != nil {
		if err := v.beforeRestore(); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	out := &spillValue{}
	out.data = data
	out.refs.Store(1)
	return out, nil
}

func newStringCache(cfg Config) *Cache[string] {
	return New[string](cfg, StringHasher)
}

func TestCache_GetPut(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 10})
	v := newTestValue(16, 1)

	if !c.Put("a", v) {
		t.Fatal("Put returned false")
	}
	if got := v.refs.Load(); got != 2 {
		t.Errorf("refs after Put: got %d, want 2", got)
	}

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Get: entry not found")
	}
	if got != Value(v) {
		t.Error("Get returned a different value")
	}
	if r := v.refs.Load(); r != 3 {
		t.Errorf("refs after Get: got %d, want 3", r)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should miss")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats: got hits=%d misses=%d, want 1/1", stats.Hits, stats.Misses)
	}
	if stats.Bytes != 16 {
		t.Errorf("Stats.Bytes: got %d, want 16", stats.Bytes)
	}
}

func TestCache_DuplicatePutKeepsFirst(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 10})
	first := newTestValue(4, 1)
	second := newTestValue(4, 2)

	c.Put("k", first)
	if c.Put("k", second) {
		t.Error("second Put should not replace the existing entry")
	}
	if got := second.refs.Load(); got != 1 {
		t.Errorf("rejected value refs: got %d, want 1", got)
	}
}

func TestCache_DisabledWhenMaxEntriesZero(t *testing.T) {
	c := newStringCache(Config{})
	if c.Put("a", newTestValue(1, 0)) {
		t.Error("Put should be rejected when MaxEntries is 0")
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 3})

	values := map[string]*testValue{}
	for _, k := range []string{"a", "b", "c"} {
		values[k] = newTestValue(1, 0)
		c.Put(k, values[k])
	}

	// Touch "a" so "b" becomes the oldest.
	if v, ok := c.Get("a"); ok {
		v.Release()
	}

	values["d"] = newTestValue(1, 0)
	c.Put("d", values["d"])

	if c.Contains("b") {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !c.Contains(k) {
			t.Errorf("%s should still be cached", k)
		}
	}
	if got := values["b"].refs.Load(); got != 1 {
		t.Errorf("evicted value refs: got %d, want 1", got)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions: got %d, want 1", got)
	}
}

func TestCache_ByteBudget(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 100, MaxBytes: 100})

	c.Put("a", newTestValue(40, 0))
	c.Put("b", newTestValue(40, 0))
	c.Put("c", newTestValue(40, 0))

	if c.Contains("a") {
		t.Error("a should have been evicted by the byte budget")
	}
	if got := c.Stats().Bytes; got != 80 {
		t.Errorf("Bytes: got %d, want 80", got)
	}

	if c.Put("huge", newTestValue(101, 0)) {
		t.Error("value larger than MaxBytes should be rejected")
	}
}

func TestCache_Shrink(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 100})
	for _, k := range []string{"a", "b", "c", "d"} {
		c.Put(k, newTestValue(10, 0))
	}

	freed := c.Shrink(15)
	if freed != 20 {
		t.Errorf("Shrink freed %d, want 20", freed)
	}
	if c.Len() != 2 {
		t.Errorf("Len: got %d, want 2", c.Len())
	}
	if c.Contains("a") || c.Contains("b") {
		t.Error("oldest entries should be gone")
	}
}

func TestCache_Clear(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 10})
	v := newTestValue(8, 0)
	c.Put("a", v)
	c.Put("b", newTestValue(8, 0))

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len after Clear: got %d, want 0", c.Len())
	}
	if got := c.Stats().Bytes; got != 0 {
		t.Errorf("Bytes after Clear: got %d, want 0", got)
	}
	if got := v.refs.Load(); got != 1 {
		t.Errorf("refs after Clear: got %d, want 1", got)
	}
}

func TestCache_SetLimitsEvicts(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 10})
	for _, k := range []string{"a", "b", "c"} {
		c.Put(k, newTestValue(1, 0))
	}

	c.SetLimits(1, 0, 0)

	if c.Len() != 1 {
		t.Errorf("Len: got %d, want 1", c.Len())
	}
	if !c.Contains("c") {
		t.Error("most recent entry should survive")
	}
}

func TestCache_Spill(t *testing.T) {
	dir := t.TempDir()
	c := newStringCache(Config{MaxEntries: 10, MaxFiles: 2, SpillBytes: 32, Dir: dir})

	big := newSpillValue(64, 7)
	if !c.Put("big", big) {
		t.Fatal("Put returned false")
	}
	if got := big.refs.Load(); got != 1 {
		t.Errorf("spilled value should not be retained: refs=%d", got)
	}

	stats := c.Stats()
	if stats.Files != 1 || stats.Spills != 1 {
		t.Errorf("Stats: got files=%d spills=%d, want 1/1", stats.Files, stats.Spills)
	}
	if stats.Bytes != 0 {
		t.Errorf("spilled entries should not count toward memory bytes: %d", stats.Bytes)
	}

	got, ok := c.Get("big")
	if !ok {
		t.Fatal("Get(big) missed")
	}
	restored := got.(*spillValue)
	if !bytes.Equal(restored.data, big.data) {
		t.Error("restored data differs")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("backing files: got %d, want 1", len(entries))
	}

	c.Clear()
	entries, _ = os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("backing files after Clear: got %d, want 0", len(entries))
	}
}

func TestCache_FailedRestoreDropsEntry(t *testing.T) {
	dir := t.TempDir()
	c := newStringCache(Config{MaxEntries: 10, MaxFiles: 2, SpillBytes: 8, Dir: dir})

	v := newSpillValue(16, 1)
	v.beforeRestore = func() error { return io.ErrUnexpectedEOF }
	c.Put("k", v)

	if _, ok := c.Get("k"); ok {
		t.Fatal("Get should miss when the backing file cannot be restored")
	}
	if c.Contains("k") {
		t.Error("entry kept after a failed restore")
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("backing files: got %d, want 0", len(entries))
	}
}

func TestCache_FailedRestoreKeepsReplacement(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 10, MaxFiles: 2, SpillBytes: 8, Dir: t.TempDir()})

	replacement := newTestValue(4, 9)
	stale := newSpillValue(16, 1)
	// Another caller swaps the entry while the stale file is being read.
	stale.beforeRestore = func() error {
		c.Delete("k")
		if !c.Put("k", replacement) {
			t.Error("Put of the replacement returned false")
		}
		return io.ErrUnexpectedEOF
	}
	c.Put("k", stale)

	if _, ok := c.Get("k"); ok {
		t.Fatal("Get should miss when the backing file cannot be restored")
	}
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("replacement entry was deleted")
	}
	defer got.Release()
	if got != Value(replacement) {
		t.Errorf("got %v, want the replacement value", got)
	}
	if n := c.Stats().Entries; n != 1 {
		t.Errorf("Entries: got %d, want 1", n)
	}
}

func TestCache_FileBudget(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 10, MaxFiles: 2, SpillBytes: 8, Dir: t.TempDir()})

	for _, k := range []string{"a", "b", "c"} {
		c.Put(k, newSpillValue(16, 0))
	}

	if got := c.Stats().Files; got != 2 {
		t.Errorf("Files: got %d, want 2", got)
	}
	if c.Contains("a") {
		t.Error("oldest spilled entry should be evicted")
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := newStringCache(Config{MaxEntries: 50})

	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				k := keys[(i+j)%len(keys)]
				if v, ok := c.Get(k); ok {
					v.Release()
					continue
				}
				c.Put(k, newTestValue(4, byte(j)))
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > len(keys) {
		t.Errorf("Len: got %d, want <= %d", c.Len(), len(keys))
	}
}
