// Package memory tracks live pixel-buffer usage for the pipeline.
//
// An Accountant records every region allocation and release. It keeps the
// current byte count and a high-water mark that only moves up until
// ResetHighWater is called. An optional limit turns an allocation that would
// exceed it into ErrLimitExceeded, after giving the registered reclaimers
// (one operation cache per engine sharing the accountant) a chance to free
// memory.
package memory

import (
	"errors"
	"fmt"
	"sync"
)

// ErrLimitExceeded is returned by Alloc when the limit cannot be honoured.
var ErrLimitExceeded = errors.New("memory limit exceeded")

// Reclaimer frees at least need bytes if it can and reports how many it freed.
// It is called without the accountant's lock held.
type Reclaimer func(need int64) int64

// Accountant is safe for concurrent use. Current and high water are updated
// under one short critical section so that every observer sees
// HighWater() >= any Current() it read earlier.
type Accountant struct {
	mu      sync.Mutex
	current int64
	high    int64
	limit   int64

	rmu        sync.Mutex
	reclaimers []*reclaimer
}

type reclaimer struct {
	fn Reclaimer
}

var defaultAccountant = New()

// Default returns the process-wide accountant.
func Default() *Accountant {
	return defaultAccountant
}

// New creates an accountant with no limit.
func New() *Accountant {
	return &Accountant{}
}

// SetLimit sets the byte limit. Zero or negative disables it.
func (a *Accountant) SetLimit(n int64) {
	if n < 0 {
		n = 0
	}
	a.mu.Lock()
	a.limit = n
	a.mu.Unlock()
}

// Limit returns the configured byte limit, 0 when unbounded.
func (a *Accountant) Limit() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit
}

// AddReclaimer registers r to be called when an allocation would exceed
// the limit. Reclaimers run in registration order until enough is freed.
// The returned function unregisters r and may be called more than once.
func (a *Accountant) AddReclaimer(r Reclaimer) (remove func()) {
	entry := &reclaimer{fn: r}
	a.rmu.Lock()
	a.reclaimers = append(a.reclaimers, entry)
	a.rmu.Unlock()

	return func() {
		a.rmu.Lock()
		defer a.rmu.Unlock()
		for i, e := range a.reclaimers {
			if e == entry {
				a.reclaimers = append(a.reclaimers[:i:i], a.reclaimers[i+1:]...)
				return
			}
		}
	}
}

// Reclaimers returns the number of registered reclaimers.
func (a *Accountant) Reclaimers() int {
	a.rmu.Lock()
	defer a.rmu.Unlock()
	return len(a.reclaimers)
}

// reclaim asks each reclaimer in turn for what is still needed and reports
// whether any was registered.
func (a *Accountant) reclaim(need int64) bool {
	a.rmu.Lock()
	rs := append([]*reclaimer(nil), a.reclaimers...)
	a.rmu.Unlock()

	for _, r := range rs {
		if need <= 0 {
			break
		}
		need -= r.fn(need)
	}
	return len(rs) > 0
}

// Alloc records n bytes as live.
func (a *Accountant) Alloc(n int64) error {
	if n < 0 {
		return fmt.Errorf("memory: negative allocation %d", n)
	}
	if n == 0 {
		return nil
	}

	reclaimed := false
	for {
		a.mu.Lock()
		next := a.current + n
		if a.limit == 0 || next <= a.limit {
			a.current = next
			if next > a.high {
				a.high = next
			}
			a.mu.Unlock()
			return nil
		}
		cur, limit := a.current, a.limit
		a.mu.Unlock()

		if reclaimed || !a.reclaim(next-limit) {
			return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrLimitExceeded, n, cur, limit)
		}
		reclaimed = true
	}
}

// Free records n bytes as released.
func (a *Accountant) Free(n int64) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.current -= n
	if a.current < 0 {
		a.current = 0
	}
	a.mu.Unlock()
}

// Current returns the live byte count.
func (a *Accountant) Current() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// HighWater returns the largest live byte count seen since the last reset.
func (a *Accountant) HighWater() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.high
}

// ResetHighWater lowers the high-water mark to the current usage.
func (a *Accountant) ResetHighWater() {
	a.mu.Lock()
	a.high = a.current
	a.mu.Unlock()
}
