package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAccountant_AllocFree(t *testing.T) {
	a := New()

	if err := a.Alloc(100); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Alloc(50); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	a.Free(120)

	if got := a.Current(); got != 30 {
		t.Errorf("Current: got %d, want 30", got)
	}
	if got := a.HighWater(); got != 150 {
		t.Errorf("HighWater: got %d, want 150", got)
	}
}

func TestAccountant_ResetHighWater(t *testing.T) {
	a := New()
	_ = a.Alloc(1000)
	a.Free(600)

	a.ResetHighWater()
	if got := a.HighWater(); got != 400 {
		t.Errorf("HighWater after reset: got %d, want 400", got)
	}

	_ = a.Alloc(10)
	if got := a.HighWater(); got != 410 {
		t.Errorf("HighWater after alloc: got %d, want 410", got)
	}
}

func TestAccountant_NegativeAlloc(t *testing.T) {
	a := New()
	if err := a.Alloc(-1); err == nil {
		t.Error("expected error for negative allocation")
	}
}

func TestAccountant_Limit(t *testing.T) {
	a := New()
	a.SetLimit(100)

	if err := a.Alloc(80); err != nil {
		t.Fatalf("Alloc within limit: %v", err)
	}
	err := a.Alloc(30)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("got %v, want ErrLimitExceeded", err)
	}
	if got := a.Current(); got != 80 {
		t.Errorf("Current after failed alloc: got %d, want 80", got)
	}
}

func TestAccountant_Reclaimer(t *testing.T) {
	a := New()
	a.SetLimit(100)
	_ = a.Alloc(90)

	var asked int64
	a.AddReclaimer(func(need int64) int64 {
		asked = need
		a.Free(need)
		return need
	})

	if err := a.Alloc(30); err != nil {
		t.Fatalf("Alloc with reclaimer: %v", err)
	}
	if asked != 20 {
		t.Errorf("reclaimer asked for %d, want 20", asked)
	}
	if got := a.Current(); got != 100 {
		t.Errorf("Current: got %d, want 100", got)
	}
}

func TestAccountant_Reclaimers(t *testing.T) {
	tests := []struct {
		name      string
		freed     []int64
		wantCalls []int64
		wantErr   bool
	}{
		{"first is enough", []int64{20, 20}, []int64{20}, false},
		{"second makes up the rest", []int64{5, 20}, []int64{20, 15}, false},
		{"together too little", []int64{5, 5}, []int64{20, 15}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			a.SetLimit(100)
			_ = a.Alloc(90)

			var calls []int64
			for _, n := range tt.freed {
				a.AddReclaimer(func(need int64) int64 {
					calls = append(calls, need)
					a.Free(n)
					return n
				})
			}

			err := a.Alloc(30)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Alloc: got error %v, want error %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrLimitExceeded) {
				t.Errorf("got %v, want ErrLimitExceeded", err)
			}
			if diff := cmp.Diff(tt.wantCalls, calls); diff != "" {
				t.Errorf("reclaimer calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAccountant_RemoveReclaimer(t *testing.T) {
	a := New()
	a.SetLimit(100)
	_ = a.Alloc(90)

	var first, second int
	removeFirst := a.AddReclaimer(func(int64) int64 { first++; return 0 })
	a.AddReclaimer(func(int64) int64 { second++; return 0 })

	removeFirst()
	removeFirst()
	if got := a.Reclaimers(); got != 1 {
		t.Fatalf("Reclaimers: got %d, want 1", got)
	}
	if err := a.Alloc(30); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("got %v, want ErrLimitExceeded", err)
	}
	if first != 0 || second != 1 {
		t.Errorf("calls: got first=%d second=%d, want 0 and 1", first, second)
	}
}

func TestAccountant_HighWaterMonotonic(t *testing.T) {
	a := New()

	var wg sync.WaitGroup
	errs := make(chan string, 64)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = a.Alloc(64)
				cur := a.Current()
				if hw := a.HighWater(); hw < cur {
					select {
					case errs <- "high water below current":
					default:
					}
				}
				a.Free(64)
			}
		}()
	}

	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
	if got := a.Current(); got != 0 {
		t.Errorf("Current after balanced alloc/free: got %d, want 0", got)
	}
	if a.HighWater() < 64 {
		t.Errorf("HighWater: got %d, want >= 64", a.HighWater())
	}
}
