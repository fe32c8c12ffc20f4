package ordernum

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNextFormat(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	gen := NewWithClock(func() time.Time { return fixed })

	got := gen.Next()
	if len(got) != len(timeLayout)+6+4 {
		t.Fatalf("unexpected length %d for %q", len(got), got)
	}
	if !strings.HasPrefix(got, "20250314092653") {
		t.Fatalf("expected timestamp prefix, got %q", got)
	}
}

func TestNextUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	gen := New()
	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, gen.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, no := range local {
				if _, dup := seen[no]; dup {
					t.Errorf("duplicate order number %q", no)
				}
				seen[no] = struct{}{}
			}
		}()
	}
	wg.Wait()
}
