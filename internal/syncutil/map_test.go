package syncutil_test

import (
	"maps"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/siptx/internal/syncutil"
)

func TestMap(t *testing.T) {
	t.Parallel()

	var m syncutil.Map[int, string]
	if _, ok := m.Load(1); ok {
		t.Fatal("m.Load(1) on empty map: ok = true, want false")
	}

	m.Store(1, "a")
	calls := 0
	mk := func() string { calls++; return "b" }
	if got := m.LoadOrCreate(1, mk); got != "a" {
		t.Fatalf("m.LoadOrCreate(1) = %q, want %q", got, "a")
	}
	if got := m.LoadOrCreate(2, mk); got != "b" || calls != 1 {
		t.Fatalf("m.LoadOrCreate(2) = %q with %d calls, want %q with 1 call", got, calls, "b")
	}

	if diff := cmp.Diff(maps.Collect(m.All()), map[int]string{1: "a", 2: "b"}); diff != "" {
		t.Fatalf("m.All() mismatch\ndiff (-got +want):\n%v", diff)
	}

	if v, ok := m.LoadAndDelete(1); !ok || v != "a" {
		t.Fatalf("m.LoadAndDelete(1) = (%q, %v), want (%q, true)", v, ok, "a")
	}
	if got := m.Len(); got != 1 {
		t.Fatalf("m.Len() = %d, want 1", got)
	}
	if diff := cmp.Diff(m.Clear(), []string{"b"}); diff != "" {
		t.Fatalf("m.Clear() mismatch\ndiff (-got +want):\n%v", diff)
	}
	if got := m.Len(); got != 0 {
		t.Fatalf("m.Len() after clear = %d, want 0", got)
	}
}

func TestMap_LoadOrCreateConcurrent(t *testing.T) {
	t.Parallel()

	var (
		m     syncutil.Map[string, *int]
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[*int]struct{})
		count int
	)
	for range 16 {
		wg.Go(func() {
			v := m.LoadOrCreate("k", func() *int {
				mu.Lock()
				count++
				mu.Unlock()
				return new(int)
			})
			mu.Lock()
			seen[v] = struct{}{}
			mu.Unlock()
		})
	}
	wg.Wait()

	if count != 1 || len(seen) != 1 {
		t.Fatalf("created %d values, observed %d, want 1 and 1", count, len(seen))
	}
}
