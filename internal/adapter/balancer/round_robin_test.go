package balancer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/nyxhq/ravel/internal/core/domain"
)

func upstreams(n int) []domain.Upstream {
	out := make([]domain.Upstream, n)
	for i := range out {
		out[i] = domain.Upstream{Host: "10.0.0.1", Port: fmt.Sprintf("%d", 9000+i)}
	}
	return out
}

func TestNewRoundRobin_RejectsEmpty(t *testing.T) {
	if _, err := NewRoundRobin(nil); err == nil {
		t.Fatal("expected error for empty upstream list")
	}
}

func TestRoundRobin_CyclesInOrder(t *testing.T) {
	rr, err := NewRoundRobin(upstreams(3))
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for i := 0; i < 7; i++ {
		u, err := rr.GetNext()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, u.Port)
	}

	want := []string{"9000", "9001", "9002", "9000", "9001", "9002", "9000"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRoundRobin_FairUnderConcurrency(t *testing.T) {
	const upstreamCount = 4
	const perGoroutine = 250
	const goroutines = 20

	rr, err := NewRoundRobin(upstreams(upstreamCount))
	if err != nil {
		t.Fatal(err)
	}

	counts := make([]int64, upstreamCount)
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			local := make([]int64, upstreamCount)
			for i := 0; i < perGoroutine; i++ {
				u, err := rr.GetNext()
				if err != nil {
					t.Error(err)
					return
				}
				idx := int(u.Port[len(u.Port)-1] - '0')
				local[idx%upstreamCount]++
			}
			mu.Lock()
			for i := range local {
				counts[i] += local[i]
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := int64(goroutines * perGoroutine)
	want := total / upstreamCount
	for i, c := range counts {
		if c != want {
			t.Errorf("upstream %d got %d selections, want exactly %d (perfectly fair under this access pattern)", i, c, want)
		}
	}
}

func TestRoundRobin_All(t *testing.T) {
	rr, err := NewRoundRobin(upstreams(2))
	if err != nil {
		t.Fatal(err)
	}
	all := rr.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d entries, want 2", len(all))
	}
	all[0].Host = "mutated"
	again := rr.All()
	if again[0].Host == "mutated" {
		t.Error("All() must return a copy, not the internal slice")
	}
}
