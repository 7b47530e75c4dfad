// Package pool implements the fixed-size Interpreter Pool: N pre-warmed
// Slots, a checkout/return cycle via an idle channel, and the one-shot
// concurrent boot ghostpool.PoolManager instead does as a steady-state
// background maintainer.
package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ocx/pyexec/internal/slot"
)

// Pool owns a fixed set of Slots. Unlike ghostpool.PoolManager, size
// never grows after Boot: the Interpreter Slot lifecycle is cheap
// in-process construction, not a Docker container create, so there is
// no "scale up under load" tier to model — every Slot is booted once,
// up front (spec.md §4.6's "pool of size N" is fixed, not elastic).
type Pool struct {
	mu     sync.Mutex
	idle   chan *slot.Slot
	active map[*slot.Slot]struct{}
	all    []*slot.Slot
	size   int
}

// Boot constructs size Slots concurrently (via errgroup, replacing the
// teacher's sequential createContainer goroutines) and returns once
// every one of them is idle and ready for Dispatch.
func Boot(ctx context.Context, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool: size must be positive, got %d", size)
	}

	p := &Pool{
		idle:   make(chan *slot.Slot, size),
		active: make(map[*slot.Slot]struct{}, size),
		size:   size,
	}

	slots := make([]*slot.Slot, size)
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < size; i++ {
		i := i
		g.Go(func() error {
			slots[i] = slot.New(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pool: boot failed: %w", err)
	}

	p.all = slots
	for _, s := range slots {
		p.idle <- s
	}
	return p, nil
}

// Dispatch checks out an idle Slot, runs w on it, and returns it to the
// idle set before returning the Outcome. If ctx is done before a Slot
// becomes available, it returns (zero, false): the caller maps this to
// a DeadlineExceeded-style fallback per spec.md §4.6's checkout-deadline
// note — this pool never blocks the caller past the checkout deadline
// even when every Slot is busy.
func (p *Pool) Dispatch(ctx context.Context, w slot.Work) (slot.Outcome, bool) {
	select {
	case s := <-p.idle:
		p.mu.Lock()
		p.active[s] = struct{}{}
		p.mu.Unlock()

		out := <-s.Submit(w)

		p.mu.Lock()
		delete(p.active, s)
		p.mu.Unlock()
		p.idle <- s

		return out, true
	case <-ctx.Done():
		return slot.Outcome{}, false
	}
}

// Stats mirrors ghostpool.PoolManager.Stats' shape for the pool-health
// surface the HTTP front end and metrics exporter read.
func (p *Pool) Stats() map[string]int {
	p.mu.Lock()
	activeCount := len(p.active)
	p.mu.Unlock()

	return map[string]int{
		"active_slots": activeCount,
		"idle_slots":   len(p.idle),
		"total_size":   p.size,
	}
}

// Close stops every Slot's loop goroutine. Safe to call once, after no
// further Dispatch calls will be made (it does not wait for in-flight
// Dispatch calls to drain).
func (p *Pool) Close() {
	for _, s := range p.all {
		s.Close()
	}
}
