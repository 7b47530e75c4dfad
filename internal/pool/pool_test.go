package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/pyexec/internal/allowlist"
	"github.com/ocx/pyexec/internal/sink"
	"github.com/ocx/pyexec/internal/slot"
	"github.com/ocx/pyexec/internal/types"
)

func testWork(source string) slot.Work {
	return slot.Work{
		CallID:  "t",
		Source:  source,
		Modules: allowlist.NewSet(types.DefaultAllowedModules),
		Sink:    sink.New(1 << 20),
	}
}

func TestPool_BootProducesRequestedSize(t *testing.T) {
	p, err := Boot(context.Background(), 3)
	require.NoError(t, err)
	defer p.Close()

	stats := p.Stats()
	assert.Equal(t, 3, stats["total_size"])
	assert.Equal(t, 3, stats["idle_slots"])
	assert.Equal(t, 0, stats["active_slots"])
}

func TestPool_BootRejectsNonPositiveSize(t *testing.T) {
	_, err := Boot(context.Background(), 0)
	assert.Error(t, err)
}

func TestPool_DispatchRunsWorkAndReturnsSlotToIdle(t *testing.T) {
	p, err := Boot(context.Background(), 1)
	require.NoError(t, err)
	defer p.Close()

	out, ok := p.Dispatch(context.Background(), testWork("__result__ = 1 + 1"))
	require.True(t, ok)
	require.Nil(t, out.Err)
	require.NotNil(t, out.ReturnValue)
	assert.Equal(t, "2", *out.ReturnValue)
	assert.Equal(t, 1, p.Stats()["idle_slots"])
}

func TestPool_DispatchBlocksWhenAllSlotsBusyUntilContextDone(t *testing.T) {
	p, err := Boot(context.Background(), 1)
	require.NoError(t, err)
	defer p.Close()

	s := <-waitForSlot(p)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-release
		p.returnSlotForTest(s)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := p.Dispatch(ctx, testWork("__result__ = 1"))
	assert.False(t, ok)

	close(release)
	wg.Wait()
}

// waitForSlot and returnSlotForTest poke at unexported pool internals to
// simulate a slot being held busy by another in-flight call, without
// adding production API surface solely for test use.
func waitForSlot(p *Pool) <-chan *slot.Slot {
	ch := make(chan *slot.Slot, 1)
	go func() {
		s := <-p.idle
		p.mu.Lock()
		p.active[s] = struct{}{}
		p.mu.Unlock()
		ch <- s
	}()
	return ch
}

func (p *Pool) returnSlotForTest(s *slot.Slot) {
	p.mu.Lock()
	delete(p.active, s)
	p.mu.Unlock()
	p.idle <- s
}
