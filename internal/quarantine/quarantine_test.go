package quarantine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/pyexec/internal/slot"
)

type fakeBackend struct {
	created   int32
	exec      func(containerID string, cmd []string) ([]byte, error)
	removed   int32
	startErr  error
	createErr error
}

func (f *fakeBackend) CreateContainer(ctx context.Context, image string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	n := atomic.AddInt32(&f.created, 1)
	return "container-" + string(rune('a'+n)), nil
}

func (f *fakeBackend) StartContainer(ctx context.Context, containerID string) error {
	return f.startErr
}

func (f *fakeBackend) ExecInContainer(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
	if f.exec != nil {
		return f.exec(containerID, cmd)
	}
	return []byte("ok"), nil
}

func (f *fakeBackend) RemoveContainer(ctx context.Context, containerID string) error {
	atomic.AddInt32(&f.removed, 1)
	return nil
}

func (f *fakeBackend) Name() string { return "fake" }

func TestExecutor_ExecuteRunsThroughFullLifecycle(t *testing.T) {
	backend := &fakeBackend{}
	e := NewExecutor(backend, "pyexec-sandbox:latest")

	out, err := e.Execute(context.Background(), slot.Work{CallID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	assert.Equal(t, int32(1), backend.created)
	assert.Equal(t, int32(1), backend.removed)
}

func TestExecutor_CreateContainerFailurePropagates(t *testing.T) {
	backend := &fakeBackend{createErr: assert.AnError}
	e := NewExecutor(backend, "pyexec-sandbox:latest")

	_, err := e.Execute(context.Background(), slot.Work{CallID: "c1"})
	assert.Error(t, err)
}

func TestExecutor_ContainerAlwaysRemovedEvenOnExecFailure(t *testing.T) {
	backend := &fakeBackend{exec: func(string, []string) ([]byte, error) {
		return nil, assert.AnError
	}}
	e := NewExecutor(backend, "pyexec-sandbox:latest")

	_, err := e.Execute(context.Background(), slot.Work{CallID: "c1"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), backend.removed)
}

func TestExecutor_ConcurrentExecutesEachGetOwnContainer(t *testing.T) {
	backend := &fakeBackend{}
	e := NewExecutor(backend, "pyexec-sandbox:latest")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Execute(context.Background(), slot.Work{CallID: "c"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), backend.created)
	assert.Equal(t, int32(5), backend.removed)
}
