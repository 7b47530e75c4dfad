package evaluator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/pyexec/internal/cache"
	"github.com/ocx/pyexec/internal/metrics"
	"github.com/ocx/pyexec/internal/pool"
	"github.com/ocx/pyexec/internal/quarantine"
	"github.com/ocx/pyexec/internal/slot"
	"github.com/ocx/pyexec/internal/types"
)

func newTestEvaluator(t *testing.T, poolSize int) *Evaluator {
	t.Helper()
	p, err := pool.Boot(context.Background(), poolSize)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return New(p, cache.New(16), nil, nil)
}

func TestEvaluate_BareExpressionReturnsValue(t *testing.T) {
	e := newTestEvaluator(t, 1)
	result := e.Evaluate(context.Background(), "1 + 2", types.DefaultSettings())

	require.Nil(t, result.Error)
	require.NotNil(t, result.ReturnValue)
	assert.Equal(t, "3", *result.ReturnValue)
}

func TestEvaluate_PrintCapturedAsStdout(t *testing.T) {
	e := newTestEvaluator(t, 1)
	result := e.Evaluate(context.Background(), `print("hello")`, types.DefaultSettings())

	require.Nil(t, result.Error)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestEvaluate_SyntaxErrorReported(t *testing.T) {
	e := newTestEvaluator(t, 1)
	result := e.Evaluate(context.Background(), "def f(:\n  pass", types.DefaultSettings())

	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrParseFailure, result.Error.Type)
}

func TestEvaluate_DisallowedImportReportsModuleRejected(t *testing.T) {
	e := newTestEvaluator(t, 1)
	settings := types.DefaultSettings()
	settings.AllowedModules = []string{"math"}

	result := e.Evaluate(context.Background(), "import random\n__result__ = 1", settings)

	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrModuleRejected, result.Error.Type)
}

func TestEvaluate_OutputCapExceededOverridesSuccess(t *testing.T) {
	e := newTestEvaluator(t, 1)
	settings := types.DefaultSettings()
	settings.MaxOutputBytes = 2

	result := e.Evaluate(context.Background(), `print("way too long")`, settings)

	require.NotNil(t, result.Error)
	assert.Equal(t, types.ErrOutputCapExceeded, result.Error.Type)
}

func TestEvaluate_DurationIsStamped(t *testing.T) {
	e := newTestEvaluator(t, 1)
	result := e.Evaluate(context.Background(), "1 + 1", types.DefaultSettings())
	assert.Greater(t, result.DurationNS, uint64(0))
}

func TestEvaluateStreaming_ReportsFinalResultAndAllowsNoUpdates(t *testing.T) {
	e := newTestEvaluator(t, 1)
	var updates int
	result := e.EvaluateStreaming(context.Background(), `print("hi")`, types.DefaultSettings(), func(stdout, stderr string) {
		updates++
	})

	require.Nil(t, result.Error)
	assert.Equal(t, "hi\n", result.Stdout)
	// A call this fast may complete before streamSink's first tick;
	// EvaluateStreaming must still return the full Result either way.
	assert.GreaterOrEqual(t, updates, 0)
}

func TestEvaluate_ParseFailureNotCachedButSuccessIs(t *testing.T) {
	e := newTestEvaluator(t, 1)
	settings := types.DefaultSettings()

	shaped := "1 + 2" // shaper wraps this to "__result__ = 1 + 2"
	e.Evaluate(context.Background(), shaped, settings)
	assert.Equal(t, 1, e.cache.Len())

	e2 := newTestEvaluator(t, 1)
	e2.Evaluate(context.Background(), "def f(:\n  pass", settings)
	assert.Equal(t, 0, e2.cache.Len())
}

func TestEvaluate_RecordsCacheMissThenHitMetrics(t *testing.T) {
	e := newTestEvaluator(t, 1)
	reg := metrics.NewRegistry()
	e.SetMetrics(reg)

	e.Evaluate(context.Background(), "1 + 1", types.DefaultSettings())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.CacheMissesTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.PoolActiveSlots))

	e.Evaluate(context.Background(), "1 + 1", types.DefaultSettings())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.CacheHitsTotal))
}

func TestShouldEscalate_TripsOnlyAfterThresholdWithinWindow(t *testing.T) {
	e := newTestEvaluator(t, 1)
	e.quarantineThreshold = 2
	e.quarantineWindow = time.Minute

	key := cache.Sum("some source")
	assert.False(t, e.shouldEscalate(key))
	assert.True(t, e.shouldEscalate(key))
}

func TestShouldEscalate_OldOccurrencesAgeOutOfWindow(t *testing.T) {
	e := newTestEvaluator(t, 1)
	e.quarantineThreshold = 2
	e.quarantineWindow = 10 * time.Millisecond

	key := cache.Sum("some source")
	assert.False(t, e.shouldEscalate(key))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, e.shouldEscalate(key), "the first occurrence should have aged out of the window")
}

type fakeQuarantineBackend struct {
	output []byte
	err    error
}

func (f *fakeQuarantineBackend) CreateContainer(ctx context.Context, image string) (string, error) {
	return "container-1", nil
}

func (f *fakeQuarantineBackend) StartContainer(ctx context.Context, containerID string) error {
	return nil
}

func (f *fakeQuarantineBackend) ExecInContainer(ctx context.Context, containerID string, cmd []string) ([]byte, error) {
	return f.output, f.err
}

func (f *fakeQuarantineBackend) RemoveContainer(ctx context.Context, containerID string) error {
	return nil
}

func (f *fakeQuarantineBackend) Name() string { return "fake" }

func TestTryQuarantine_ReturnsBackendResultOnceThresholdReached(t *testing.T) {
	e := newTestEvaluator(t, 1)

	escalated := types.Result{Stdout: "ran in quarantine\n"}
	payload, err := json.Marshal(escalated)
	require.NoError(t, err)

	executor := quarantine.NewExecutor(&fakeQuarantineBackend{output: payload}, "pyexec-sandbox:latest")
	e.EnableQuarantine(executor, 1, time.Minute, nil)

	key := cache.Sum("some source")
	result, ok := e.tryQuarantine(context.Background(), key, slot.Work{CallID: "c1"})
	require.True(t, ok)
	assert.Equal(t, "ran in quarantine\n", result.Stdout)
}

func TestTryQuarantine_NotEscalatedBelowThreshold(t *testing.T) {
	e := newTestEvaluator(t, 1)

	executor := quarantine.NewExecutor(&fakeQuarantineBackend{output: []byte(`{}`)}, "pyexec-sandbox:latest")
	e.EnableQuarantine(executor, 2, time.Minute, nil)

	key := cache.Sum("some source")
	_, ok := e.tryQuarantine(context.Background(), key, slot.Work{CallID: "c1"})
	assert.False(t, ok)
}

func TestTryQuarantine_BackendFailureReturnsFalse(t *testing.T) {
	e := newTestEvaluator(t, 1)

	executor := quarantine.NewExecutor(&fakeQuarantineBackend{err: assert.AnError}, "pyexec-sandbox:latest")
	e.EnableQuarantine(executor, 1, time.Minute, nil)

	key := cache.Sum("some source")
	_, ok := e.tryQuarantine(context.Background(), key, slot.Work{CallID: "c1"})
	assert.False(t, ok)
}
