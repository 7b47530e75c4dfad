// Package evaluator implements the top-level orchestrator: the single
// public evaluate(source, settings) -> Result operation that wires
// together the Source Shaper, Bytecode Cache, Output Sink, Allowlist,
// Interpreter Pool, and Timeout Harness.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ocx/pyexec/internal/allowlist"
	"github.com/ocx/pyexec/internal/cache"
	"github.com/ocx/pyexec/internal/circuitbreaker"
	"github.com/ocx/pyexec/internal/metrics"
	"github.com/ocx/pyexec/internal/pool"
	"github.com/ocx/pyexec/internal/quarantine"
	"github.com/ocx/pyexec/internal/shaper"
	"github.com/ocx/pyexec/internal/sink"
	"github.com/ocx/pyexec/internal/slot"
	"github.com/ocx/pyexec/internal/timeout"
	"github.com/ocx/pyexec/internal/types"
)

// errFallbackTimedOut marks an off-pool fallback execution that never
// replied in time, so the circuit breaker counts it as a failure.
var errFallbackTimedOut = errors.New("off-pool fallback timed out")

// errQuarantineUnavailable stands in for a tripped quarantine circuit
// breaker's fallback result; its text is never surfaced to a caller.
var errQuarantineUnavailable = errors.New("quarantine backend unavailable")

// dispatchDeadline bounds how long Evaluate waits for a free pool Slot
// before falling back to an off-pool interpreter. It is far larger than
// any practical per-call timeout.NS budget, matching spec.md §4.8 step 8.
const dispatchDeadline = 30 * time.Second

// idGenerator names the caller-supplied request-ID source; cmd/ entry
// points wire this to uuid.NewString so every call's Slot thread name
// and guest source file name carry a stable identifier.
type idGenerator func() string

// Evaluator owns the shared singletons one evaluate() call reads from:
// the Interpreter Pool and the Bytecode Cache.
type Evaluator struct {
	pool    *pool.Pool
	cache   cache.Store
	nextID  idGenerator
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Registry

	quarantine          *quarantine.Executor
	quarantineThreshold int
	quarantineWindow    time.Duration
	quarantineBreaker   *circuitbreaker.CircuitBreaker

	timeoutMu      sync.Mutex
	timeoutHistory map[cache.Key][]time.Time
}

// New builds an Evaluator backed by p and c. nextID may be nil, in which
// case call IDs are left blank (acceptable for tests; cmd/ wiring always
// supplies uuid.NewString). breaker may be nil to disable the off-pool
// construction circuit breaker entirely.
func New(p *pool.Pool, c cache.Store, nextID idGenerator, breaker *circuitbreaker.CircuitBreaker) *Evaluator {
	if nextID == nil {
		nextID = func() string { return "" }
	}
	return &Evaluator{
		pool:           p,
		cache:          c,
		nextID:         nextID,
		breaker:        breaker,
		timeoutHistory: make(map[cache.Key][]time.Time),
	}
}

// SetMetrics attaches the prometheus registry evaluate() reports cache
// lookups, pool occupancy, and quarantine escalations to. Leaving it
// unset (the zero value) disables all of those recordings.
func (e *Evaluator) SetMetrics(m *metrics.Registry) {
	e.metrics = m
}

// EnableQuarantine turns on escalation to the Quarantine Backend: once a
// cache key has produced threshold DeadlineExceeded outcomes within
// window, the next timeout for that key runs through executor instead of
// being returned as a plain DeadlineExceeded result. breaker guards the
// Backend's own container provisioning, independently of the off-pool
// construction breaker passed to New (spec.md §4.9).
func (e *Evaluator) EnableQuarantine(executor *quarantine.Executor, threshold int, window time.Duration, breaker *circuitbreaker.CircuitBreaker) {
	e.quarantine = executor
	e.quarantineThreshold = threshold
	e.quarantineWindow = window
	e.quarantineBreaker = breaker
}

// Evaluate runs spec.md §4.8's thirteen steps end to end.
func (e *Evaluator) Evaluate(ctx context.Context, source string, settings types.Settings) types.Result {
	return e.evaluate(ctx, source, settings, nil)
}

// EvaluateStreaming is Evaluate, plus periodic calls to onUpdate with
// the Sink's accumulated stdout/stderr while the call is still in
// flight. onUpdate is called from a goroutine distinct from the
// dispatch goroutine and must not block; it is never called again
// after EvaluateStreaming returns. Used by cmd/evalserver's websocket
// stream endpoint to forward Output Sink writes live.
func (e *Evaluator) EvaluateStreaming(ctx context.Context, source string, settings types.Settings, onUpdate func(stdout, stderr string)) types.Result {
	return e.evaluate(ctx, source, settings, onUpdate)
}

func (e *Evaluator) evaluate(ctx context.Context, source string, settings types.Settings, onUpdate func(stdout, stderr string)) types.Result {
	start := time.Now()

	shaped := shaper.Shape(source)

	key := cache.Sum(shaped)
	_, hit := e.cache.Get(key) // warm touch only; value is discarded (§4.3/§4.8 step 3)
	if e.metrics != nil {
		e.metrics.RecordCacheLookup(hit)
	}

	snk := sink.New(settings.MaxOutputBytes)
	modules := allowlist.NewSet(settings.AllowedModules)

	work := slot.Work{
		CallID:  e.nextID(),
		Source:  shaped,
		Modules: modules,
		Sink:    snk,
	}

	var stopStreaming, streamDone chan struct{}
	if onUpdate != nil {
		stopStreaming = make(chan struct{})
		streamDone = make(chan struct{})
		go func() {
			streamSink(snk, onUpdate, stopStreaming)
			close(streamDone)
		}()
	}

	outcome, haveReply := e.dispatch(ctx, work, settings)

	if stopStreaming != nil {
		close(stopStreaming)
		<-streamDone
	}

	if e.metrics != nil && e.pool != nil {
		stats := e.pool.Stats()
		e.metrics.RecordPoolStats(stats["idle_slots"], stats["active_slots"])
	}

	result := e.buildResult(outcome, haveReply, snk, settings)

	if result.Error != nil && result.Error.Type == types.ErrDeadlineExceeded && e.quarantine != nil {
		if escalated, ok := e.tryQuarantine(ctx, key, work); ok {
			result = escalated
		}
	}

	result.DurationNS = uint64(time.Since(start).Nanoseconds())

	if result.Error == nil || result.Error.Type != types.ErrParseFailure {
		e.cache.Insert(key, shaped)
	}

	return result
}

// tryQuarantine escalates work to the Quarantine Backend once key has
// crossed the configured repeat-DeadlineExceeded threshold within the
// configured window. It returns (zero, false) when escalation either
// isn't yet warranted or the Backend itself fails, in which case the
// caller keeps the plain DeadlineExceeded result.
func (e *Evaluator) tryQuarantine(ctx context.Context, key cache.Key, work slot.Work) (types.Result, bool) {
	if !e.shouldEscalate(key) {
		return types.Result{}, false
	}

	run := func() ([]byte, error) {
		return e.quarantine.Execute(ctx, work)
	}

	var (
		output []byte
		err    error
	)
	if e.quarantineBreaker != nil {
		output, err = circuitbreaker.ExecuteWithFallback(e.quarantineBreaker,
			run,
			func(error) ([]byte, error) { return nil, errQuarantineUnavailable },
		)
	} else {
		output, err = run()
	}
	if err != nil {
		return types.Result{}, false
	}

	var result types.Result
	if err := json.Unmarshal(output, &result); err != nil {
		return types.Result{}, false
	}

	if e.metrics != nil {
		e.metrics.RecordQuarantineEscalation()
	}
	return result, true
}

// shouldEscalate records a DeadlineExceeded occurrence for key and
// reports whether the rolling window now holds at least
// quarantineThreshold of them.
func (e *Evaluator) shouldEscalate(key cache.Key) bool {
	e.timeoutMu.Lock()
	defer e.timeoutMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-e.quarantineWindow)

	history := e.timeoutHistory[key]
	kept := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	e.timeoutHistory[key] = kept

	return len(kept) >= e.quarantineThreshold
}

// streamSink polls snk for growth and reports each new suffix to
// onUpdate until stop is closed. Polling, not a push callback, because
// Sink's contract (spec.md §4.1) is a plain mutex-guarded buffer with
// no subscriber list.
func streamSink(snk *sink.Sink, onUpdate func(stdout, stderr string), stop <-chan struct{}) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var sentStdout, sentStderr int
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			stdout, stderr := snk.Drain()
			if len(stdout) > sentStdout || len(stderr) > sentStderr {
				onUpdate(stdout[sentStdout:], stderr[sentStderr:])
				sentStdout, sentStderr = len(stdout), len(stderr)
			}
		}
	}
}

// dispatch implements steps 8-10: try the pool under a generous checkout
// deadline and a per-call reply deadline; fall back to an off-pool Slot
// under the Timeout Harness on dispatch failure or no-reply.
func (e *Evaluator) dispatch(ctx context.Context, work slot.Work, settings types.Settings) (slot.Outcome, bool) {
	dctx, cancel := context.WithTimeout(ctx, dispatchDeadline)
	defer cancel()

	if e.pool != nil {
		reply := make(chan slot.Outcome, 1)
		dispatched := make(chan bool, 1)
		go func() {
			out, ok := e.pool.Dispatch(dctx, work)
			dispatched <- ok
			if ok {
				reply <- out
			}
		}()

		select {
		case ok := <-dispatched:
			if ok {
				return <-reply, true
			}
		case <-time.After(time.Duration(settings.TimeoutNS)):
			cancel()
		case <-dctx.Done():
		}
	}

	// Off-pool fallback: a freshly constructed interpreter, run under
	// the Timeout Harness so a wedged fallback never blocks the caller
	// past settings.timeout_ns (spec.md §4.8 step 10, §4.4). If
	// off-pool construction keeps timing out under sustained load, the
	// circuit breaker trips and short-circuits straight to "no reply"
	// (§4.11) instead of piling up more doomed attempts.
	runFallback := func() (fallbackResult, error) {
		out, ok := timeout.Run(time.Duration(settings.TimeoutNS), func() slot.Outcome {
			s := slot.New(-1)
			defer s.Close()
			return <-s.Submit(work)
		})
		if !ok {
			return fallbackResult{}, errFallbackTimedOut
		}
		return fallbackResult{outcome: out, ok: true}, nil
	}

	if e.breaker == nil {
		result, _ := runFallback()
		return result.outcome, result.ok
	}

	result, _ := circuitbreaker.ExecuteWithFallback(e.breaker,
		runFallback,
		func(error) (fallbackResult, error) { return fallbackResult{}, nil },
	)
	return result.outcome, result.ok
}

// fallbackResult pairs an off-pool Outcome with whether it arrived in
// time, letting the circuit breaker's generic Execute return a single
// value while still distinguishing "replied" from "timed out".
type fallbackResult struct {
	outcome slot.Outcome
	ok      bool
}

// buildResult implements spec.md §4.8 step 12's override precedence:
// a tripped sink always wins over whatever interior error the guest
// produced, and a missing reply always means DeadlineExceeded.
func (e *Evaluator) buildResult(outcome slot.Outcome, haveReply bool, snk *sink.Sink, settings types.Settings) types.Result {
	stdout, stderr := snk.Drain()

	if !haveReply {
		return types.Result{
			Stdout: stdout,
			Stderr: stderr,
			Error:  types.NewDeadlineExceeded(settings.TimeoutNS),
		}
	}

	if snk.Tripped() {
		return types.Result{
			Stdout: stdout,
			Stderr: stderr,
			Error:  types.NewOutputCapExceeded(settings.MaxOutputBytes),
		}
	}

	return types.Result{
		Stdout:      stdout,
		Stderr:      stderr,
		ReturnValue: outcome.ReturnValue,
		Error:       outcome.Err,
	}
}
