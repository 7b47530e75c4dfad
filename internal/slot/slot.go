// Package slot implements the Interpreter Slot: a single, thread-affine
// guest interpreter that executes one call at a time and resets to its
// baseline module state in between, mirroring the per-slot lifecycle
// ghostpool.PoolManager drives for its container workers.
package slot

import (
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/ocx/pyexec/internal/allowlist"
	"github.com/ocx/pyexec/internal/guestmodules"
	"github.com/ocx/pyexec/internal/sink"
	"github.com/ocx/pyexec/internal/types"
)

func init() {
	// The dialect allows the bare trailing-expression idiom the Source
	// Shaper relies on statements to express, and set/lambda literals
	// guest snippets commonly use.
	resolve.AllowSet = true
	resolve.AllowLambda = true
	resolve.AllowRecursion = false
}

// Work is one call handed to a Slot for execution. Source has already
// passed through the Source Shaper and import rewriting is performed by
// the Slot itself.
type Work struct {
	CallID  string
	Source  string
	Modules allowlist.Set
	Sink    *sink.Sink
}

// Outcome is a Work's result, prior to duration stamping (the Evaluator
// owns the wall-clock measurement since it also times the dispatch wait).
type Outcome struct {
	ReturnValue *string
	Err         *types.Error
}

// Slot owns one goroutine pinned to an OS thread via runtime.LockOSThread,
// matching the thread-affinity ghostpool gives its container workers even
// though go.starlark.net itself has no such requirement: keeping the
// pattern makes every slot's failure mode (a wedged OS thread, not a
// wedged goroutine) identical regardless of which backend ends up behind
// the Slot interface.
type Slot struct {
	id   int
	jobs chan job
	done chan struct{}
}

type job struct {
	work  Work
	reply chan Outcome
}

// New starts a Slot's loop goroutine and returns immediately; the
// goroutine itself does the one-time warmup of locking its OS thread.
func New(id int) *Slot {
	s := &Slot{
		id:   id,
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Submit hands w to the slot and returns a channel that receives exactly
// one Outcome. Submit blocks until the slot is ready to accept (i.e. not
// already executing another call) — callers needing a checkout deadline
// layer that above Submit.
func (s *Slot) Submit(w Work) <-chan Outcome {
	reply := make(chan Outcome, 1)
	s.jobs <- job{work: w, reply: reply}
	return reply
}

// Close stops the slot's loop goroutine after its current job (if any)
// finishes. A Slot must never be submitted to again after Close.
func (s *Slot) Close() {
	close(s.done)
}

func (s *Slot) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	// A panic in execute ends this Slot without a reply; the process survives.
	defer func() { _ = recover() }()

	for {
		select {
		case j := <-s.jobs:
			j.reply <- s.execute(j.work)
		case <-s.done:
			return
		}
	}
}

const resultVar = "__result__"

// execute runs one call to completion on the calling (locked) goroutine.
// Compile/runtime failures from go.starlark.net are ordinary returned
// errors that we classify into the closed Error set. A Go panic raised
// during execution is recovered by loop, which then stops the Slot
// without sending a reply, so the caller sees the call as unanswered.
func (s *Slot) execute(w Work) Outcome {
	rewritten, rejected := rewriteImports(w.Source)
	if rejected != nil {
		return Outcome{Err: rejected}
	}

	thread := &starlark.Thread{
		Name: fmt.Sprintf("slot-%d-%s", s.id, w.CallID),
		Print: func(_ *starlark.Thread, msg string) {
			// print() failures are swallowed by design: go.starlark.net's
			// Print hook has no error return, so a cap trip surfaces only
			// via Sink.Tripped(), not as a guest-visible exception.
			_ = w.Sink.WriteStdout([]byte(msg + "\n"))
		},
		Load: func(_ *starlark.Thread, _ string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load() is not available to guest source")
		},
	}

	predeclared := starlark.StringDict{
		"__import_module__": starlark.NewBuiltin("__import_module__", s.builtinImportModule(w)),
		"sys":               sysModule(w.Sink),
	}

	globals, err := starlark.ExecFile(thread, w.CallID+".star", rewritten, predeclared)
	if err != nil {
		return Outcome{Err: classifyError(err)}
	}

	if w.Sink.Tripped() {
		return Outcome{Err: types.NewOutputCapExceeded(0)}
	}

	var rv *string
	if v, ok := globals[resultVar]; ok && v != starlark.None {
		text := v.String()
		if s, isStr := starlark.AsString(v); isStr {
			text = s
		}
		rv = &text
	}

	return Outcome{ReturnValue: rv}
}

// builtinImportModule is called by the text rewritten in place of a
// guest `import`/`from...import` statement. It enforces the allowlist
// (origin is always "user source" here: rewriteImports only fires on
// guest-authored import statements, never on library-internal ones,
// since stub modules are Go-native and never themselves contain Starlark
// import syntax) and otherwise delegates to guestmodules.Build.
func (s *Slot) builtinImportModule(w Work) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs("__import_module__", args, kwargs, "name", &name); err != nil {
			return nil, err
		}

		if !allowlist.AllowedFromOrigin(name, w.Modules, true) {
			return nil, moduleRejectedError{name: name}
		}

		if name == "sys" {
			return sysModule(w.Sink), nil
		}
		return guestmodules.Build(name)
	}
}

// moduleRejectedError carries a *types.Error through go.starlark.net's
// error plumbing (which only deals in `error`) so classifyError can
// recover the precise ModuleNotAllowed variant instead of downgrading it
// to a generic RuntimeFailure.
type moduleRejectedError struct{ name string }

func (e moduleRejectedError) Error() string {
	return fmt.Sprintf("module %q is not in the allowed_modules set", e.name)
}

func sysModule(snk *sink.Sink) *starlarkstruct.Module {
	stderrWrite := starlark.NewBuiltin("sys.stderr.write", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var text string
		if err := starlark.UnpackArgs("sys.stderr.write", args, kwargs, "text", &text); err != nil {
			return nil, err
		}
		if err := snk.WriteStderr([]byte(text)); err != nil {
			return nil, fmt.Errorf("sys.stderr.write: %w", err)
		}
		return starlark.None, nil
	})
	stderr := &starlarkstruct.Module{Name: "stderr", Members: starlark.StringDict{"write": stderrWrite}}
	return &starlarkstruct.Module{Name: "sys", Members: starlark.StringDict{"stderr": stderr}}
}

var parseLocRe = regexp.MustCompile(`:(\d+):(\d+):\s*(.*)$`)

// classifyError maps a go.starlark.net error into the closed Error set.
// *starlark.EvalError is the one well-documented exported type for a
// runtime failure (it carries a Go backtrace string via Backtrace()); any
// other error is treated as a compile/parse-time failure and its
// position is recovered by pattern-matching go.starlark.net's conventional
// "<file>:line:col: message" formatting, since the parser/resolver error
// list types are not part of the package's stable exported surface.
func classifyError(err error) *types.Error {
	if mr, ok := asModuleRejected(err); ok {
		return types.NewModuleRejected(mr.name)
	}

	if evalErr, ok := err.(*starlark.EvalError); ok {
		return types.NewRuntimeFailure(evalErr.Msg, evalErr.Backtrace())
	}

	msg := err.Error()
	if m := parseLocRe.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		return types.NewParseFailure(strings.TrimSpace(m[3]), line, col)
	}
	return types.NewParseFailure(msg, 0, 0)
}

func asModuleRejected(err error) (moduleRejectedError, bool) {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		if mr, ok := evalErr.Unwrap().(moduleRejectedError); ok {
			return mr, true
		}
	}
	if mr, ok := err.(moduleRejectedError); ok {
		return mr, true
	}
	return moduleRejectedError{}, false
}
