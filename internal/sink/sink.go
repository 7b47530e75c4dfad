// Package sink implements the Output Sink: a shared byte buffer capturing
// a guest call's combined stdout+stderr under one hard cap.
package sink

import (
	"errors"
	"strings"
	"sync"
)

// ErrCapExceeded is returned by Write* when a write would push the
// combined total past the configured cap.
var ErrCapExceeded = errors.New("output cap exceeded")

// Sink captures two logical streams under one shared cap. Safe for
// concurrent use by the Evaluator and any worker executing the call.
type Sink struct {
	mu      sync.Mutex
	stdout  []byte
	stderr  []byte
	cap     uint64
	tripped bool
}

// New returns a Sink bounded to cap bytes of combined stdout+stderr.
func New(cap uint64) *Sink {
	return &Sink{cap: cap}
}

// WriteStdout appends p to the stdout stream, atomically: either all of
// p is appended, or nothing changes and ErrCapExceeded is returned.
func (s *Sink) WriteStdout(p []byte) error {
	return s.write(&s.stdout, p)
}

// WriteStderr is WriteStdout for the stderr stream.
func (s *Sink) WriteStderr(p []byte) error {
	return s.write(&s.stderr, p)
}

func (s *Sink) write(dst *[]byte, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p) == 0 {
		return nil
	}

	total := uint64(len(s.stdout)) + uint64(len(s.stderr))
	if total+uint64(len(p)) > s.cap {
		s.tripped = true
		return ErrCapExceeded
	}

	*dst = append(*dst, p...)
	return nil
}

// Tripped reports whether any write has ever been rejected for this Sink.
// Latched: once true, stays true even though later small writes still
// succeed.
func (s *Sink) Tripped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripped
}

// Drain returns the captured text, decoding bytes as UTF-8 and replacing
// invalid sequences with the Unicode replacement character. Never fails,
// even if another handle on this Sink is still live.
func (s *Sink) Drain() (stdout, stderr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return toValidText(s.stdout), toValidText(s.stderr)
}

func toValidText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(b), "�")
}
