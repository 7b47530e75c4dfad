// Package types holds the value shapes shared across the evaluation core:
// call Settings, the Result a call produces, and the closed Error variant
// set. Nothing in this package talks to a pool, a cache, or a guest
// interpreter — it is pure data.
package types

import (
	"fmt"

	"github.com/mcuadros/go-defaults"
)

// ErrorType discriminates the five closed Error variants. It doubles as
// the wire-encoding "type" discriminator (see Result's JSON shape).
type ErrorType string

const (
	ErrParseFailure      ErrorType = "SyntaxError"
	ErrRuntimeFailure    ErrorType = "RuntimeError"
	ErrDeadlineExceeded  ErrorType = "Timeout"
	ErrOutputCapExceeded ErrorType = "OutputLimitExceeded"
	ErrModuleRejected    ErrorType = "ModuleNotAllowed"
)

// Error is the closed tagged error a call can produce. Only the fields
// relevant to Type are populated; the rest are zero.
type Error struct {
	Type ErrorType `json:"type"`

	// ParseFailure
	Message string `json:"message,omitempty"`
	Line    int    `json:"line,omitempty"`
	Col     int    `json:"col,omitempty"`

	// RuntimeFailure
	Traceback string `json:"traceback,omitempty"`

	// DeadlineExceeded
	LimitNS uint64 `json:"limit_ns,omitempty"`

	// OutputCapExceeded
	LimitBytes uint64 `json:"limit_bytes,omitempty"`

	// ModuleRejected
	ModuleName string `json:"module_name,omitempty"`
}

func (e *Error) Error() string {
	switch e.Type {
	case ErrParseFailure:
		return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Col, e.Message)
	case ErrRuntimeFailure:
		return fmt.Sprintf("runtime error: %s", e.Message)
	case ErrDeadlineExceeded:
		return fmt.Sprintf("deadline exceeded after %dns", e.LimitNS)
	case ErrOutputCapExceeded:
		return fmt.Sprintf("output cap of %d bytes exceeded", e.LimitBytes)
	case ErrModuleRejected:
		return fmt.Sprintf("module %q not allowed", e.ModuleName)
	default:
		return "unknown evaluation error"
	}
}

func NewParseFailure(message string, line, col int) *Error {
	return &Error{Type: ErrParseFailure, Message: message, Line: line, Col: col}
}

func NewRuntimeFailure(message, traceback string) *Error {
	return &Error{Type: ErrRuntimeFailure, Message: message, Traceback: traceback}
}

func NewDeadlineExceeded(limitNS uint64) *Error {
	return &Error{Type: ErrDeadlineExceeded, LimitNS: limitNS}
}

func NewOutputCapExceeded(limitBytes uint64) *Error {
	return &Error{Type: ErrOutputCapExceeded, LimitBytes: limitBytes}
}

func NewModuleRejected(moduleName string) *Error {
	return &Error{Type: ErrModuleRejected, ModuleName: moduleName}
}

// DefaultAllowedModules is the fixed eleven-name default allowlist (spec §6).
var DefaultAllowedModules = []string{
	"math", "re", "json", "datetime", "collections", "itertools",
	"functools", "string", "random", "os.path", "sys",
}

// Settings configures one evaluation call. Immutable once constructed;
// Clone gives a copy that shares no backing array with the original.
type Settings struct {
	TimeoutNS      uint64   `yaml:"timeout_ns" default:"5000000000"`
	MaxOutputBytes uint64   `yaml:"max_output_bytes" default:"1048576"`
	AllowedModules []string `yaml:"allowed_modules"`
}

// DefaultSettings returns the spec §6 defaults.
func DefaultSettings() Settings {
	s := Settings{}
	defaults.SetDefaults(&s)
	if len(s.AllowedModules) == 0 {
		s.AllowedModules = append([]string(nil), DefaultAllowedModules...)
	}
	return s
}

// Clone returns an independent copy (the allowlist slice is copied).
func (s Settings) Clone() Settings {
	out := s
	out.AllowedModules = append([]string(nil), s.AllowedModules...)
	return out
}

// Result is the always-populated outcome of one evaluation call.
type Result struct {
	Stdout      string  `json:"stdout"`
	Stderr      string  `json:"stderr"`
	ReturnValue *string `json:"return_value"`
	Error       *Error  `json:"error"`
	DurationNS  uint64  `json:"duration_ns"`
}
