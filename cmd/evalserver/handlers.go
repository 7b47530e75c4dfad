package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ocx/pyexec/internal/cache"
	"github.com/ocx/pyexec/internal/evaluator"
	"github.com/ocx/pyexec/internal/metrics"
	"github.com/ocx/pyexec/internal/pool"
	"github.com/ocx/pyexec/internal/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// evalServer holds the shared singletons HTTP handlers read from.
type evalServer struct {
	eval    *evaluator.Evaluator
	pool    *pool.Pool
	cache   cache.Store
	metrics *metrics.Registry
}

func newServer(eval *evaluator.Evaluator, p *pool.Pool, c cache.Store, m *metrics.Registry) *evalServer {
	return &evalServer{eval: eval, pool: p, cache: c, metrics: m}
}

func newRequestID() string {
	return uuid.NewString()
}

// evaluateRequest is the /v1/evaluate JSON body shape.
type evaluateRequest struct {
	Source   string         `json:"source"`
	Settings types.Settings `json:"settings"`
}

func (s *evalServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	settings := resolveSettings(req.Settings)

	start := time.Now()
	result := s.eval.Evaluate(r.Context(), req.Source, settings)
	if s.metrics != nil {
		var errType *types.ErrorType
		if result.Error != nil {
			errType = &result.Error.Type
		}
		s.metrics.RecordEval(time.Since(start).Seconds(), errType)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("encode evaluate response", "error", err)
	}
}

// streamFrame is one /v1/stream websocket frame. The final frame of a
// call carries Result non-nil and no further frames follow.
type streamFrame struct {
	StdoutDelta string        `json:"stdout_delta,omitempty"`
	StderrDelta string        `json:"stderr_delta,omitempty"`
	Result      *types.Result `json:"result,omitempty"`
}

// handleStream upgrades to a websocket, reads one evaluateRequest, and
// streams Output Sink growth live while the call runs, followed by a
// final frame carrying the completed Result. Adapted from the
// broadcast-hub register/unregister/broadcast shape used for live DAG
// events, scoped here to a single in-flight call per connection rather
// than a fan-out hub.
func (s *evalServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var req evaluateRequest
	if err := conn.ReadJSON(&req); err != nil {
		slog.Warn("websocket read failed", "error", err)
		return
	}

	settings := resolveSettings(req.Settings)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	writeJSON := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(v); err != nil {
			slog.Warn("websocket write failed", "error", err)
		}
	}

	result := s.eval.EvaluateStreaming(ctx, req.Source, settings, func(stdout, stderr string) {
		writeJSON(streamFrame{StdoutDelta: stdout, StderrDelta: stderr})
	})
	writeJSON(streamFrame{Result: &result})
}

func resolveSettings(requested types.Settings) types.Settings {
	settings := types.DefaultSettings()
	if requested.TimeoutNS != 0 {
		settings.TimeoutNS = requested.TimeoutNS
	}
	if requested.MaxOutputBytes != 0 {
		settings.MaxOutputBytes = requested.MaxOutputBytes
	}
	if len(requested.AllowedModules) != 0 {
		settings.AllowedModules = requested.AllowedModules
	}
	return settings
}
