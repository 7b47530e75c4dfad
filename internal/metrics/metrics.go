// Package metrics holds every Prometheus metric the evaluation core
// records, adapted directly from escrow.Metrics' register-once,
// Record*-method shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ocx/pyexec/internal/types"
)

// Registry holds all Prometheus metrics for the evaluation core.
type Registry struct {
	PoolIdleSlots         prometheus.Gauge
	PoolActiveSlots       prometheus.Gauge
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	EvalDuration          prometheus.Histogram
	ErrorsTotal           *prometheus.CounterVec
	QuarantineEscalations prometheus.Counter
}

// NewRegistry creates and registers all Prometheus metrics.
func NewRegistry() *Registry {
	return &Registry{
		PoolIdleSlots: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pyexec_pool_idle_slots",
			Help: "Number of Interpreter Slots currently idle in the pool",
		}),
		PoolActiveSlots: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pyexec_pool_active_slots",
			Help: "Number of Interpreter Slots currently executing a call",
		}),
		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pyexec_cache_hits_total",
			Help: "Total number of Bytecode Cache lookups that found an entry",
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pyexec_cache_misses_total",
			Help: "Total number of Bytecode Cache lookups that found nothing",
		}),
		EvalDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pyexec_eval_duration_seconds",
			Help:    "Wall-clock duration of one evaluate() call, dispatch wait included",
			Buckets: prometheus.DefBuckets,
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pyexec_errors_total",
			Help: "Total number of evaluate() calls that produced each error variant",
		}, []string{"type"}),
		QuarantineEscalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pyexec_quarantine_escalations_total",
			Help: "Total number of calls escalated to the Quarantine Backend",
		}),
	}
}

// RecordCacheLookup records a single Bytecode Cache get, hit or miss.
func (r *Registry) RecordCacheLookup(hit bool) {
	if hit {
		r.CacheHitsTotal.Inc()
		return
	}
	r.CacheMissesTotal.Inc()
}

// RecordEval records one evaluate() call's outcome.
func (r *Registry) RecordEval(durationSeconds float64, errType *types.ErrorType) {
	r.EvalDuration.Observe(durationSeconds)
	if errType != nil {
		r.ErrorsTotal.WithLabelValues(string(*errType)).Inc()
	}
}

// RecordPoolStats updates the pool gauges from a pool.Pool.Stats() map.
func (r *Registry) RecordPoolStats(idle, active int) {
	r.PoolIdleSlots.Set(float64(idle))
	r.PoolActiveSlots.Set(float64(active))
}

// RecordQuarantineEscalation increments the escalation counter.
func (r *Registry) RecordQuarantineEscalation() {
	r.QuarantineEscalations.Inc()
}
