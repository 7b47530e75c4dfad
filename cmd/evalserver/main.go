// Command evalserver exposes the evaluation core over HTTP and
// websocket: POST /v1/evaluate for a single request/response call,
// GET /v1/stream for a live-updating call, and GET /metrics for
// prometheus scraping.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ocx/pyexec/internal/cache"
	"github.com/ocx/pyexec/internal/circuitbreaker"
	"github.com/ocx/pyexec/internal/config"
	"github.com/ocx/pyexec/internal/evaluator"
	"github.com/ocx/pyexec/internal/metrics"
	"github.com/ocx/pyexec/internal/pool"
	"github.com/ocx/pyexec/internal/quarantine"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := config.Get()

	p, err := pool.Boot(context.Background(), cfg.Pool.Size)
	if err != nil {
		slog.Error("pool boot failed", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	var c cache.Store = cache.New(cfg.Cache.Capacity)
	if cfg.Cache.RedisMirror.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisMirror.Addr})
		mirror := cache.NewRedisMirror(cache.New(cfg.Cache.Capacity), rdb, cfg.Cache.RedisMirror.Channel)
		go mirror.Subscribe(context.Background())
		c = mirror
	}

	var registry *metrics.Registry
	if cfg.Metrics.Enabled {
		registry = metrics.NewRegistry()
	}

	breakers := circuitbreaker.NewEvaluationCircuitBreakers()

	eval := evaluator.New(p, c, newRequestID, breakers.OffPoolConstruction)
	if registry != nil {
		eval.SetMetrics(registry)
	}
	if cfg.Quarantine.Enabled {
		backend := quarantine.NewDockerBackend("runsc")
		executor := quarantine.NewExecutor(backend, cfg.Quarantine.Image)
		window := time.Duration(cfg.Quarantine.WindowSeconds) * time.Second
		eval.EnableQuarantine(executor, cfg.Quarantine.Threshold, window, breakers.QuarantineEscalation)
	}

	srv := newServer(eval, p, c, registry)

	httpServer := &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      srv.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal, shutting down gracefully")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("evalserver starting", "addr", cfg.GetAddr(), "pool_size", cfg.Pool.Size)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("listen and serve failed", "error", err)
		os.Exit(1)
	}
}

func (s *evalServer) router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	router.HandleFunc("/v1/evaluate", s.handleEvaluate).Methods("POST")
	router.HandleFunc("/v1/stream", s.handleStream)

	if s.metrics != nil {
		router.Handle("/metrics", promhttp.Handler())
	}

	return router
}
