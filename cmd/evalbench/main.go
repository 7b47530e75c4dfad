// Command evalbench fires a fixed number of synthetic snippets at a pool
// from N concurrent callers, reporting p50/p99 latency and an
// error-variant breakdown; it has no duration mode and prints no
// throughput figure. Adapted from
// cmd/loadtest/main.go's LoadTestConfig/LoadTestStats shape, retargeted
// from escrow release transactions to evaluate() calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/pyexec/internal/cache"
	"github.com/ocx/pyexec/internal/evaluator"
	"github.com/ocx/pyexec/internal/pool"
	"github.com/ocx/pyexec/internal/types"
)

// benchConfig holds benchmark run parameters.
type benchConfig struct {
	numCalls       int
	concurrency    int
	poolSize       int
	reportInterval time.Duration
}

// benchStats tracks run metrics, updated concurrently via atomics and
// a latency-slice mutex.
type benchStats struct {
	totalCalls   uint64
	errorsByType sync.Map // types.ErrorType -> *uint64
}

func main() {
	numCalls := flag.Int("calls", 2000, "number of evaluate() calls to fire")
	concurrency := flag.Int("concurrency", 50, "number of concurrent callers")
	poolSize := flag.Int("pool-size", 8, "Interpreter Pool size")
	reportInterval := flag.Duration("report", 5*time.Second, "stats reporting interval")
	flag.Parse()

	cfg := benchConfig{
		numCalls:       *numCalls,
		concurrency:    *concurrency,
		poolSize:       *poolSize,
		reportInterval: *reportInterval,
	}

	slog.Info("starting evalbench", "calls", cfg.numCalls, "concurrency", cfg.concurrency, "pool_size", cfg.poolSize)
	latencies, stats := run(cfg)
	printResults(cfg, latencies, stats)
}

func run(cfg benchConfig) ([]time.Duration, *benchStats) {
	p, err := pool.Boot(context.Background(), cfg.poolSize)
	if err != nil {
		slog.Error("pool boot failed", "error", err)
		return nil, nil
	}
	defer p.Close()

	eval := evaluator.New(p, cache.New(256), uuid.NewString, nil)

	stats := &benchStats{}
	var latencies []time.Duration
	var latenciesMu sync.Mutex

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportProgress(ctx, stats, cfg.reportInterval)

	callChan := make(chan string, cfg.numCalls)
	for i := 0; i < cfg.numCalls; i++ {
		callChan <- syntheticSnippet(i)
	}
	close(callChan)

	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for source := range callChan {
				start := time.Now()
				result := eval.Evaluate(context.Background(), source, types.DefaultSettings())
				latency := time.Since(start)

				atomic.AddUint64(&stats.totalCalls, 1)
				if result.Error != nil {
					counter, _ := stats.errorsByType.LoadOrStore(result.Error.Type, new(uint64))
					atomic.AddUint64(counter.(*uint64), 1)
				}

				latenciesMu.Lock()
				latencies = append(latencies, latency)
				latenciesMu.Unlock()
			}
		}()
	}
	wg.Wait()

	return latencies, stats
}

// syntheticSnippet produces a deterministic, cheap-to-evaluate snippet
// whose cache key varies with i, so the Bytecode Cache sees a realistic
// mix of hits (every 10th call repeats an earlier snippet) and misses.
func syntheticSnippet(i int) string {
	if i%10 == 0 && i > 0 {
		return fmt.Sprintf("%d * %d + %d", i-1, i-1, i-1)
	}
	return fmt.Sprintf("%d * %d + %d", i, i, i)
}

func reportProgress(ctx context.Context, stats *benchStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			slog.Info("evalbench progress", "total_calls", atomic.LoadUint64(&stats.totalCalls))
		case <-ctx.Done():
			return
		}
	}
}

func printResults(cfg benchConfig, latencies []time.Duration, stats *benchStats) {
	if stats == nil {
		return
	}
	separator := "================================================================================"

	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	fmt.Println("\n" + separator)
	fmt.Println("EVALBENCH RESULTS")
	fmt.Println(separator)
	fmt.Printf("Total calls:       %d\n", stats.totalCalls)
	fmt.Printf("Concurrency:       %d\n", cfg.concurrency)
	fmt.Printf("Pool size:         %d\n", cfg.poolSize)
	fmt.Printf("P50 latency:       %v\n", percentile(sorted, 50))
	fmt.Printf("P99 latency:       %v\n", percentile(sorted, 99))

	stats.errorsByType.Range(func(key, value interface{}) bool {
		errType := key.(types.ErrorType)
		count := atomic.LoadUint64(value.(*uint64))
		fmt.Printf("Errors[%s]:  %d\n", errType, count)
		return true
	})
	fmt.Println(separator + "\n")
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
