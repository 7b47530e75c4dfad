// Command evalcli evaluates one guest snippet and prints its Result as
// a single JSON line to stdout. It always exits 0: a failed evaluation
// is reported in the JSON body's error field, not via process exit
// status, so callers never have to special-case a non-zero exit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ocx/pyexec/internal/cache"
	"github.com/ocx/pyexec/internal/evaluator"
	"github.com/ocx/pyexec/internal/pool"
	"github.com/ocx/pyexec/internal/types"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	var (
		file           = flag.String("file", "", "path to a source file; reads stdin when empty")
		stdin          = flag.Bool("stdin", false, "read source from stdin (the default when -file is omitted; accepted explicitly for Quarantine Backend exec invocations)")
		timeoutNS      = flag.Uint64("timeout-ns", 0, "override the default timeout, in nanoseconds")
		maxOutputBytes = flag.Uint64("max-output-bytes", 0, "override the default output cap, in bytes")
		allow          = flag.String("allow", "", "comma-separated module allowlist override")
	)
	flag.Parse()

	readPath := *file
	if *stdin {
		readPath = ""
	}
	source, err := readSource(readPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evalcli: %v\n", err)
		os.Exit(1)
	}

	settings := types.DefaultSettings()
	if *timeoutNS != 0 {
		settings.TimeoutNS = *timeoutNS
	}
	if *maxOutputBytes != 0 {
		settings.MaxOutputBytes = *maxOutputBytes
	}
	if *allow != "" {
		settings.AllowedModules = splitAllow(*allow)
	}

	p, err := pool.Boot(context.Background(), 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evalcli: pool boot failed: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	eval := evaluator.New(p, cache.New(64), uuid.NewString, nil)
	result := eval.Evaluate(context.Background(), source, settings)

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "evalcli: encode result: %v\n", err)
		os.Exit(1)
	}
}

func readSource(path string) (string, error) {
	if path == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func splitAllow(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
