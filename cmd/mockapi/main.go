// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Triage Mock API
//
// Standalone server that imitates the triage API for local development:
// the classification event stream and the request/response endpoints,
// with generated reasoning and drafts. Results are remembered, so a
// repeated request is answered from the stored result.
//
// Usage:
//
//	go run ./cmd/mockapi/ [--port 8000] [--delay 150ms] [--fail 13,26]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/triage/internal/config"
	"github.com/bcem/triage/internal/metrics"
	"github.com/bcem/triage/internal/mockapi"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	// --- CLI Flags ---
	portFlag := flag.Int("port", 0, "Port to listen on (default MOCK_PORT or 8000)")
	delayFlag := flag.Duration("delay", 150*time.Millisecond, "Delay between streamed chunks")
	failFlag := flag.String("fail", "", "Comma-separated email ids whose stream fails midway")
	maxFlag := flag.Int64("max-email-id", mockapi.DefaultMaxEmailID, "Highest email id that exists")
	metricsFlag := flag.Bool("metrics", false, "Also serve /metrics on METRICS_ADDR")
	flag.Parse()

	failIDs, err := parseIDs(*failFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --fail: %v\n", err)
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	port := cfg.MockPort
	if *portFlag != 0 {
		port = *portFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mockapi.New(mockapi.Config{
		Token:        cfg.APIToken,
		ChunkDelay:   *delayFlag,
		MaxEmailID:   *maxFlag,
		FailEmailIDs: failIDs,
		Logger:       logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ready, err := mockapi.Serve(gctx, port, srv.Handler())
		if err != nil {
			return err
		}
		<-ready
		slog.Info("mock api ready",
			"port", port,
			"chunk_delay", *delayFlag,
			"auth", cfg.APIToken != "",
		)
		<-gctx.Done()
		return nil
	})

	if *metricsFlag && cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("mock api stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("mock api stopped")
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("email id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
