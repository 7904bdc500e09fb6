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

// Package metrics exposes Prometheus instrumentation for classification
// stream sessions and the non-streaming fallback.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session outcomes.
const (
	OutcomeCompleted  = "completed"
	OutcomeFailed     = "failed"
	OutcomeCancelled  = "cancelled"
	OutcomeSuperseded = "superseded"
)

var (
	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_stream_sessions_started_total",
		Help: "Classification stream sessions opened, grouped by action",
	}, []string{"action"})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_stream_sessions_finished_total",
		Help: "Classification stream sessions that left the open state, grouped by action and outcome",
	}, []string{"action", "outcome"})

	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_stream_session_duration_seconds",
		Help:    "Time from opening a session to its terminal state",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"action", "outcome"})

	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_stream_events_total",
		Help: "Stream events applied to session state, grouped by kind",
	}, []string{"kind"})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_stream_decode_errors_total",
		Help: "Stream events skipped because their payload could not be decoded",
	}, []string{"kind"})

	staleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_stream_stale_events_total",
		Help: "Events dropped because their session was already detached",
	})

	invalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_cache_invalidations_total",
		Help: "Downstream cache invalidations, grouped by status",
	}, []string{"status"})

	fallbackRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_fallback_requests_total",
		Help: "Non-streaming classification requests, grouped by action and status",
	}, []string{"action", "status"})
)

// ObserveSessionStart records a newly opened session.
func ObserveSessionStart(action string) {
	sessionsStarted.WithLabelValues(action).Inc()
}

// ObserveSessionEnd records the outcome and duration of a session.
func ObserveSessionEnd(action, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	sessionsFinished.WithLabelValues(action, outcome).Inc()
	sessionDuration.WithLabelValues(action, outcome).Observe(duration.Seconds())
}

// ObserveEvent records an event applied to session state.
func ObserveEvent(kind string) {
	eventsReceived.WithLabelValues(kind).Inc()
}

// ObserveDecodeError records a skipped, undecodable event.
func ObserveDecodeError(kind string) {
	decodeErrors.WithLabelValues(kind).Inc()
}

// ObserveStaleEvent records an event dropped after detachment.
func ObserveStaleEvent() {
	staleEvents.Inc()
}

// ObserveInvalidation records a downstream cache invalidation attempt.
func ObserveInvalidation(success bool) {
	if success {
		invalidations.WithLabelValues("success").Inc()
	} else {
		invalidations.WithLabelValues("failed").Inc()
	}
}

// ObserveFallback records a non-streaming request.
func ObserveFallback(action string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	fallbackRequests.WithLabelValues(action, status).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
