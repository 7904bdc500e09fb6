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

// Package tracehttp logs HTTP traffic for debugging.
package tracehttp

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
)

// traceTransport logs a dump of every request and response at DEBUG
// level while delegating the round trip to another http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
	logger   *slog.Logger
}

// RoundTrip logs the request and response around the delegate's round
// trip. Event-stream bodies are not dumped: reading them would consume the
// stream.
func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	traced := req
	if req.Header.Get("Authorization") != "" {
		traced = req.Clone(req.Context())
		traced.Header.Set("Authorization", "REDACTED")
	}
	if dump, err := httputil.DumpRequestOut(traced, false); err == nil {
		t.logger.Debug("http request", "method", req.Method, "url", req.URL.String(), "dump", string(dump))
	}

	resp, err := t.delegate.RoundTrip(req)
	if err != nil {
		t.logger.Debug("http request failed", "method", req.Method, "url", req.URL.String(), "error", err)
		return nil, err
	}

	body := !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
	if dump, err := httputil.DumpResponse(resp, body); err == nil {
		t.logger.Debug("http response", "status", resp.StatusCode, "url", req.URL.String(), "dump", string(dump))
	}
	return resp, nil
}

// Wrap returns a RoundTripper that traces d. A nil d wraps
// http.DefaultTransport; a nil logger uses slog.Default().
func Wrap(d http.RoundTripper, logger *slog.Logger) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &traceTransport{delegate: d, logger: logger}
}
