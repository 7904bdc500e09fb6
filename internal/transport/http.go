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

// Package transport opens classification event streams over HTTP
// (text/event-stream) against the triage API.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bcem/triage/internal/metrics"
	"github.com/bcem/triage/internal/models"
	"github.com/bcem/triage/internal/stream"
)

// ErrStatus is wrapped by Open when the endpoint answers with a non-200
// status or a non event-stream body.
var ErrStatus = errors.New("transport: unexpected response")

// maxErrorBody caps how much of an error response is read for the message.
const maxErrorBody = 4 << 10

// HTTPTransport implements stream.Dialer over plain HTTP.
type HTTPTransport struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// Config holds the settings for an HTTPTransport.
type Config struct {
	// HTTPClient performs the request. It must not set a client-wide
	// Timeout, which would cut long streams; use the context instead.
	HTTPClient *http.Client
	BaseURL    string
	Logger     *slog.Logger
}

// New creates an HTTP stream transport.
func New(cfg Config) *HTTPTransport {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		httpClient: client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logger,
	}
}

// StreamURL returns the endpoint URL for req.
func (t *HTTPTransport) StreamURL(req models.ClassificationRequest) string {
	u := fmt.Sprintf("%s/api/emails/classify_email_stream/%d", t.baseURL, req.EmailID)
	if req.Action == models.ActionGenerateDraft {
		u += "?" + url.Values{"action": {string(req.Action)}}.Encode()
	}
	return u
}

// Open connects to the streaming endpoint. The returned connection stays
// bound to ctx: cancelling it aborts a pending Recv.
func (t *HTTPTransport) Open(ctx context.Context, req models.ClassificationRequest) (stream.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.StreamURL(req), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %s: %s", ErrStatus, resp.Status, strings.TrimSpace(string(body)))
	}

	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: content type %q", ErrStatus, resp.Header.Get("Content-Type"))
	}

	t.logger.Debug("classification stream opened",
		"email_id", req.EmailID,
		"action", req.Action,
	)

	return &httpConn{
		cancel:  cancel,
		body:    resp.Body,
		reader:  stream.NewReader(resp.Body),
		emailID: req.EmailID,
		logger:  t.logger,
	}, nil
}

// httpConn reads typed events from an open response body.
type httpConn struct {
	cancel  context.CancelFunc
	body    io.ReadCloser
	reader  *stream.Reader
	emailID int64
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Recv returns the next decodable event. Unknown event names are skipped
// silently; payloads that fail to decode are logged and skipped so one bad
// chunk does not discard the text accumulated so far.
func (c *httpConn) Recv() (stream.Event, error) {
	for {
		frame, err := c.reader.Next()
		if err != nil {
			return nil, err
		}

		ev, err := stream.Decode(frame.Event, []byte(frame.Data))
		if errors.Is(err, stream.ErrUnknownEvent) {
			c.logger.Debug("ignoring unknown stream event",
				"email_id", c.emailID,
				"event", frame.Event,
			)
			continue
		}
		if err != nil {
			metrics.ObserveDecodeError(frame.Event)
			c.logger.Warn("skipping undecodable stream event",
				"email_id", c.emailID,
				"event", frame.Event,
				"error", err,
			)
			continue
		}
		return ev, nil
	}
}

// Close aborts the request and releases the response body. Safe to call
// more than once.
func (c *httpConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.body.Close()
	})
	return c.closeErr
}
