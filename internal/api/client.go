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

// Package api is the request/response client for the classification
// endpoints, used when a caller cannot consume the event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/bcem/triage/internal/models"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// StatusError is returned for non-2xx responses. Detail carries the
// server's "detail" or "message" field when the body had one.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api returned HTTP %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api returned HTTP %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Config holds client settings. RateLimit is requests per second; zero
// disables limiting.
type Config struct {
	HTTPClient *http.Client
	BaseURL    string
	RateLimit  float64
	Burst      int
	Logger     *slog.Logger
}

// Client calls the non-streaming classification endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	c := &Client{
		httpClient: cfg.HTTPClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Classify runs classification for an email and returns its result.
func (c *Client) Classify(ctx context.Context, emailID int64) (models.Result, error) {
	q := url.Values{}
	q.Set("email_id", strconv.FormatInt(emailID, 10))
	endpoint := c.baseURL + "/api/emails/classify_email?" + q.Encode()

	return c.post(ctx, endpoint, emailID)
}

// GenerateDraft generates a reply draft for an email. With force set an
// existing draft is regenerated.
func (c *Client) GenerateDraft(ctx context.Context, emailID int64, force bool) (models.Result, error) {
	endpoint := fmt.Sprintf("%s/api/emails/%d/generate_draft", c.baseURL, emailID)
	if force {
		endpoint += "?force=true"
	}

	return c.post(ctx, endpoint, emailID)
}

func (c *Client) post(ctx context.Context, endpoint string, emailID int64) (models.Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.Result{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return models.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Result{}, fmt.Errorf("post %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(resp.Body)}
		c.logger.Warn("api request failed",
			"path", req.URL.Path,
			"email_id", emailID,
			"status", resp.StatusCode,
			"detail", se.Detail,
		)
		return models.Result{}, se
	}

	var res models.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.Result{}, fmt.Errorf("decode response: %w", err)
	}
	if !res.Classification.Valid() {
		return models.Result{}, fmt.Errorf("decode response: unknown classification %q", res.Classification)
	}
	if res.EmailID == 0 {
		res.EmailID = emailID
	}
	return res, nil
}

// errorDetail extracts a human-readable message from an error body,
// falling back to the trimmed body text.
func errorDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(body) == 0 {
		return ""
	}

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var detail string
		if json.Unmarshal(payload.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if payload.Message != "" {
			return payload.Message
		}
		if len(payload.Detail) > 0 && string(payload.Detail) != "null" {
			// Validation errors arrive as a list of objects.
			return string(payload.Detail)
		}
	}
	return strings.TrimSpace(string(body))
}
