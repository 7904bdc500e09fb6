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

package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bcem/triage/internal/metrics"
	"github.com/bcem/triage/internal/models"
)

// Service is the non-streaming classification API.
type Service interface {
	Classify(ctx context.Context, emailID int64) (models.Result, error)
	GenerateDraft(ctx context.Context, emailID int64, force bool) (models.Result, error)
}

// FallbackConfig holds the collaborators of a Fallback.
type FallbackConfig struct {
	Service     Service
	Invalidator Invalidator
	StaleTag    string
	Logger      *slog.Logger
}

// Fallback runs classification requests through the request/response
// endpoints for callers that cannot consume a stream.
type Fallback struct {
	svc         Service
	invalidator Invalidator
	staleTag    string
	logger      *slog.Logger
}

// NewFallback creates a Fallback.
func NewFallback(cfg FallbackConfig) *Fallback {
	f := &Fallback{
		svc:         cfg.Service,
		invalidator: cfg.Invalidator,
		staleTag:    cfg.StaleTag,
		logger:      cfg.Logger,
	}
	if f.staleTag == "" {
		f.staleTag = DefaultStaleTag
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Run executes req synchronously. force asks the API to regenerate an
// existing draft and is ignored for classify requests. On success the
// invalidator is notified, as after a completed stream.
func (f *Fallback) Run(ctx context.Context, req models.ClassificationRequest, force bool) (models.Result, error) {
	if err := req.Validate(); err != nil {
		return models.Result{}, fmt.Errorf("run fallback: %w", err)
	}

	var (
		res models.Result
		err error
	)
	switch req.Action {
	case models.ActionClassify:
		res, err = f.svc.Classify(ctx, req.EmailID)
	case models.ActionGenerateDraft:
		res, err = f.svc.GenerateDraft(ctx, req.EmailID, force)
	}
	metrics.ObserveFallback(string(req.Action), err == nil)
	if err != nil {
		return models.Result{}, fmt.Errorf("%s email %d: %w", req.Action, req.EmailID, err)
	}
	if res.EmailID == 0 {
		res.EmailID = req.EmailID
	}

	f.logger.Info("classification fetched",
		"email_id", req.EmailID,
		"action", req.Action,
		"classification", res.Classification,
	)

	if f.invalidator != nil {
		err := f.invalidator.NotifyStale(ctx, f.staleTag)
		metrics.ObserveInvalidation(err == nil)
		if err != nil {
			f.logger.Error("failed to invalidate cached results",
				"tag", f.staleTag,
				"error", err,
			)
		}
	}

	return res, nil
}
