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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/triage/internal/classify"
	"github.com/bcem/triage/internal/metrics"
	"github.com/bcem/triage/internal/models"
	"github.com/bcem/triage/internal/store"
)

// cancelGrace bounds how long an interrupted session may take to tear down.
const cancelGrace = 5 * time.Second

func newClassifyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <email-id>",
		Short: "Classify an email as respond, notify or ignore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, flags, args[0], models.ActionClassify, false)
		},
	}
}

func newDraftCmd(flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "draft <email-id>",
		Short: "Generate a reply draft for an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, flags, args[0], models.ActionGenerateDraft, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate an existing draft (non-streaming mode only)")
	return cmd
}

func parseEmailID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid email id %q: must be a positive integer", s)
	}
	return id, nil
}

func runAction(cmd *cobra.Command, flags *rootFlags, rawID string, action models.Action, force bool) error {
	emailID, err := parseEmailID(rawID)
	if err != nil {
		return err
	}
	req := models.ClassificationRequest{EmailID: emailID, Action: action}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{trace: flags.trace})
	if err != nil {
		return err
	}
	defer a.Close()

	out := newPrinter(cmd.OutOrStdout(), flags.jsonOut)

	if flags.noStream {
		f := classify.NewFallback(classify.FallbackConfig{
			Service:     a.apiClient(),
			Invalidator: a.invalidator(),
			StaleTag:    a.cfg.StaleTag,
		})
		res, err := f.Run(ctx, req, force)
		if err != nil {
			return err
		}
		a.record(ctx, action, store.SourceFallback, res)
		return out.result(res)
	}

	if force {
		slog.Warn("--force only applies with --no-stream; the stream reuses existing drafts")
	}

	// The session ends first; its goroutine then stops the metrics server.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, a.cfg.MetricsAddr)
		})
	}

	var final classify.State
	g.Go(func() error {
		defer cancelRun()

		c := classify.New(a.transport(),
			classify.WithInvalidator(a.invalidator()),
			classify.WithStaleTag(a.cfg.StaleTag),
			classify.WithEventLogLimit(a.cfg.EventLogLimit),
			classify.WithSessionTimeout(a.cfg.StreamTimeout),
			classify.WithOnChange(out.progress),
		)
		defer c.Close()

		if err := c.Start(req); err != nil {
			return err
		}

		st, err := c.Wait(gctx)
		if err != nil {
			slog.Info("interrupted, cancelling stream", "email_id", emailID)
			c.Cancel()
			waitCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
			defer cancel()
			st, _ = c.Wait(waitCtx)
		}
		final = st
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	switch final.Status {
	case classify.StatusCompleted:
		res := final.Result()
		a.record(ctx, action, store.SourceStream, res)
		return out.result(res)
	case classify.StatusFailed:
		return fmt.Errorf("%s email %d failed: %s", action, emailID, final.Err)
	default:
		return errors.New("cancelled")
	}
}

// record stores res in the history when a database is configured.
// Failures are logged: the result has already been produced.
func (a *app) record(ctx context.Context, action models.Action, source string, res models.Result) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.Save(ctx, action, source, res); err != nil {
		slog.Error("failed to record result", "email_id", res.EmailID, "error", err)
	}
}
