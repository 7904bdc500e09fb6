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

// Package classify drives a streaming classification or draft-generation
// request for one email and exposes its progress as observable state.
package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bcem/triage/internal/metrics"
	"github.com/bcem/triage/internal/models"
	"github.com/bcem/triage/internal/stream"
)

// DefaultStaleTag is the cache tag invalidated when a session completes.
const DefaultStaleTag = "conversations"

const invalidateTimeout = 5 * time.Second

// ErrClosed is returned by Start after the consumer has been closed.
var ErrClosed = errors.New("classify: consumer closed")

var errStreamEnded = errors.New("stream ended before completion")

// Transport opens event streams for classification requests.
type Transport interface {
	Open(ctx context.Context, req models.ClassificationRequest) (stream.Conn, error)
}

// Invalidator is told when cached results tagged with tag are stale.
type Invalidator interface {
	NotifyStale(ctx context.Context, tag string) error
}

// Consumer runs at most one stream session at a time and reduces its
// events into a State. It is safe for concurrent use.
type Consumer struct {
	transport      Transport
	invalidator    Invalidator
	staleTag       string
	reducer        Reducer
	onChange       func(State)
	logger         *slog.Logger
	now            func() time.Time
	sessionTimeout time.Duration

	// emitMu serializes state transitions together with their change
	// notifications. It is always acquired before mu.
	emitMu sync.Mutex

	mu      sync.Mutex
	state   State
	gen     uint64
	current *session
	closed  bool
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithInvalidator sets the cache collaborator notified on completion.
func WithInvalidator(inv Invalidator) Option {
	return func(c *Consumer) { c.invalidator = inv }
}

// WithStaleTag overrides DefaultStaleTag.
func WithStaleTag(tag string) Option {
	return func(c *Consumer) {
		if tag != "" {
			c.staleTag = tag
		}
	}
}

// WithEventLogLimit bounds the event log; the oldest entries are dropped
// first. Zero means unbounded.
func WithEventLogLimit(n int) Option {
	return func(c *Consumer) {
		if n >= 0 {
			c.reducer.LogLimit = n
		}
	}
}

// WithOnChange registers fn to receive every new state. Calls are
// serialized and arrive in transition order. fn may call Snapshot but must
// not call Start, Cancel or Close.
func WithOnChange(fn func(State)) Option {
	return func(c *Consumer) { c.onChange = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInitialClassification seeds the label shown before any session has
// produced one.
func WithInitialClassification(l models.Label) Option {
	return func(c *Consumer) { c.state.Classification = l }
}

// WithSessionTimeout fails sessions that have not finished within d.
// Zero disables the limit.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *Consumer) { c.sessionTimeout = d }
}

// New creates a Consumer that opens streams through t.
func New(t Transport, opts ...Option) *Consumer {
	c := &Consumer{
		transport: t,
		staleTag:  DefaultStaleTag,
		logger:    slog.Default(),
		now:       time.Now,
		state:     State{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current state.
func (c *Consumer) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Start opens a new session for req, closing any open one first. The
// accumulated reasoning, draft, error and log are reset; the label keeps
// its previous value until the new session reports one. Start does not
// wait for the network.
func (c *Consumer) Start(req models.ClassificationRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	prev, prevState := c.current, c.state
	now := c.now()

	c.gen++
	s := newSession(c.gen, req, c.sessionTimeout, c.logger)
	c.current = s
	c.state = State{
		SessionID:      s.id,
		Request:        req,
		Status:         StatusOpen,
		Classification: prevState.Classification,
		OpenedAt:       now,
	}
	snap := c.state.clone()
	c.mu.Unlock()

	if prev != nil {
		prev.detach()
		if prevState.Status == StatusOpen {
			c.logger.Info("superseding open session",
				"session", prev.id,
				"email_id", prev.req.EmailID,
			)
			observeEnd(prevState, metrics.OutcomeSuperseded, now)
		}
	}

	metrics.ObserveSessionStart(string(req.Action))
	c.logger.Info("opening classification stream",
		"session", s.id,
		"email_id", req.EmailID,
		"action", req.Action,
	)

	c.notify(snap)
	go c.run(s)
	return nil
}

// Cancel closes the open session without waiting for a terminal event.
// Events still in flight are dropped. Cancel is not an error and leaves
// Err empty.
func (c *Consumer) Cancel() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.cancelLocked()
}

// Close cancels the open session and makes later Start calls fail with
// ErrClosed. It is safe to call more than once.
func (c *Consumer) Close() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancelLocked()
}

// cancelLocked requires emitMu.
func (c *Consumer) cancelLocked() {
	c.mu.Lock()
	s := c.current
	if s == nil || c.state.Status != StatusOpen {
		c.mu.Unlock()
		return
	}
	now := c.now()
	c.state.Status = StatusClosed
	c.state.FinishedAt = now
	snap := c.state.clone()
	c.mu.Unlock()

	s.detach()
	observeEnd(snap, metrics.OutcomeCancelled, now)
	c.logger.Info("classification stream cancelled",
		"session", s.id,
		"email_id", s.req.EmailID,
	)
	c.notify(snap)
}

// Wait blocks until the session that is current when Wait is called has
// finished, including its stream teardown and cache invalidation, or ctx
// is done. It returns the state at that point.
func (c *Consumer) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return c.Snapshot(), nil
	}

	select {
	case <-s.done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

func (c *Consumer) run(s *session) {
	defer close(s.done)
	defer s.cancel()

	conn, err := c.transport.Open(s.ctx, s.req)
	if err != nil {
		c.fail(s, c.sessionErr(s, fmt.Errorf("open stream: %w", err)))
		return
	}
	if !s.attach(conn) {
		// Detached while dialing: nobody else will close conn.
		if err := conn.Close(); err != nil {
			c.logger.Debug("close detached stream", "session", s.id, "error", err)
		}
		return
	}

	for {
		ev, err := conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errStreamEnded
			}
			c.fail(s, c.sessionErr(s, err))
			return
		}

		st, invalidate, more := c.deliver(s, ev)
		if invalidate {
			c.invalidate(st)
		}
		if !more {
			return
		}
	}
}

func (c *Consumer) sessionErr(s *session, err error) error {
	if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("stream timed out after %s", c.sessionTimeout)
	}
	return err
}

// deliver applies ev if s is still the live session. It returns the new
// state, whether caches must be invalidated and whether the reader should
// keep receiving.
func (c *Consumer) deliver(s *session, ev stream.Event) (State, bool, bool) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		metrics.ObserveStaleEvent()
		c.logger.Debug("dropping stale event", "session", s.id, "kind", ev.Kind())
		return State{}, false, false
	}
	now := c.now()
	next, eff := c.reducer.Reduce(c.state, ev, now)
	c.state = next
	snap := c.state.clone()
	c.mu.Unlock()

	metrics.ObserveEvent(string(ev.Kind()))

	if eff.Terminal {
		s.detach()
		if snap.Status == StatusFailed {
			observeEnd(snap, metrics.OutcomeFailed, now)
			c.logger.Warn("classification stream failed",
				"session", s.id,
				"email_id", s.req.EmailID,
				"error", snap.Err,
			)
		} else {
			observeEnd(snap, metrics.OutcomeCompleted, now)
			c.logger.Info("classification stream completed",
				"session", s.id,
				"email_id", s.req.EmailID,
				"classification", snap.Classification,
				"cached", snap.Cached,
			)
		}
	}

	c.notify(snap)
	return snap, eff.Invalidate, !eff.Terminal
}

// fail ends s with a transport error. If s was already detached the error
// is the expected result of closing its stream and is dropped.
func (c *Consumer) fail(s *session, err error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if !c.liveLocked(s) {
		c.mu.Unlock()
		return
	}
	now := c.now()
	c.state = c.reducer.Fail(c.state, err.Error(), now)
	snap := c.state.clone()
	c.mu.Unlock()

	s.detach()
	observeEnd(snap, metrics.OutcomeFailed, now)
	c.logger.Warn("classification stream failed",
		"session", s.id,
		"email_id", s.req.EmailID,
		"error", err,
	)
	c.notify(snap)
}

// liveLocked reports whether s is the current generation and still open.
// Requires mu.
func (c *Consumer) liveLocked(s *session) bool {
	return c.gen == s.id && c.state.SessionID == s.id && c.state.Status == StatusOpen
}

func (c *Consumer) invalidate(st State) {
	if c.invalidator == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()

	err := c.invalidator.NotifyStale(ctx, c.staleTag)
	metrics.ObserveInvalidation(err == nil)
	if err != nil {
		c.logger.Error("failed to invalidate cached results",
			"session", st.SessionID,
			"tag", c.staleTag,
			"error", err,
		)
		return
	}
	c.logger.Debug("invalidated cached results", "session", st.SessionID, "tag", c.staleTag)
}

// notify requires emitMu.
func (c *Consumer) notify(st State) {
	if c.onChange != nil {
		c.onChange(st)
	}
}

func observeEnd(st State, outcome string, now time.Time) {
	metrics.ObserveSessionEnd(string(st.Request.Action), outcome, now.Sub(st.OpenedAt))
}

// session owns one stream. Its connection is closed exactly once, by
// detach or by the dialing goroutine, whichever learns about it last.
type session struct {
	id     uint64
	req    models.ClassificationRequest
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	conn     stream.Conn
	detached bool
}

func newSession(id uint64, req models.ClassificationRequest, timeout time.Duration, logger *slog.Logger) *session {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	return &session{
		id:     id,
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// attach stores conn. It returns false if the session was detached while
// the stream was opening; the caller then owns conn.
func (s *session) attach(conn stream.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return false
	}
	s.conn = conn
	return true
}

// detach cancels the session context and closes the attached stream.
// Later calls do nothing.
func (s *session) detach() {
	s.cancel()

	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.detached = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("close stream", "session", s.id, "error", err)
		}
	}
}
