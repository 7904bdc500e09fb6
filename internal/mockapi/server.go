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

// Package mockapi serves a local stand-in for the classification API: the
// event stream and the request/response endpoints, with generated text.
package mockapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"
	"github.com/gin-gonic/gin"

	"github.com/bcem/triage/internal/models"
	"github.com/bcem/triage/internal/stream"
)

// DefaultMaxEmailID is the highest email id the mock knows about.
const DefaultMaxEmailID = 1000

// Config controls the mock's behaviour.
type Config struct {
	// Token, when set, is required as a bearer token on /api routes.
	Token string
	// ChunkDelay is slept between streamed chunks.
	ChunkDelay time.Duration
	// MaxEmailID bounds the ids that exist; larger ids are "not found".
	MaxEmailID int64
	// FailEmailIDs stream an error event after their first chunks.
	FailEmailIDs []int64
	Logger       *slog.Logger
}

type resultKey struct {
	emailID int64
	action  models.Action
}

// Server implements the mock endpoints.
type Server struct {
	cfg    Config
	logger *slog.Logger
	fail   map[int64]bool

	mu      sync.Mutex
	lorem   *loremgen.Lorem
	results map[resultKey]models.Result
}

// New creates a mock server.
func New(cfg Config) *Server {
	if cfg.MaxEmailID <= 0 {
		cfg.MaxEmailID = DefaultMaxEmailID
	}
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		fail:    make(map[int64]bool, len(cfg.FailEmailIDs)),
		lorem:   loremgen.New(),
		results: make(map[resultKey]models.Result),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	for _, id := range cfg.FailEmailIDs {
		s.fail[id] = true
	}
	return s
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), requestLogger(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/emails", authMiddleware(s.cfg.Token))
	api.GET("/classify_email_stream/:id", s.handleStream)
	api.POST("/classify_email", s.handleClassify)
	api.POST("/:id/generate_draft", s.handleGenerateDraft)

	return r
}

// Label returns the label the mock assigns to an email.
func Label(emailID int64) models.Label {
	return models.Labels[emailID%int64(len(models.Labels))]
}

func (s *Server) handleStream(c *gin.Context) {
	emailID, ok := s.emailID(c, c.Param("id"))
	if !ok {
		return
	}
	action := models.Action(c.DefaultQuery("action", string(models.ActionClassify)))
	if !action.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("unknown action %q", action)})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if emailID > s.cfg.MaxEmailID {
		s.emit(c, stream.KindError, gin.H{"message": "Email not found"})
		return
	}

	if res, ok := s.cached(emailID, action); ok {
		s.emit(c, stream.KindThinking, gin.H{"message": "Loading cached result..."})
		s.emitComplete(c, res, true)
		return
	}

	s.emit(c, stream.KindThinking, gin.H{"message": "Reading email..."})

	res := s.generate(emailID, action)
	for i, chunk := range chunks(res.Reasoning) {
		if !s.pause(c) {
			return
		}
		if i == 2 && s.fail[emailID] {
			s.emit(c, stream.KindError, gin.H{"message": "Model overloaded, please retry"})
			return
		}
		s.emit(c, stream.KindReasoningChunk, gin.H{"chunk": chunk})
	}

	s.emit(c, stream.KindClassification, gin.H{"classification": res.Classification})

	if action == models.ActionGenerateDraft {
		s.emit(c, stream.KindDraftStart, gin.H{"message": "Writing draft..."})
		for _, chunk := range chunks(res.AIDraft) {
			if !s.pause(c) {
				return
			}
			s.emit(c, stream.KindDraftChunk, gin.H{"chunk": chunk})
		}
	}

	s.store(action, res)
	s.emitComplete(c, res, false)
}

func (s *Server) handleClassify(c *gin.Context) {
	emailID, ok := s.emailID(c, c.Query("email_id"))
	if !ok {
		return
	}
	s.respond(c, emailID, models.ActionClassify, false)
}

func (s *Server) handleGenerateDraft(c *gin.Context) {
	emailID, ok := s.emailID(c, c.Param("id"))
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	s.respond(c, emailID, models.ActionGenerateDraft, force)
}

func (s *Server) respond(c *gin.Context, emailID int64, action models.Action, force bool) {
	if emailID > s.cfg.MaxEmailID {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Email not found"})
		return
	}
	if s.fail[emailID] {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Model overloaded, please retry"})
		return
	}

	if !force {
		if res, ok := s.cached(emailID, action); ok {
			res.Cached = true
			c.JSON(http.StatusOK, res)
			return
		}
	}

	res := s.generate(emailID, action)
	s.store(action, res)
	c.JSON(http.StatusOK, res)
}

// emailID parses a positive id or writes a 400.
func (s *Server) emailID(c *gin.Context, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("invalid email id %q", raw)})
		return 0, false
	}
	return id, true
}

func (s *Server) generate(emailID int64, action models.Action) models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := models.Result{
		EmailID:        emailID,
		Classification: Label(emailID),
		Reasoning:      s.lorem.Paragraph(2, 4),
	}
	if action == models.ActionGenerateDraft {
		res.AIDraft = fmt.Sprintf("Hi,\n\n%s\n\nBest regards", s.lorem.Sentence(8, 16))
	}
	return res
}

func (s *Server) cached(emailID int64, action models.Action) (models.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[resultKey{emailID, action}]
	return res, ok
}

func (s *Server) store(action models.Action, res models.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[resultKey{res.EmailID, action}] = res
}

func (s *Server) emit(c *gin.Context, kind stream.Kind, payload any) {
	c.SSEvent(string(kind), payload)
	c.Writer.Flush()
}

func (s *Server) emitComplete(c *gin.Context, res models.Result, cached bool) {
	payload := gin.H{
		"classification": res.Classification,
		"reasoning":      res.Reasoning,
		"cached":         cached,
	}
	if res.AIDraft != "" {
		payload["ai_draft"] = res.AIDraft
	}
	s.emit(c, stream.KindComplete, payload)
}

// pause waits ChunkDelay. It reports false once the client has gone.
func (s *Server) pause(c *gin.Context) bool {
	ctx := c.Request.Context()
	if s.cfg.ChunkDelay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(s.cfg.ChunkDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

// chunks splits text into word-sized pieces that concatenate back to text.
func chunks(text string) []string {
	return strings.SplitAfter(text, " ")
}

// Serve starts the mock server on port. It returns a channel that is
// closed once the listener is bound and stops when ctx is cancelled.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind mock api port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("mock api shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("mock api listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("mock api server error", "error", err)
		}
	}()

	return ready, nil
}
