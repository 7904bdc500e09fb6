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

// Package stream defines the typed events emitted by the classification
// streaming endpoint and the text/event-stream framing they travel in.
package stream

import (
	"context"

	"github.com/bcem/triage/internal/models"
)

// Kind is the SSE event name of a stream event.
type Kind string

const (
	KindThinking       Kind = "thinking"
	KindReasoningChunk Kind = "reasoning_chunk"
	KindClassification Kind = "classification"
	KindDraftStart     Kind = "draft_start"
	KindDraftChunk     Kind = "draft_chunk"
	KindComplete       Kind = "complete"
	KindError          Kind = "error"
)

// Kinds lists every event kind the endpoint may send.
var Kinds = []Kind{
	KindThinking,
	KindReasoningChunk,
	KindClassification,
	KindDraftStart,
	KindDraftChunk,
	KindComplete,
	KindError,
}

// Terminal reports whether no further events are expected after k.
func (k Kind) Terminal() bool {
	return k == KindComplete || k == KindError
}

// Event is one decoded stream event. The set of implementations is closed:
// only the types in this package satisfy it.
type Event interface {
	Kind() Kind
	sealed()
}

// Thinking signals that the agent started a step.
type Thinking struct {
	Message string `json:"message"`
}

// ReasoningChunk carries a fragment of the reasoning text.
type ReasoningChunk struct {
	Chunk string `json:"chunk"`
}

// Classified carries the triage label once it is decided.
type Classified struct {
	Classification models.Label `json:"classification"`
}

// DraftStart signals that draft generation began.
type DraftStart struct {
	Message string `json:"message"`
}

// DraftChunk carries a fragment of the reply draft.
type DraftChunk struct {
	Chunk string `json:"chunk"`
}

// Complete carries the authoritative final values of the session.
type Complete struct {
	Classification models.Label `json:"classification"`
	Reasoning      string       `json:"reasoning"`
	AIDraft        *string      `json:"ai_draft,omitempty"`
	Cached         bool         `json:"cached"`
}

// Failure is an application-level error reported by the server.
type Failure struct {
	Message string `json:"message"`
}

func (Thinking) Kind() Kind       { return KindThinking }
func (ReasoningChunk) Kind() Kind { return KindReasoningChunk }
func (Classified) Kind() Kind     { return KindClassification }
func (DraftStart) Kind() Kind     { return KindDraftStart }
func (DraftChunk) Kind() Kind     { return KindDraftChunk }
func (Complete) Kind() Kind       { return KindComplete }
func (Failure) Kind() Kind        { return KindError }

func (Thinking) sealed()       {}
func (ReasoningChunk) sealed() {}
func (Classified) sealed()     {}
func (DraftStart) sealed()     {}
func (DraftChunk) sealed()     {}
func (Complete) sealed()       {}
func (Failure) sealed()        {}

// Result converts the event into the shared terminal result shape.
func (c Complete) Result() models.Result {
	r := models.Result{
		Classification: c.Classification,
		Reasoning:      c.Reasoning,
		Cached:         c.Cached,
	}
	if c.AIDraft != nil {
		r.AIDraft = *c.AIDraft
	}
	return r
}

// Conn is a live event stream for a single request.
//
// Recv blocks until the next event arrives and returns io.EOF when the
// server ends the stream. Close releases the underlying connection and
// unblocks a pending Recv.
type Conn interface {
	Recv() (Event, error)
	Close() error
}

// Dialer opens event streams. Implemented by transport.HTTPTransport.
type Dialer interface {
	Open(ctx context.Context, req models.ClassificationRequest) (Conn, error)
}
