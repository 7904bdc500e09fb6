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
	"time"

	"github.com/bcem/triage/internal/models"
	"github.com/bcem/triage/internal/stream"
)

// Status is the lifecycle state of the current session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusClosed    Status = "closed"
)

// Terminal reports whether the session has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusClosed
}

// LogEntry is one human-readable line of the session's event log.
type LogEntry struct {
	ID        string      `json:"id"`
	Kind      stream.Kind `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// State is an observable snapshot of a consumer. Snapshots are values:
// later updates never mutate a snapshot already handed out.
type State struct {
	// SessionID identifies the session that produced this state. Zero
	// before the first Start.
	SessionID uint64                       `json:"session_id"`
	Request   models.ClassificationRequest `json:"request"`
	Status    Status                       `json:"status"`

	Classification models.Label `json:"classification,omitempty"`
	Reasoning      string       `json:"reasoning"`
	Draft          string       `json:"draft,omitempty"`
	HasDraft       bool         `json:"has_draft"`
	Cached         bool         `json:"cached"`
	Err            string       `json:"error,omitempty"`

	Log []LogEntry `json:"log"`

	OpenedAt   time.Time `json:"opened_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// IsStreaming reports whether a session is currently open.
func (s State) IsStreaming() bool {
	return s.Status == StatusOpen
}

// Result returns the accumulated values in the terminal result shape.
func (s State) Result() models.Result {
	return models.Result{
		EmailID:        s.Request.EmailID,
		Classification: s.Classification,
		Reasoning:      s.Reasoning,
		AIDraft:        s.Draft,
		Cached:         s.Cached,
	}
}

func (s State) clone() State {
	if s.Log != nil {
		s.Log = append([]LogEntry(nil), s.Log...)
	}
	return s
}
