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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/triage/internal/stream"
)

// Effect describes the side effects the consumer must perform after a
// reduction. The reducer itself is pure.
type Effect struct {
	// Terminal is set when the event ended the session: the stream must be
	// closed.
	Terminal bool
	// Invalidate is set when downstream caches must be told the result
	// changed.
	Invalidate bool
}

// Reducer applies stream events to a State.
type Reducer struct {
	// LogLimit bounds the event log. Zero keeps every entry.
	LogLimit int
	// NewID generates log entry IDs. Defaults to uuid.NewString.
	NewID func() string
}

// Reduce applies ev to st with the default reducer.
func Reduce(st State, ev stream.Event, now time.Time) (State, Effect) {
	return Reducer{}.Reduce(st, ev, now)
}

// Reduce returns the state that results from applying ev to st. Events
// reaching a session that is not open leave the state untouched.
func (r Reducer) Reduce(st State, ev stream.Event, now time.Time) (State, Effect) {
	if st.Status != StatusOpen || ev == nil {
		return st, Effect{}
	}

	switch e := ev.(type) {
	case stream.Thinking:
		st.Log = r.appendLog(st.Log, e.Kind(), e.Message, now)

	case stream.ReasoningChunk:
		st.Reasoning += e.Chunk

	case stream.Classified:
		st.Classification = e.Classification
		st.Log = r.appendLog(st.Log, e.Kind(), fmt.Sprintf("Classified as: %s", e.Classification), now)

	case stream.DraftStart:
		if !st.HasDraft {
			st.Draft = ""
			st.HasDraft = true
		}
		st.Log = r.appendLog(st.Log, e.Kind(), e.Message, now)

	case stream.DraftChunk:
		st.Draft += e.Chunk
		st.HasDraft = true

	case stream.Complete:
		st.Classification = e.Classification
		st.Reasoning = e.Reasoning
		if e.AIDraft != nil && *e.AIDraft != "" {
			st.Draft = *e.AIDraft
			st.HasDraft = true
		}
		st.Cached = e.Cached
		content := "Classification complete"
		if e.Cached {
			content = "Loaded from cache"
		}
		st.Log = r.appendLog(st.Log, e.Kind(), content, now)
		st.Status = StatusCompleted
		st.FinishedAt = now
		return st, Effect{Terminal: true, Invalidate: true}

	case stream.Failure:
		return r.Fail(st, e.Message, now), Effect{Terminal: true}
	}

	return st, Effect{}
}

// Fail marks an open session as failed with msg. Partial results are
// kept. A session that is not open is returned unchanged.
func (r Reducer) Fail(st State, msg string, now time.Time) State {
	if st.Status != StatusOpen {
		return st
	}
	if msg == "" {
		msg = stream.DefaultFailureMessage
	}
	st.Err = msg
	st.Log = r.appendLog(st.Log, stream.KindError, msg, now)
	st.Status = StatusFailed
	st.FinishedAt = now
	return st
}

// appendLog never writes into the backing array of log, so snapshots that
// share it stay intact.
func (r Reducer) appendLog(log []LogEntry, kind stream.Kind, content string, now time.Time) []LogEntry {
	newID := r.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	start := 0
	if r.LogLimit > 0 && len(log) >= r.LogLimit {
		start = len(log) - r.LogLimit + 1
	}

	out := make([]LogEntry, 0, len(log)-start+1)
	out = append(out, log[start:]...)
	return append(out, LogEntry{
		ID:        newID(),
		Kind:      kind,
		Content:   content,
		Timestamp: now,
	})
}
