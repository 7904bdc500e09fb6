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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bcem/triage/internal/classify"
	"github.com/bcem/triage/internal/models"
	"github.com/bcem/triage/internal/stream"
)

// printer renders session progress and final results. progress is driven
// by the consumer's change notifications, which are serialized.
type printer struct {
	w       io.Writer
	jsonOut bool

	session   uint64
	seen      map[string]bool
	reasoning string
	draft     string
	midLine   bool
}

func newPrinter(w io.Writer, jsonOut bool) *printer {
	return &printer{w: w, jsonOut: jsonOut, seen: make(map[string]bool)}
}

// progress prints what changed since the previous state: new log lines
// and appended reasoning or draft text.
func (p *printer) progress(st classify.State) {
	if p.jsonOut {
		return
	}
	if st.SessionID != p.session {
		p.session = st.SessionID
		p.seen = make(map[string]bool)
		p.reasoning, p.draft = "", ""
	}

	for _, e := range st.Log {
		if p.seen[e.ID] {
			continue
		}
		p.seen[e.ID] = true
		if e.Kind == stream.KindComplete {
			continue
		}
		p.endLine()
		fmt.Fprintf(p.w, "» %s\n", e.Content)
	}

	p.reasoning = p.appendDelta(p.reasoning, st.Reasoning)
	if st.HasDraft {
		p.draft = p.appendDelta(p.draft, st.Draft)
	}
}

// appendDelta prints the part of next that extends prev. A replacement
// that is not an extension is left for the final result.
func (p *printer) appendDelta(prev, next string) string {
	if !strings.HasPrefix(next, prev) {
		return next
	}
	if delta := next[len(prev):]; delta != "" {
		fmt.Fprint(p.w, delta)
		p.midLine = !strings.HasSuffix(delta, "\n")
	}
	return next
}

func (p *printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.w)
		p.midLine = false
	}
}

// result prints the final result.
func (p *printer) result(res models.Result) error {
	if p.jsonOut {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	p.endLine()
	fmt.Fprintln(p.w)
	fmt.Fprintf(p.w, "Email:          %d\n", res.EmailID)
	fmt.Fprintf(p.w, "Classification: %s\n", res.Classification)
	if res.Cached {
		fmt.Fprintln(p.w, "Source:         cache")
	}
	fmt.Fprintf(p.w, "Reasoning:      %s\n", res.Reasoning)
	if res.AIDraft != "" {
		fmt.Fprintf(p.w, "\nDraft:\n%s\n", res.AIDraft)
	}
	return nil
}
