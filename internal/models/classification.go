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

// Package models defines the data structures shared across the triage client.
package models

import "fmt"

// Action selects which operation the remote API runs for an email.
type Action string

const (
	ActionClassify      Action = "classify"
	ActionGenerateDraft Action = "generate_draft"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionClassify || a == ActionGenerateDraft
}

// Label is the triage decision for an email.
type Label string

const (
	LabelRespond Label = "respond"
	LabelNotify  Label = "notify"
	LabelIgnore  Label = "ignore"
)

// Labels lists every label the API may return.
var Labels = []Label{LabelRespond, LabelNotify, LabelIgnore}

// Valid reports whether l is one of the closed set of labels.
func (l Label) Valid() bool {
	switch l {
	case LabelRespond, LabelNotify, LabelIgnore:
		return true
	}
	return false
}

// ClassificationRequest identifies one email and the action to run on it.
// It is immutable once issued.
type ClassificationRequest struct {
	EmailID int64  `json:"email_id"`
	Action  Action `json:"action"`
}

// Validate checks that the request can be sent to the API.
func (r ClassificationRequest) Validate() error {
	if r.EmailID <= 0 {
		return fmt.Errorf("invalid email id %d", r.EmailID)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("unknown action %q", r.Action)
	}
	return nil
}

// Result is the terminal shape of a classification, produced by the
// streaming "complete" event and by the non-streaming endpoints alike.
//
// This struct's JSON serialisation matches the API's
// EmailClassificationResponse.
type Result struct {
	EmailID        int64  `json:"email_id,omitempty"`
	Classification Label  `json:"classification"`
	Reasoning      string `json:"reasoning"`
	AIDraft        string `json:"ai_draft,omitempty"`
	Cached         bool   `json:"cached,omitempty"`
}
