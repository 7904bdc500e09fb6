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

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultFailureMessage is used when an error event carries no readable
// message.
const DefaultFailureMessage = "Streaming failed. Please try again."

// ErrUnknownEvent is returned by Decode for event names outside Kinds.
var ErrUnknownEvent = errors.New("stream: unknown event type")

// DecodeError reports a payload that could not be parsed for a known kind.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s event: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses the JSON payload of an SSE event into its typed form.
//
// Error events never fail to decode: a payload that cannot be read still
// yields a Failure carrying DefaultFailureMessage.
func Decode(name string, data []byte) (Event, error) {
	kind := Kind(strings.TrimSpace(name))

	switch kind {
	case KindThinking:
		var ev Thinking
		return decodeInto(kind, data, &ev, func() Event { return ev })
	case KindReasoningChunk:
		var ev ReasoningChunk
		return decodeInto(kind, data, &ev, func() Event { return ev })
	case KindClassification:
		var ev Classified
		if _, err := decodeInto(kind, data, &ev, nil); err != nil {
			return nil, err
		}
		if !ev.Classification.Valid() {
			return nil, &DecodeError{Kind: kind, Err: fmt.Errorf("unknown classification %q", ev.Classification)}
		}
		return ev, nil
	case KindDraftStart:
		var ev DraftStart
		return decodeInto(kind, data, &ev, func() Event { return ev })
	case KindDraftChunk:
		var ev DraftChunk
		return decodeInto(kind, data, &ev, func() Event { return ev })
	case KindComplete:
		var ev Complete
		if _, err := decodeInto(kind, data, &ev, nil); err != nil {
			return nil, err
		}
		if !ev.Classification.Valid() {
			return nil, &DecodeError{Kind: kind, Err: fmt.Errorf("unknown classification %q", ev.Classification)}
		}
		return ev, nil
	case KindError:
		return decodeFailure(data), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// decodeInto unmarshals data into target and returns build() on success.
func decodeInto(kind Kind, data []byte, target any, build func() Event) (Event, error) {
	if err := json.Unmarshal(data, target); err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	if build == nil {
		return nil, nil
	}
	return build(), nil
}

// decodeFailure accepts {"message"}, {"error"} or {"detail"} payloads.
func decodeFailure(data []byte) Failure {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Failure{Message: DefaultFailureMessage}
	}

	var errText string
	if len(payload.Error) > 0 {
		// "error" is either a string or an object with its own message.
		if err := json.Unmarshal(payload.Error, &errText); err != nil {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(payload.Error, &nested) == nil {
				errText = nested.Message
			}
		}
	}

	for _, msg := range []string{payload.Message, errText, payload.Detail} {
		if strings.TrimSpace(msg) != "" {
			return Failure{Message: msg}
		}
	}
	return Failure{Message: DefaultFailureMessage}
}
