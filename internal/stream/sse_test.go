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
	"errors"
	"io"
	"strings"
	"testing"
)

// TestReader_Frames verifies field parsing and dispatch on blank lines.
func TestReader_Frames(t *testing.T) {
	body := ": keep-alive\n" +
		"event: thinking\n" +
		"data: {\"message\":\"Reading email...\"}\n" +
		"\n" +
		"event:reasoning_chunk\r\n" +
		"id: 7\r\n" +
		"data:{\"chunk\":\" important.\"}\r\n" +
		"\r\n" +
		"data: first\n" +
		"data: second\n" +
		"\n"

	r := NewReader(strings.NewReader(body))

	want := []Frame{
		{Event: "thinking", Data: `{"message":"Reading email..."}`},
		{Event: "reasoning_chunk", ID: "7", Data: `{"chunk":" important."}`},
		{Event: "message", ID: "7", Data: "first\nsecond"},
	}

	for i, w := range want {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if got != w {
			t.Errorf("frame %d = %+v, want %+v", i, got, w)
		}
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

// TestReader_SkipsEmptyFrames verifies that frames without data are not dispatched.
func TestReader_SkipsEmptyFrames(t *testing.T) {
	body := "event: thinking\n\n\n" +
		"event: draft_chunk\n" +
		"data: {\"chunk\":\"Hi\"}\n\n"

	r := NewReader(strings.NewReader(body))

	got, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Event != "draft_chunk" {
		t.Errorf("event = %q, want draft_chunk (stale event name leaked)", got.Event)
	}
}

// TestReader_DropsUnterminatedFrame verifies that a frame cut off by EOF is discarded.
func TestReader_DropsUnterminatedFrame(t *testing.T) {
	r := NewReader(strings.NewReader("event: complete\ndata: {\"classification\":\"respond\"}"))

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF for unterminated frame, got %v", err)
	}
}
