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
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Frame is one dispatched text/event-stream event before decoding.
type Frame struct {
	Event string
	ID    string
	Data  string
}

// Reader splits a text/event-stream body into frames.
//
// Field handling follows the EventSource rules: "data:" lines accumulate and
// are joined with "\n", a single space after the colon is stripped, comment
// lines (":") are skipped, and a blank line dispatches the frame. A frame
// without data lines is discarded. An event name defaults to "message".
type Reader struct {
	r *bufio.Reader

	event string
	id    string
	data  []string
}

// NewReader wraps r for frame-by-frame reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next complete frame, or io.EOF once the stream ends.
// A trailing frame that was never terminated by a blank line is dropped.
func (r *Reader) Next() (Frame, error) {
	for {
		line, err := r.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Partial line at EOF cannot complete a frame.
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("read event stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if f, ok := r.dispatch(); ok {
				return f, nil
			}
			continue
		}
		r.field(line)
	}
}

func (r *Reader) field(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}

	name, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch name {
	case "event":
		r.event = value
	case "id":
		r.id = value
	case "data":
		r.data = append(r.data, value)
	}
}

func (r *Reader) dispatch() (Frame, bool) {
	defer func() {
		r.event = ""
		r.data = r.data[:0]
	}()

	if len(r.data) == 0 {
		return Frame{}, false
	}

	f := Frame{
		Event: r.event,
		ID:    r.id,
		Data:  strings.Join(r.data, "\n"),
	}
	if f.Event == "" {
		f.Event = "message"
	}
	return f, true
}
