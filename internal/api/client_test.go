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

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/triage/internal/models"
)

func TestClient_Classify(t *testing.T) {
	var gotPath, gotQuery, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email_id":42,"classification":"respond","reasoning":"Direct question.","ai_draft":null}`))
	}))
	defer srv.Close()

	c := New(Config{HTTPClient: srv.Client(), BaseURL: srv.URL + "/"})
	res, err := c.Classify(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/emails/classify_email", gotPath)
	assert.Equal(t, "email_id=42", gotQuery)
	assert.Equal(t, models.Result{
		EmailID:        42,
		Classification: models.LabelRespond,
		Reasoning:      "Direct question.",
	}, res)
}

func TestClient_GenerateDraft(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		wantQuery string
	}{
		{"default", false, ""},
		{"force", true, "force=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotQuery = r.URL.RawQuery
				w.Write([]byte(`{"classification":"respond","reasoning":"r","ai_draft":"Hi Sam,"}`))
			}))
			defer srv.Close()

			c := New(Config{HTTPClient: srv.Client(), BaseURL: srv.URL})
			res, err := c.GenerateDraft(context.Background(), 7, tt.force)
			require.NoError(t, err)

			assert.Equal(t, "/api/emails/7/generate_draft", gotPath)
			assert.Equal(t, tt.wantQuery, gotQuery)
			assert.Equal(t, int64(7), res.EmailID, "email id defaults to the requested one")
			assert.Equal(t, "Hi Sam,", res.AIDraft)
		})
	}
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"detail", http.StatusNotFound, `{"detail":"Email not found"}`, "Email not found"},
		{"message", http.StatusBadGateway, `{"message":"upstream timeout"}`, "upstream timeout"},
		{"validation list", http.StatusUnprocessableEntity, `{"detail":[{"loc":["query","email_id"]}]}`, `[{"loc":["query","email_id"]}]`},
		{"plain text", http.StatusInternalServerError, "boom\n", "boom"},
		{"empty", http.StatusServiceUnavailable, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{HTTPClient: srv.Client(), BaseURL: srv.URL})
			_, err := c.Classify(context.Background(), 1)
			require.Error(t, err)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.wantDetail, se.Detail)
			assert.Equal(t, tt.status == http.StatusNotFound, IsNotFound(err))
		})
	}
}

func TestClient_RejectsUnknownLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"classification":"spam","reasoning":"r"}`))
	}))
	defer srv.Close()

	c := New(Config{HTTPClient: srv.Client(), BaseURL: srv.URL})
	_, err := c.Classify(context.Background(), 1)
	assert.ErrorContains(t, err, "unknown classification")
}

func TestClient_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"classification":"ignore","reasoning":"r"}`))
	}))
	defer srv.Close()

	c := New(Config{HTTPClient: srv.Client(), BaseURL: srv.URL, RateLimit: 0.001, Burst: 1})

	_, err := c.Classify(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Classify(ctx, 2)
	assert.ErrorContains(t, err, "rate limit")
}
