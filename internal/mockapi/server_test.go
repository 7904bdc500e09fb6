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

package mockapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/bcem/triage/internal/api"
	"github.com/bcem/triage/internal/classify"
	"github.com/bcem/triage/internal/models"
	"github.com/bcem/triage/internal/transport"
)

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func runSession(t *testing.T, baseURL string, req models.ClassificationRequest) classify.State {
	t.Helper()

	c := classify.New(transport.New(transport.Config{BaseURL: baseURL}))
	defer c.Close()
	require.NoError(t, c.Start(req))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestStream_ClassifyEndToEnd(t *testing.T) {
	srv := newTestServer(t, Config{})

	st := runSession(t, srv.URL, models.ClassificationRequest{EmailID: 42, Action: models.ActionClassify})

	assert.Equal(t, classify.StatusCompleted, st.Status)
	assert.Empty(t, st.Err)
	assert.Equal(t, Label(42), st.Classification)
	assert.NotEmpty(t, st.Reasoning)
	assert.False(t, st.Cached)
	assert.False(t, st.HasDraft)

	again := runSession(t, srv.URL, models.ClassificationRequest{EmailID: 42, Action: models.ActionClassify})
	assert.True(t, again.Cached, "second run should be served from the stored result")
	assert.Equal(t, st.Reasoning, again.Reasoning)
	assert.Equal(t, "Loaded from cache", again.Log[len(again.Log)-1].Content)
}

func TestStream_DraftEndToEnd(t *testing.T) {
	srv := newTestServer(t, Config{})

	st := runSession(t, srv.URL, models.ClassificationRequest{EmailID: 7, Action: models.ActionGenerateDraft})

	assert.Equal(t, classify.StatusCompleted, st.Status)
	assert.True(t, st.HasDraft)
	assert.True(t, strings.HasPrefix(st.Draft, "Hi,"), "draft = %q", st.Draft)

	var kinds []string
	for _, e := range st.Log {
		kinds = append(kinds, string(e.Kind))
	}
	assert.Equal(t, []string{"thinking", "classification", "draft_start", "complete"}, kinds)
}

func TestStream_ErrorEvents(t *testing.T) {
	srv := newTestServer(t, Config{MaxEmailID: 100, FailEmailIDs: []int64{13}})

	missing := runSession(t, srv.URL, models.ClassificationRequest{EmailID: 500, Action: models.ActionClassify})
	assert.Equal(t, classify.StatusFailed, missing.Status)
	assert.Equal(t, "Email not found", missing.Err)

	failing := runSession(t, srv.URL, models.ClassificationRequest{EmailID: 13, Action: models.ActionClassify})
	assert.Equal(t, classify.StatusFailed, failing.Status)
	assert.Equal(t, "Model overloaded, please retry", failing.Err)
	assert.NotEmpty(t, failing.Reasoning, "partial reasoning should be kept")
}

func TestStream_CancelMidStream(t *testing.T) {
	srv := newTestServer(t, Config{ChunkDelay: 20 * time.Millisecond})

	c := classify.New(transport.New(transport.Config{BaseURL: srv.URL}))
	defer c.Close()
	require.NoError(t, c.Start(models.ClassificationRequest{EmailID: 3, Action: models.ActionClassify}))

	require.Eventually(t, func() bool {
		return c.Snapshot().Reasoning != ""
	}, 2*time.Second, 10*time.Millisecond)

	c.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, classify.StatusClosed, st.Status)
	assert.Empty(t, st.Err)
}

func TestFallbackEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{Token: "tok", MaxEmailID: 100, FailEmailIDs: []int64{13}})
	ctx := context.Background()
	client := api.New(api.Config{
		HTTPClient: oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})),
		BaseURL:    srv.URL,
	})

	first, err := client.Classify(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), first.EmailID)
	assert.Equal(t, Label(5), first.Classification)
	assert.False(t, first.Cached)

	second, err := client.Classify(ctx, 5)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Reasoning, second.Reasoning)

	draft, err := client.GenerateDraft(ctx, 5, false)
	require.NoError(t, err)
	assert.NotEmpty(t, draft.AIDraft)

	forced, err := client.GenerateDraft(ctx, 5, true)
	require.NoError(t, err)
	assert.False(t, forced.Cached)

	_, err = client.Classify(ctx, 101)
	assert.True(t, api.IsNotFound(err), "err = %v", err)

	_, err = client.Classify(ctx, 13)
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "Model overloaded, please retry", se.Detail)
}

func TestAuthAndRequestID(t *testing.T) {
	srv := newTestServer(t, Config{Token: "tok"})

	resp, err := http.Post(srv.URL+"/api/emails/classify_email?email_id=1", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Not authenticated", body["detail"])

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode, "health check needs no token")
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t, Config{})

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"stream id", http.MethodGet, "/api/emails/classify_email_stream/abc"},
		{"stream action", http.MethodGet, "/api/emails/classify_email_stream/1?action=summarize"},
		{"classify id", http.MethodPost, "/api/emails/classify_email?email_id=-3"},
		{"draft id", http.MethodPost, "/api/emails/0/generate_draft"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestChunks(t *testing.T) {
	text := "Lorem ipsum dolor sit amet."
	got := chunks(text)
	assert.Equal(t, []string{"Lorem ", "ipsum ", "dolor ", "sit ", "amet."}, got)
	assert.Equal(t, text, strings.Join(got, ""))
}

func TestLabel(t *testing.T) {
	seen := map[models.Label]bool{}
	for id := int64(1); id <= 3; id++ {
		l := Label(id)
		assert.True(t, l.Valid())
		seen[l] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, Label(4), Label(1))
}
