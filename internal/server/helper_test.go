// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/documesh-dev/documesh/internal/agent"
	"github.com/documesh-dev/documesh/internal/conversation"
	"github.com/documesh-dev/documesh/internal/server"
	"github.com/documesh-dev/documesh/internal/store"
	"github.com/documesh-dev/documesh/internal/store/sqlite"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// httptest.NewRequest connects from 192.0.2.1.
const (
	testKey      = "key-acme"
	testRemoteIP = "192.0.2.1"
)

type fakeOrgs struct {
	byKey map[string]*store.Organization
	err   error
}

func (f *fakeOrgs) GetOrganization(_ context.Context, id string) (*store.Organization, error) {
	for _, org := range f.byKey {
		if org.ID == id {
			return org, nil
		}
	}
	return nil, store.NotFound(dmerr.CodeStoreOrganizationGetNotFound, "organization not found")
}

func (f *fakeOrgs) GetOrganizationByAPIKey(_ context.Context, key string) (*store.Organization, error) {
	if f.err != nil {
		return nil, f.err
	}
	org, ok := f.byKey[key]
	if !ok {
		return nil, store.NotFound(dmerr.CodeStoreOrganizationGetNotFound, "organization not found")
	}
	return org, nil
}

// fakeAgent streams fixed chunks, or fails after them when err is set.
type fakeAgent struct {
	mu     sync.Mutex
	chunks []string
	err    error
	reqs   []agent.ChatRequest
}

func (f *fakeAgent) Chat(_ context.Context, req agent.ChatRequest) iter.Seq2[string, error] {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func (f *fakeAgent) requests() []agent.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.ChatRequest(nil), f.reqs...)
}

type testEnv struct {
	srv   *server.Server
	orgs  *fakeOrgs
	agent *fakeAgent
	convs *conversation.Service
}

type envOption func(*server.Config, *server.Deps)

func withTrustProxy() envOption {
	return func(c *server.Config, _ *server.Deps) { c.TrustProxy = true }
}

func withHealth(fn server.HealthFunc) envOption {
	return func(_ *server.Config, d *server.Deps) { d.Health = fn }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	st, err := sqlite.NewConversationStore(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	nop := zerolog.Nop()
	env := &testEnv{
		orgs: &fakeOrgs{byKey: map[string]*store.Organization{
			testKey:    {ID: "org-123", Name: "Acme", AllowedIPs: []string{testRemoteIP}},
			"key-cidr": {ID: "org-cidr", AllowedIPs: []string{"not-an-ip", "192.0.2.0/24"}},
			"key-none": {ID: "org-none"},
			"key-far":  {ID: "org-far", AllowedIPs: []string{"203.0.113.7"}},
		}},
		agent: &fakeAgent{chunks: []string{"There ", "are ", "12 ", "resumes"}},
		convs: conversation.New(st, conversation.WithLogger(nop)),
	}

	cfg := server.Config{ListenAddr: "127.0.0.1:0"}
	deps := server.Deps{Orgs: env.orgs, Agent: env.agent, Conversations: env.convs, Logger: &nop}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	env.srv, err = server.New(cfg, deps)
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

type sseEvent struct {
	Event string
	Data  string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()

	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.Event != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func createConversation(t *testing.T, e *testEnv, message string) *store.Conversation {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/conversations", testKey, map[string]string{"user_id": "user-1", "message": message})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[*store.Conversation](t, w)
}
