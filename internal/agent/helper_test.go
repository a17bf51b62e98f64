// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package agent_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/documesh-dev/documesh/internal/agent"
	"github.com/documesh-dev/documesh/internal/guard"
	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/provider"
	"github.com/documesh-dev/documesh/internal/provider/mock"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

type fakeSubmissions struct {
	subs map[string]*store.Submission
	err  error
}

func (f *fakeSubmissions) GetSubmission(_ context.Context, id string) (*store.Submission, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, store.NotFound(dmerr.CodeStoreSubmissionGetNotFound, "submission not found", dmerr.Field("id", id))
	}
	return sub, nil
}

// fakeExecutor records guarded statements and returns canned rows.
type fakeExecutor struct {
	mu       sync.Mutex
	sessions int
	queries  []string
	rows     []map[string]any
}

func (f *fakeExecutor) Session(context.Context) (guard.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return &fakeSession{exec: f}, nil
}

func (f *fakeExecutor) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeSession struct{ exec *fakeExecutor }

func (s *fakeSession) Exec(context.Context, string) error { return nil }

func (s *fakeSession) Query(_ context.Context, sql string) ([]map[string]any, error) {
	s.exec.mu.Lock()
	defer s.exec.mu.Unlock()
	s.exec.queries = append(s.exec.queries, sql)
	return s.exec.rows, nil
}

func (s *fakeSession) Close(context.Context) error { return nil }

type fixture struct {
	loop *agent.Loop
	llm  *mock.Provider
	exec *fakeExecutor
	subs *fakeSubmissions
}

func newFixture(t *testing.T, llm *mock.Provider, opts ...agent.Option) *fixture {
	t.Helper()

	exec := &fakeExecutor{rows: []map[string]any{{"count": int64(1)}}}
	subs := &fakeSubmissions{subs: map[string]*store.Submission{
		"sub-1": {
			ID:           "sub-1",
			OrgID:        "org-123",
			DocumentType: "RESUME",
			Status:       store.SubmissionStatusCompleted,
			FinalData:    json.RawMessage(`{"fullName":"Ada Lovelace"}`),
			CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		"sub-other": {ID: "sub-other", OrgID: "org-999", DocumentType: "RESUME"},
	}}

	g := guard.New(exec, guard.WithLogger(logging.Nop()))
	tools, err := agent.NewToolset(
		agent.NewResumeDetailsTool(subs, logging.Nop()),
		agent.NewQueryDatabaseTool(g, logging.Nop()),
	)
	require.NoError(t, err)

	opts = append([]agent.Option{agent.WithLogger(logging.Nop())}, opts...)
	return &fixture{
		loop: agent.New(llm, tools, opts...),
		llm:  llm,
		exec: exec,
		subs: subs,
	}
}

// collect drains a chat stream, stopping at the first error.
func collect(t *testing.T, l *agent.Loop, req agent.ChatRequest) ([]string, error) {
	t.Helper()
	var chunks []string
	for chunk, err := range l.Chat(context.Background(), req) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func queryCall(id, sql string) provider.ToolCall {
	args, _ := json.Marshal(map[string]string{"query": sql})
	return provider.ToolCall{ID: id, Name: agent.ToolQueryDatabase, Arguments: string(args)}
}

func detailsCall(id, subID string) provider.ToolCall {
	args, _ := json.Marshal(map[string]string{"id": subID})
	return provider.ToolCall{ID: id, Name: agent.ToolGetResumeDetails, Arguments: string(args)}
}

// toolResults returns the tool messages of the last request.
func toolResults(llm *mock.Provider) []provider.Message {
	reqs := llm.Requests()
	if len(reqs) == 0 {
		return nil
	}
	var out []provider.Message
	for _, m := range reqs[len(reqs)-1].Messages {
		if m.Role == provider.MessageRoleTool {
			out = append(out, m)
		}
	}
	return out
}
