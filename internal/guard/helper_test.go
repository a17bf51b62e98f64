// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package guard_test

import (
	"context"
	"sync"

	"github.com/documesh-dev/documesh/internal/guard"
)

// fakeExecutor records every statement a guard sends and returns
// canned rows or errors.
type fakeExecutor struct {
	mu         sync.Mutex
	sessions   int
	closed     int
	execs      []string
	queries    []string
	rows       []map[string]any
	sessionErr error
	execErr    error
	queryErr   error
}

func newFakeExecutor(rows ...map[string]any) *fakeExecutor {
	return &fakeExecutor{rows: rows}
}

func (f *fakeExecutor) Session(context.Context) (guard.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.sessions++
	return &fakeSession{exec: f}, nil
}

func (f *fakeExecutor) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

func (f *fakeExecutor) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

type fakeSession struct {
	exec *fakeExecutor
}

func (s *fakeSession) Exec(_ context.Context, sql string) error {
	s.exec.mu.Lock()
	defer s.exec.mu.Unlock()
	s.exec.execs = append(s.exec.execs, sql)
	return s.exec.execErr
}

func (s *fakeSession) Query(_ context.Context, sql string) ([]map[string]any, error) {
	s.exec.mu.Lock()
	defer s.exec.mu.Unlock()
	s.exec.queries = append(s.exec.queries, sql)
	if s.exec.queryErr != nil {
		return nil, s.exec.queryErr
	}
	return s.exec.rows, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.exec.mu.Lock()
	defer s.exec.mu.Unlock()
	s.exec.closed++
	return nil
}

// pgError mimics the SQLSTATE surface of pgconn.PgError.
type pgError struct {
	code string
	msg  string
}

func (e *pgError) Error() string    { return e.msg }
func (e *pgError) SQLState() string { return e.code }
