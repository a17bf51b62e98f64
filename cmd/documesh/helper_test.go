// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/documesh-dev/documesh/internal/config"
	"github.com/documesh-dev/documesh/internal/guard"
	"github.com/documesh-dev/documesh/internal/store"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// fakeDB is an in-memory store.Database.
type fakeDB struct {
	mu      sync.Mutex
	pingErr error
	rows    []map[string]any
	queries []string
	closed  bool
}

var _ store.Database = (*fakeDB)(nil)

func (f *fakeDB) GetSubmission(_ context.Context, id string) (*store.Submission, error) {
	return nil, store.NotFound(dmerr.CodeStoreSubmissionGetNotFound, "submission not found", dmerr.Field("id", id))
}

func (f *fakeDB) GetOrganization(_ context.Context, id string) (*store.Organization, error) {
	return nil, store.NotFound(dmerr.CodeStoreOrganizationGetNotFound, "organization not found", dmerr.FieldOrgID(id))
}

func (f *fakeDB) GetOrganizationByAPIKey(context.Context, string) (*store.Organization, error) {
	return nil, store.NotFound(dmerr.CodeStoreOrganizationGetNotFound, "organization not found")
}

func (f *fakeDB) Session(context.Context) (guard.Session, error) { return fakeSession{db: f}, nil }

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDB) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeSession struct{ db *fakeDB }

func (s fakeSession) Exec(context.Context, string) error { return nil }

func (s fakeSession) Query(_ context.Context, sql string) ([]map[string]any, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.queries = append(s.db.queries, sql)
	return s.db.rows, nil
}

func (s fakeSession) Close(context.Context) error { return nil }

// testConfig writes a mock-provider config file and returns its path.
func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "documesh.yaml")
	body := "models:\n  mock: true\nconversations:\n  path: " + filepath.Join(dir, "conversations.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// useFakeDB makes commands wire onto db instead of a real database.
func useFakeDB(t *testing.T, db *fakeDB) {
	t.Helper()
	prev := wireApp
	wireApp = func(ctx context.Context, cfg *config.Config) (*App, error) {
		return wireWith(ctx, cfg, db)
	}
	t.Cleanup(func() { wireApp = prev })
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(bytes.NewBufferString(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}
