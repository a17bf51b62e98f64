// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package guard_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/documesh-dev/documesh/internal/guard"
	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/telemetry"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

func newGuard(t *testing.T, exec guard.Executor, opts ...guard.Option) *guard.Guard {
	t.Helper()
	return guard.New(exec, append([]guard.Option{guard.WithLogger(logging.Nop())}, opts...)...)
}

func TestExecute_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		kind    guard.Kind
		message string
	}{
		{name: "empty", query: "", kind: guard.KindInvalidInput, message: "Invalid query parameter"},
		{name: "blank", query: "   \n", kind: guard.KindInvalidInput, message: "Invalid query parameter"},
		{name: "too long", query: "SELECT * FROM submissions WHERE status = '" + strings.Repeat("a", 2000) + "'", kind: guard.KindInvalidInput, message: "Query too long. Maximum 2000 characters."},
		{name: "delete", query: "DELETE FROM submissions", kind: guard.KindUnsupportedStatementType, message: "Only SELECT queries are allowed"},
		{name: "explain", query: "EXPLAIN SELECT * FROM submissions", kind: guard.KindUnsupportedStatementType, message: "Only SELECT queries are allowed"},
		{name: "cte", query: "WITH s AS (SELECT * FROM submissions) SELECT * FROM s", kind: guard.KindUnsupportedStatementType, message: "Only SELECT queries are allowed"},
		{name: "stacked drop", query: "SELECT * FROM submissions; DROP TABLE submissions;", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "stacked select", query: "SELECT * FROM submissions; SELECT * FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "line comment", query: "SELECT * FROM submissions -- WHERE", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "leading block comment", query: "/* hi */ SELECT * FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "union", query: "SELECT id FROM submissions UNION SELECT id FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "fullwidth union", query: "SELECT id FROM submissions ＵＮＩＯＮ SELECT id FROM users", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "fullwidth semicolon", query: "SELECT * FROM submissions； DROP TABLE submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "catalog", query: "SELECT * FROM information_schema.tables", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "pg prefix", query: "SELECT pg_sleep(10) FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "version", query: "SELECT version() FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "hex escape", query: `SELECT '\x41' FROM submissions`, kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "chr", query: "SELECT chr(65) FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "missing table", query: "SELECT 1", kind: guard.KindMissingRequiredTableReference, message: "Query must reference the submissions table"},
		{name: "join users", query: "SELECT * FROM submissions, users WHERE submissions.org_id = users.id", kind: guard.KindForbiddenTableAccess, message: "Access to users table is not allowed"},
		{name: "subquery organizations", query: "SELECT * FROM submissions WHERE org_id IN (SELECT id FROM organizations)", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "scalar subquery in select list", query: "SELECT (SELECT final_data FROM submissions s2 WHERE s2.org_id = 'org-other' LIMIT 1) AS x FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "subquery in from", query: "SELECT * FROM (SELECT * FROM submissions) s", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "subquery in where", query: "SELECT id FROM submissions WHERE id IN (SELECT id FROM submissions WHERE org_id = 'org-other')", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "dollar quoted where", query: "SELECT $$ where $$ AS x, * FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "tagged dollar quote", query: "SELECT $q$ where $q$ AS x, * FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "escape string", query: `SELECT E'\' where ' AS x, * FROM submissions`, kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "xml query function", query: "SELECT query_to_xml('x', true, true, '') FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
		{name: "dblink", query: "SELECT dblink('host=x', 'y') FROM submissions", kind: guard.KindProhibitedSyntax, message: "Query contains prohibited syntax"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFakeExecutor()
			res := newGuard(t, exec).Execute(context.Background(), tt.query, "org-123")

			assert.False(t, res.OK())
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.message, res.Error)
			assert.Zero(t, exec.sessionCount(), "rejected queries never reach the executor")
		})
	}
}

func TestExecute_AllowsKeywordLikeIdentifiers(t *testing.T) {
	exec := newFakeExecutor(map[string]any{"id": "s1"})
	res := newGuard(t, exec).Execute(context.Background(),
		"SELECT id, created_at, updated_at FROM submissions ORDER BY created_at DESC", "org-123")

	require.True(t, res.OK(), res.Error)
	assert.Equal(t,
		"SELECT id, created_at, updated_at FROM submissions WHERE org_id = 'org-123' ORDER BY created_at DESC LIMIT 100",
		exec.lastQuery())
}

func TestExecute_AllowsKeywordsInsideLiterals(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "select in literal",
			query: "SELECT id FROM submissions WHERE final_data->>'headline' = 'select the best'",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' AND final_data->>'headline' = 'select the best' LIMIT 100",
		},
		{
			name:  "dollar in literal",
			query: "SELECT id FROM submissions WHERE final_data->>'salary' = '$100'",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' AND final_data->>'salary' = '$100' LIMIT 100",
		},
		{
			name:  "literal ending in e",
			query: "SELECT id FROM submissions WHERE final_data->>'grade' = 'e'",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' AND final_data->>'grade' = 'e' LIMIT 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFakeExecutor(map[string]any{"id": "s1"})
			res := newGuard(t, exec).Execute(context.Background(), tt.query, "org-123")

			require.True(t, res.OK(), res.Error)
			assert.Equal(t, tt.want, exec.lastQuery())
		})
	}
}

func TestExecute_BoundsRowLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "limit all", query: "SELECT * FROM submissions LIMIT ALL", want: "SELECT * FROM submissions WHERE org_id = 'org-123' LIMIT 100"},
		{name: "limit above ceiling", query: "SELECT * FROM submissions LIMIT 100000", want: "SELECT * FROM submissions WHERE org_id = 'org-123' LIMIT 100"},
		{name: "limit at ceiling", query: "SELECT * FROM submissions LIMIT 100", want: "SELECT * FROM submissions WHERE org_id = 'org-123' LIMIT 100"},
		{name: "small limit kept", query: "SELECT * FROM submissions LIMIT 10", want: "SELECT * FROM submissions WHERE org_id = 'org-123' LIMIT 10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFakeExecutor()
			res := newGuard(t, exec).Execute(context.Background(), tt.query, "org-123")

			require.True(t, res.OK(), res.Error)
			assert.Equal(t, tt.want, exec.lastQuery())
		})
	}
}

func TestExecute_TruncatesRowsAboveLimit(t *testing.T) {
	rows := make([]map[string]any, guard.RowLimit+5)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	exec := newFakeExecutor(rows...)

	res := newGuard(t, exec).Execute(context.Background(), "SELECT * FROM submissions", "org-123")

	require.True(t, res.OK())
	assert.Len(t, res.Rows, guard.RowLimit)
	assert.Equal(t, guard.RowLimit, res.Count)
}

func TestExecute_EndToEndCount(t *testing.T) {
	exec := newFakeExecutor(map[string]any{"count": int64(7)})
	res := newGuard(t, exec).Execute(context.Background(), "SELECT COUNT(*) FROM submissions", "org-123")

	require.True(t, res.OK())
	assert.Equal(t, "SELECT COUNT(*) FROM submissions WHERE org_id = 'org-123' LIMIT 100", exec.lastQuery())
	assert.Equal(t, res.Statement, exec.lastQuery())
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, []map[string]any{{"count": int64(7)}}, res.Rows)
}

func TestExecute_EndToEndCatalogProbe(t *testing.T) {
	exec := newFakeExecutor()
	res := newGuard(t, exec).Execute(context.Background(), "SELECT * FROM information_schema.tables", "org-123")

	assert.Equal(t, "Query contains prohibited syntax", res.Error)
	assert.Equal(t, guard.KindProhibitedSyntax, res.Kind)
	assert.Zero(t, exec.sessionCount())

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Query contains prohibited syntax"}`, string(out))
}

func TestExecute_AppliesSessionGuardsBeforeQuery(t *testing.T) {
	exec := newFakeExecutor()
	res := newGuard(t, exec).Execute(context.Background(), "SELECT id FROM submissions", "org-1")

	require.True(t, res.OK())
	assert.Equal(t, []string{
		"SET LOCAL statement_timeout = '5s'",
		"SET LOCAL work_mem = '64MB'",
	}, exec.execs)
	assert.Len(t, exec.queries, 1)
	assert.Equal(t, 1, exec.closed, "session is always closed")
}

func TestExecute_EmptyTenantRejected(t *testing.T) {
	exec := newFakeExecutor()
	res := newGuard(t, exec).Execute(context.Background(), "SELECT id FROM submissions", "")
	assert.Equal(t, guard.KindInvalidInput, res.Kind)
	assert.Zero(t, exec.sessionCount())
}

func TestExecute_ErrorSanitization(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    guard.Kind
		message string
	}{
		{name: "missing column", err: errors.New(`column "salary" does not exist`), kind: guard.KindExecutionSyntaxError, message: "Invalid query syntax. Please check your SQL."},
		{name: "syntax", err: errors.New(`syntax error at or near "FORM"`), kind: guard.KindExecutionSyntaxError, message: "Invalid query syntax. Please check your SQL."},
		{name: "sqlstate 42", err: &pgError{code: "42883", msg: "function foo() does not exist"}, kind: guard.KindExecutionSyntaxError, message: "Invalid query syntax. Please check your SQL."},
		{name: "statement timeout", err: &pgError{code: "57014", msg: "canceling statement due to statement timeout"}, kind: guard.KindExecutionTimeout, message: "Query execution timeout. Please simplify your query."},
		{name: "context deadline", err: context.DeadlineExceeded, kind: guard.KindExecutionTimeout, message: "Query execution timeout. Please simplify your query."},
		{name: "cancelled", err: errors.New("query cancelled by client"), kind: guard.KindExecutionTimeout, message: "Query execution timeout. Please simplify your query."},
		{name: "generic", err: errors.New("connection reset by peer"), kind: guard.KindExecutionGenericFailure, message: "Query execution failed. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFakeExecutor()
			exec.queryErr = tt.err
			res := newGuard(t, exec).Execute(context.Background(), "SELECT id FROM submissions", "org-1")

			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.message, res.Error)
			assert.NotContains(t, res.Error, tt.err.Error())
			assert.Equal(t, 1, exec.closed)
		})
	}
}

func TestExecute_SessionFailuresAreSanitized(t *testing.T) {
	exec := newFakeExecutor()
	exec.sessionErr = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
	res := newGuard(t, exec).Execute(context.Background(), "SELECT id FROM submissions", "org-1")
	assert.Equal(t, guard.KindExecutionGenericFailure, res.Kind)
	assert.Equal(t, "Query execution failed. Please try again.", res.Error)

	exec = newFakeExecutor()
	exec.execErr = errors.New("permission denied to set parameter")
	res = newGuard(t, exec).Execute(context.Background(), "SELECT id FROM submissions", "org-1")
	assert.Equal(t, guard.KindExecutionGenericFailure, res.Kind)
	assert.Empty(t, exec.queries, "query never runs without session guards")
}

func TestExecute_SlowQueryWarning(t *testing.T) {
	var buf bytes.Buffer
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 3 * time.Second)
	}

	exec := newFakeExecutor()
	g := guard.New(exec, guard.WithLogger(zerolog.New(&buf)), guard.WithClock(clock))
	res := g.Execute(context.Background(), "SELECT id FROM submissions", "org-1")

	require.True(t, res.OK())
	assert.Contains(t, buf.String(), "slow query detected")
	assert.Contains(t, buf.String(), `"duration_ms":3000`)
}

func TestExecute_NoSlowWarningUnderThreshold(t *testing.T) {
	var buf bytes.Buffer
	exec := newFakeExecutor()
	g := guard.New(exec, guard.WithLogger(zerolog.New(&buf)), guard.WithSlowQueryThreshold(time.Hour))
	g.Execute(context.Background(), "SELECT id FROM submissions", "org-1")
	assert.NotContains(t, buf.String(), "slow query detected")
}

func TestExecute_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	inst, err := telemetry.NewInstruments(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)), noop.NewMeterProvider())
	require.NoError(t, err)

	g := newGuard(t, newFakeExecutor(), guard.WithInstruments(inst))
	g.Execute(context.Background(), "DROP TABLE submissions", "org-1")

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "guard.execute", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "org-1", attrs["documesh.org_id"])
	assert.Equal(t, string(guard.KindUnsupportedStatementType), attrs["documesh.guard.kind"])
}

func TestResult_JSONAndErr(t *testing.T) {
	ok := guard.Result{Count: 0}
	out, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[],"count":0}`, string(out))
	assert.NoError(t, ok.Err())

	failed := guard.Result{Kind: guard.KindExecutionTimeout, Error: "Query execution timeout. Please simplify your query."}
	assert.True(t, dmerr.IsTimeout(failed.Err()))
	assert.True(t, dmerr.HasCode(guard.Result{Kind: guard.KindForbiddenTableAccess, Error: "x"}.Err(), dmerr.CodeGuardTableForbidden))
}
