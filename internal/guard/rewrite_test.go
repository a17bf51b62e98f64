// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package guard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/documesh-dev/documesh/internal/guard"
)

func TestRewrite(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "append where and limit",
			query: "SELECT COUNT(*) FROM submissions",
			want:  "SELECT COUNT(*) FROM submissions WHERE org_id = 'org-123' LIMIT 100",
		},
		{
			name:  "inject into existing where",
			query: "SELECT * FROM submissions WHERE status = 'completed'",
			want:  "SELECT * FROM submissions WHERE org_id = 'org-123' AND status = 'completed' LIMIT 100",
		},
		{
			name:  "lowercase where",
			query: "select id from submissions where document_type = 'resume'",
			want:  "select id from submissions WHERE org_id = 'org-123' AND document_type = 'resume' LIMIT 100",
		},
		{
			name:  "preserve existing limit",
			query: "SELECT * FROM submissions LIMIT 10",
			want:  "SELECT * FROM submissions WHERE org_id = 'org-123' LIMIT 10",
		},
		{
			name:  "before group by",
			query: "SELECT status, COUNT(*) FROM submissions GROUP BY status",
			want:  "SELECT status, COUNT(*) FROM submissions WHERE org_id = 'org-123' GROUP BY status LIMIT 100",
		},
		{
			name:  "before order by and limit",
			query: "SELECT id FROM submissions ORDER BY created_at DESC LIMIT 5",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' ORDER BY created_at DESC LIMIT 5",
		},
		{
			name:  "before offset",
			query: "SELECT id FROM submissions OFFSET 20",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' OFFSET 20 LIMIT 100",
		},
		{
			name:  "strip trailing semicolons",
			query: "  SELECT id FROM submissions;;  ",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' LIMIT 100",
		},
		{
			name:  "parenthesize top-level or",
			query: "SELECT id FROM submissions WHERE status = 'failed' OR status = 'pending' ORDER BY created_at",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' AND (status = 'failed' OR status = 'pending') ORDER BY created_at LIMIT 100",
		},
		{
			name:  "or inside parentheses needs no extra wrap",
			query: "SELECT id FROM submissions WHERE (status = 'failed' OR status = 'pending')",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' AND (status = 'failed' OR status = 'pending') LIMIT 100",
		},
		{
			name:  "or inside literal is not an operator",
			query: "SELECT id FROM submissions WHERE final_data->>'headline' = 'this or that'",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' AND final_data->>'headline' = 'this or that' LIMIT 100",
		},
		{
			name:  "where inside literal is ignored",
			query: "SELECT id FROM submissions ORDER BY final_data->>'where'",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' ORDER BY final_data->>'where' LIMIT 100",
		},
		{
			name:  "limit inside subquery still bounds the outer query",
			query: "SELECT id FROM submissions WHERE id IN (SELECT id FROM submissions ORDER BY created_at LIMIT 5)",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' AND id IN (SELECT id FROM submissions ORDER BY created_at LIMIT 5) LIMIT 100",
		},
		{
			name:  "where inside dollar quote is ignored",
			query: "SELECT $$ where $$ AS x, * FROM submissions",
			want:  "SELECT $$ where $$ AS x, * FROM submissions WHERE org_id = 'org-123' LIMIT 100",
		},
		{
			name:  "where inside tagged dollar quote is ignored",
			query: "SELECT $q$ it's where $q$ AS x FROM submissions",
			want:  "SELECT $q$ it's where $q$ AS x FROM submissions WHERE org_id = 'org-123' LIMIT 100",
		},
		{
			name:  "escaped quote inside escape string",
			query: `SELECT E'\' where ' AS x FROM submissions`,
			want:  `SELECT E'\' where ' AS x FROM submissions WHERE org_id = 'org-123' LIMIT 100`,
		},
		{
			name:  "doubled quote inside literal",
			query: "SELECT 'it''s where' AS x FROM submissions",
			want:  "SELECT 'it''s where' AS x FROM submissions WHERE org_id = 'org-123' LIMIT 100",
		},
		{
			name:  "where inside quoted identifier",
			query: `SELECT id AS "where" FROM submissions`,
			want:  `SELECT id AS "where" FROM submissions WHERE org_id = 'org-123' LIMIT 100`,
		},
		{
			name:  "limit all is bounded",
			query: "SELECT * FROM submissions LIMIT ALL",
			want:  "SELECT * FROM submissions WHERE org_id = 'org-123' LIMIT 100",
		},
		{
			name:  "large limit before offset is bounded",
			query: "SELECT id FROM submissions ORDER BY created_at LIMIT 500 OFFSET 10",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' ORDER BY created_at LIMIT 100 OFFSET 10",
		},
		{
			name:  "small limit with offset kept",
			query: "SELECT id FROM submissions LIMIT 10 OFFSET 5",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' LIMIT 10 OFFSET 5",
		},
		{
			name:  "expression limit is bounded",
			query: "SELECT id FROM submissions LIMIT (10 * 1000)",
			want:  "SELECT id FROM submissions WHERE org_id = 'org-123' LIMIT 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, guard.Rewrite(tt.query, "org-123"))
		})
	}
}

func TestRewrite_EscapesTenantQuotes(t *testing.T) {
	got := guard.Rewrite("SELECT id FROM submissions", "o'brien")
	assert.Equal(t, "SELECT id FROM submissions WHERE org_id = 'o''brien' LIMIT 100", got)
}

func TestRewrite_DoesNotDuplicatePredicate(t *testing.T) {
	got := guard.Rewrite("SELECT * FROM submissions WHERE status = 'completed'", "org-123")
	assert.Equal(t, 1, countOccurrences(got, "org_id = 'org-123'"))
}
