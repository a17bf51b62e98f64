// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package guard

import "context"

// Executor opens execution sessions against the tenant database.
type Executor interface {
	Session(ctx context.Context) (Session, error)
}

// Session is one connection-scoped unit of work. Implementations run it
// inside a read-only transaction so SET LOCAL settings die with it.
type Session interface {
	// Exec runs a statement that returns no rows (session settings).
	Exec(ctx context.Context, sql string) error
	// Query runs sql and returns every row as a column-name map.
	Query(ctx context.Context, sql string) ([]map[string]any, error)
	// Close ends the session, rolling back the transaction.
	Close(ctx context.Context) error
}

// SessionSettings are applied on every session before the guarded query.
var SessionSettings = []string{
	"SET LOCAL statement_timeout = '5s'",
	"SET LOCAL work_mem = '64MB'",
}
