// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package guard

import (
	"encoding/json"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// Kind classifies why a guarded query did not produce rows.
type Kind string

const (
	KindNone                          Kind = ""
	KindInvalidInput                  Kind = "InvalidInput"
	KindUnsupportedStatementType      Kind = "UnsupportedStatementType"
	KindProhibitedSyntax              Kind = "ProhibitedSyntax"
	KindForbiddenTableAccess          Kind = "ForbiddenTableAccess"
	KindMissingRequiredTableReference Kind = "MissingRequiredTableReference"
	KindExecutionTimeout              Kind = "ExecutionTimeout"
	KindExecutionSyntaxError          Kind = "ExecutionSyntaxError"
	KindExecutionGenericFailure       Kind = "ExecutionGenericFailure"
)

// User-facing messages. Execution messages never include driver text.
const (
	MsgInvalidQuery      = "Invalid query parameter"
	MsgQueryTooLong      = "Query too long. Maximum 2000 characters."
	MsgSelectOnly        = "Only SELECT queries are allowed"
	MsgProhibitedSyntax  = "Query contains prohibited syntax"
	MsgMissingTable      = "Query must reference the submissions table"
	MsgForbiddenTableFmt = "Access to %s table is not allowed"
	MsgExecSyntax        = "Invalid query syntax. Please check your SQL."
	MsgExecTimeout       = "Query execution timeout. Please simplify your query."
	MsgExecFailed        = "Query execution failed. Please try again."
)

var kindCodes = map[Kind]dmerr.Code{
	KindInvalidInput:                  dmerr.CodeGuardInvalidInput,
	KindUnsupportedStatementType:      dmerr.CodeGuardStatementForbidden,
	KindProhibitedSyntax:              dmerr.CodeGuardSyntaxProhibited,
	KindForbiddenTableAccess:          dmerr.CodeGuardTableForbidden,
	KindMissingRequiredTableReference: dmerr.CodeGuardTableMissing,
	KindExecutionTimeout:              dmerr.CodeGuardExecutionTimeout,
	KindExecutionSyntaxError:          dmerr.CodeGuardExecutionSyntax,
	KindExecutionGenericFailure:       dmerr.CodeGuardExecutionFailure,
}

// Result is the tagged outcome of one guarded query: either rows and their
// count, or a sanitized error message with its Kind.
type Result struct {
	Rows  []map[string]any
	Count int
	Error string
	Kind  Kind

	// Statement is the rewritten SQL that was executed, if any.
	Statement string
}

// OK reports whether the query executed and returned rows.
func (r Result) OK() bool { return r.Error == "" }

// Err converts a failed Result into a coded error for logs and HTTP
// responses. It returns nil for a successful Result.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	code, ok := kindCodes[r.Kind]
	if !ok {
		code = dmerr.CodeGuardExecutionFailure
	}
	return dmerr.New(code, r.Error, dmerr.Field("kind", string(r.Kind)))
}

// MarshalJSON encodes the shape the model sees as the tool result:
// {"rows": [...], "count": n} or {"error": "..."}.
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.OK() {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
	rows := r.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return json.Marshal(struct {
		Rows  []map[string]any `json:"rows"`
		Count int              `json:"count"`
	}{rows, r.Count})
}

func reject(kind Kind, msg string) Result {
	return Result{Kind: kind, Error: msg}
}
