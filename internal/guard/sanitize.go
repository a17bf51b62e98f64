// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package guard

import (
	"context"
	"errors"
	"strings"
)

// sqlStater is implemented by pgconn.PgError.
type sqlStater interface {
	SQLState() string
}

// sanitize maps a driver error onto a fixed user-facing message. The
// driver text is never returned.
func sanitize(err error) Result {
	var st sqlStater
	if errors.As(err, &st) {
		switch code := st.SQLState(); {
		case code == "57014":
			return reject(KindExecutionTimeout, MsgExecTimeout)
		case strings.HasPrefix(code, "42"):
			return reject(KindExecutionSyntaxError, MsgExecSyntax)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "column", "table", "relation", "syntax"):
		return reject(KindExecutionSyntaxError, MsgExecSyntax)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		containsAny(msg, "timeout", "cancel"):
		return reject(KindExecutionTimeout, MsgExecTimeout)
	default:
		return reject(KindExecutionGenericFailure, MsgExecFailed)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
