// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package logging

import "context"

type requestIDKey struct{}

// WithRequestID returns a context carrying the request id that log lines
// emitted below it should be tagged with.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
