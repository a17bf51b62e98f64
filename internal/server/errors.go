// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package server

import (
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/documesh-dev/documesh/internal/logging"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// ErrorBody is the JSON error envelope of non-huma routes.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// publicError maps err to a status and a message safe to return to
// clients. Server-side failures never echo internal error text.
func publicError(err error) (int, string) {
	status := dmerr.HTTPStatus(err)
	switch {
	case status == http.StatusBadGateway:
		return status, "The assistant is temporarily unavailable. Please try again."
	case status == http.StatusGatewayTimeout:
		return status, "The request timed out. Please try again."
	case status >= http.StatusInternalServerError:
		return http.StatusInternalServerError, "Internal server error"
	default:
		return status, err.Error()
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := publicError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Error:     msg,
		Code:      string(dmerr.CodeOf(err)),
		RequestID: logging.RequestID(r.Context()),
	})
}

// humaError converts a service error for huma handlers.
func humaError(err error) error {
	status, msg := publicError(err)
	return huma.NewError(status, msg)
}
