// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/documesh-dev/documesh/pkg/health"
)

// HealthResponse wraps the health check response. A down component turns
// the status into 503.
type HealthResponse struct {
	Status int
	Body   health.Report
}

func (s *Server) registerHealth() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*HealthResponse, error) {
		var components []health.Component
		if s.deps.Health != nil {
			components = s.deps.Health(ctx)
		}
		report := health.Aggregate(s.nowFunc(), components...)

		status := http.StatusOK
		if report.Status == health.StatusDown {
			status = http.StatusServiceUnavailable
		}
		return &HealthResponse{Status: status, Body: report}, nil
	})
}
