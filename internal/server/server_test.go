// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package server_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documesh-dev/documesh/internal/server"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
	"github.com/documesh-dev/documesh/pkg/health"
)

func TestServer_New_EmptyListenAddr(t *testing.T) {
	_, err := server.New(server.Config{}, server.Deps{})
	require.Error(t, err)
	assert.True(t, dmerr.HasCode(err, dmerr.CodeServerStartFailure), "got %s", dmerr.CodeOf(err))
	assert.Contains(t, err.Error(), "listen address is required")
}

func TestServer_New_MissingDeps(t *testing.T) {
	_, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, server.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization store and agent are required")
}

func TestServer_HealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	report := decode[health.Report](t, w)
	assert.Equal(t, health.StatusOK, report.Status)
	assert.Empty(t, report.Components)
}

func TestServer_HealthReflectsComponents(t *testing.T) {
	tests := []struct {
		name       string
		components []health.Component
		wantCode   int
		wantStatus health.Status
	}{
		{
			name: "degraded provider still serves",
			components: []health.Component{
				{Name: "database", Status: health.StatusOK},
				{Name: "provider:google", Status: health.StatusDegraded},
			},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusDegraded,
		},
		{
			name: "database down",
			components: []health.Component{
				{Name: "database", Status: health.StatusDown, Message: "connection refused"},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withHealth(func(context.Context) []health.Component { return tt.components }))

			w := env.do(t, http.MethodGet, "/health", "", nil)

			assert.Equal(t, tt.wantCode, w.Code)
			report := decode[health.Report](t, w)
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Len(t, report.Components, len(tt.components))
		})
	}
}

func TestServer_HealthNeedsNoAPIKey(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_OpenAPISpecListsRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/openapi.json", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, path := range []string{"/api/v1/chat/stream", "/api/v1/conversations", "/api/v1/conversations/{id}/messages", "/health"} {
		assert.Contains(t, body, path)
	}
	assert.Contains(t, body, "bearer")
}

func TestServer_RequestIDHeader(t *testing.T) {
	env := newTestEnv(t)

	t.Run("generated", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/health", "", nil)
		assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	})

	t.Run("echoed", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/health", "", nil, "X-Request-ID", "req-42")
		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	})

	t.Run("returned in error bodies", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/chat/stream", "", nil, "X-Request-ID", "req-43")
		require.Equal(t, http.StatusUnauthorized, w.Code)
		body := decode[server.ErrorBody](t, w)
		assert.Equal(t, "req-43", body.RequestID)
	})
}

func TestServer_CORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodOptions, "/api/v1/chat/stream", "", nil,
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodPost,
	)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
