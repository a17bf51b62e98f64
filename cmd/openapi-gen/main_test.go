// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSpec(t *testing.T) {
	spec, err := generateSpec()
	require.NoError(t, err)

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(spec, &doc))
	assert.Contains(t, doc.OpenAPI, "3.1")

	for path, methods := range map[string][]string{
		"/health":                             {"get"},
		"/api/v1/chat/stream":                 {"post"},
		"/api/v1/conversations":               {"get", "post"},
		"/api/v1/conversations/{id}":          {"get", "patch", "delete"},
		"/api/v1/conversations/{id}/messages": {"get"},
	} {
		require.Contains(t, doc.Paths, path)
		for _, m := range methods {
			assert.Contains(t, doc.Paths[path], m, "%s %s", m, path)
		}
	}
}

func TestWrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "spec.json")

	require.NoError(t, write(out))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
}
