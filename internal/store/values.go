// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NormalizeValue converts a driver value into one that marshals to
// readable JSON: UUIDs become canonical strings, byte slices become text,
// times are UTC.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case [16]byte:
		return uuid.UUID(val).String()
	case uuid.UUID:
		return val.String()
	case json.RawMessage:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}

// NormalizeRow applies NormalizeValue to every column of row in place.
func NormalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		row[k] = NormalizeValue(v)
	}
	return row
}
