// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package postgres

var (
	NormalizeValue = normalizeValue
	IsNoRows       = isNoRows
)
