// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package anthropic

var (
	ConvertMessages = convertMessages
	ConvertTools    = convertTools
	BuildParams     = buildParams
)
