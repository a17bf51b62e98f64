// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package openai

var (
	ConvertMessages = convertMessages
	BuildParams     = buildParams
)
