// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package google

import (
	"google.golang.org/genai"

	"github.com/documesh-dev/documesh/internal/provider"
)

var (
	ConvertMessages = convertMessages
	ConvertTools    = convertTools
	BuildConfig     = buildConfig
)

func ResponseEvents(resp *genai.GenerateContentResponse) []provider.ChatEvent {
	return responseEvents(resp)
}
