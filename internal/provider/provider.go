// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package provider

import (
	"context"

	"github.com/documesh-dev/documesh/pkg/health"
)

// Chatter is the minimal completion surface consumed by the agent loop.
// Both a single Provider and the Registry satisfy it.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error)
}

// Provider is the core interface for LLM providers.
type Provider interface {
	Chatter
	Name() string
	Available(ctx context.Context) bool
	Close() error
}

// HealthReporter is implemented by providers that track their own health
// so the registry can record outcomes during failover.
type HealthReporter interface {
	RecordFailure()
	RecordSuccess()
	HealthMetrics() health.Metrics
}

// ChatRequest represents a request to the LLM.
type ChatRequest struct {
	// Model is either a bare model id (single provider) or a
	// "provider/model" reference when sent through the Registry.
	Model        string
	Messages     []Message
	Tools        []ToolDefinition
	SystemPrompt string
	Options      ChatOptions
}

// ChatOptions contains model configuration.
type ChatOptions struct {
	Temperature *float32
	MaxTokens   int
}

// Message represents a conversation message.
//
// An assistant message may carry ToolCalls; each following tool message
// answers one of them by ToolCallID.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// ToolDefinition describes a tool available to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatEvent is a streaming response event.
type ChatEvent struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
	Error    string
}

// EventType defines the type of chat event.
type EventType string

const (
	EventTypeTextDelta EventType = "text_delta"
	EventTypeToolCall  EventType = "tool_call"
	EventTypeUsage     EventType = "usage"
	EventTypeDone      EventType = "done"
	EventTypeError     EventType = "error"
)

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON

	// Signature is an opaque provider token that must be replayed with the
	// call on the next request (Gemini thought signatures).
	Signature []byte
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	CacheReadTokens int
}

// Send delivers ev on ch unless ctx is cancelled first. Provider stream
// goroutines use it so an abandoned consumer does not leak them.
func Send(ctx context.Context, ch chan<- ChatEvent, ev ChatEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
