// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package anthropic

import (
	"context"
	"encoding/json"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/provider"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
	"github.com/documesh-dev/documesh/pkg/health"
)

// DefaultMaxTokens bounds a response when the request sets no limit.
const DefaultMaxTokens = 4096

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string
	// NoRetries disables SDK retries.
	NoRetries bool
}

// Provider implements provider.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicsdk.Client
	health *provider.HealthTracker
	log    zerolog.Logger
}

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, dmerr.New(dmerr.CodeProviderRequestInvalid, "anthropic: missing api key", dmerr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.NoRetries {
		opts = append(opts, option.WithMaxRetries(0))
	}

	return &Provider{
		client: anthropicsdk.NewClient(opts...),
		health: provider.MustHealthTracker(provider.DefaultHealthCooldown),
		log:    logging.For("provider.anthropic"),
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Available(_ context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) RecordFailure() { p.health.RecordFailure() }
func (p *Provider) RecordSuccess() { p.health.RecordSuccess() }

func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) Close() error { return nil }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	if req.Model == "" {
		return nil, dmerr.New(dmerr.CodeProviderRequestInvalid, "anthropic: model is required")
	}
	params, err := buildParams(req)
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeProviderRequestInvalid, "anthropic: building request params")
	}

	eventCh := make(chan provider.ChatEvent, 64)
	go func() {
		defer close(eventCh)
		p.streamChat(ctx, params, eventCh)
	}()

	return eventCh, nil
}

func buildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	msgs, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*req.Options.Temperature))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages maps the transcript onto Messages API turns. Assistant
// tool calls become tool_use blocks; consecutive tool results are grouped
// into a single user turn, as the API requires.
func convertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	var result []anthropicsdk.MessageParam
	inToolResults := false

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			inToolResults = false
			result = append(result, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		case provider.MessageRoleAssistant:
			inToolResults = false
			var blocks []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage("{}")
				if tc.Arguments != "" {
					if !json.Valid([]byte(tc.Arguments)) {
						return nil, dmerr.Errorf(dmerr.CodeProviderRequestInvalid, "anthropic: tool call %q has invalid arguments", tc.Name)
					}
					input = json.RawMessage(tc.Arguments)
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropicsdk.NewAssistantMessage(blocks...))
		case provider.MessageRoleTool:
			block := anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			if inToolResults {
				last := &result[len(result)-1]
				last.Content = append(last.Content, block)
				continue
			}
			inToolResults = true
			result = append(result, anthropicsdk.NewUserMessage(block))
		default:
			return nil, dmerr.Errorf(dmerr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: extractSchema(t.InputSchema),
			},
		})
	}
	return result
}

// extractSchema splits a JSON Schema object into the SDK's separate
// Properties and Required fields.
func extractSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	switch req := raw["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

type toolBlock struct {
	id      string
	name    string
	partial string
}

func (p *Provider) streamChat(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	blocks := make(map[int64]*toolBlock)
	usage := &provider.Usage{}

	send := func(ev provider.ChatEvent) bool { return provider.Send(ctx, ch, ev) }

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			usage.InputTokens = int(event.Message.Usage.InputTokens)
			usage.CacheReadTokens = int(event.Message.Usage.CacheReadInputTokens)
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				blocks[event.Index] = &toolBlock{id: event.ContentBlock.ID, name: event.ContentBlock.Name}
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if !send(provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: event.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if b, ok := blocks[event.Index]; ok {
					b.partial += event.Delta.PartialJSON
				}
			}
		case "content_block_stop":
			b, ok := blocks[event.Index]
			if !ok {
				continue
			}
			delete(blocks, event.Index)
			args := b.partial
			if args == "" {
				args = "{}"
			}
			if !send(provider.ChatEvent{
				Type:     provider.EventTypeToolCall,
				ToolCall: &provider.ToolCall{ID: b.id, Name: b.name, Arguments: args},
			}) {
				return
			}
		case "message_delta":
			usage.OutputTokens = int(event.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		p.log.Warn().Err(err).Str("model", string(params.Model)).Msg("stream failed")
		send(provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
		return
	}

	p.health.RecordSuccess()
	send(provider.ChatEvent{Type: provider.EventTypeDone, Usage: usage})
}
