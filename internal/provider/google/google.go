// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package google

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/provider"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
	"github.com/documesh-dev/documesh/pkg/health"
)

// DefaultModel is used when a request names no model.
const DefaultModel = "gemini-2.5-flash"

// Config holds Google provider configuration.
type Config struct {
	APIKey string
}

const (
	roleUser  = "user"
	roleModel = "model"
)

// Provider implements provider.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	health *provider.HealthTracker
	log    zerolog.Logger
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, dmerr.New(dmerr.CodeProviderRequestInvalid, "google: missing api key", dmerr.FieldProvider("google"))
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	return &Provider{
		client: client,
		health: provider.MustHealthTracker(provider.DefaultHealthCooldown),
		log:    logging.For("provider.google"),
	}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Available(_ context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) RecordFailure() { p.health.RecordFailure() }
func (p *Provider) RecordSuccess() { p.health.RecordSuccess() }

func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) Close() error { return nil }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeProviderRequestInvalid, "google: converting messages")
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	eventCh := make(chan provider.ChatEvent, 64)
	go func() {
		defer close(eventCh)
		p.streamChat(ctx, model, contents, buildConfig(req), eventCh)
	}()

	return eventCh, nil
}

func buildConfig(req provider.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.Options.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Options.Temperature)
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertTools(req.Tools)
	}

	return cfg
}

// convertMessages maps the provider transcript onto Gemini contents.
// Assistant turns become "model" contents and replay their function calls
// with the original thought signature. Tool results travel as
// FunctionResponse parts on a "user" content; consecutive results share
// one content.
func convertMessages(msgs []provider.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, &genai.Content{
				Role:  roleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case provider.MessageRoleAssistant:
			content := &genai.Content{Role: roleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, dmerr.Wrapf(err, dmerr.CodeProviderRequestInvalid, "google: decoding arguments of tool call %q", tc.Name)
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: args,
					},
					ThoughtSignature: tc.Signature,
				})
			}
			if len(content.Parts) == 0 {
				continue
			}
			result = append(result, content)
		case provider.MessageRoleTool:
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolName,
					Response: toolResponse(msg.Content),
				},
			}
			if n := len(result); n > 0 && isToolResponse(result[n-1]) {
				result[n-1].Parts = append(result[n-1].Parts, part)
				continue
			}
			result = append(result, &genai.Content{Role: roleUser, Parts: []*genai.Part{part}})
		default:
			return nil, dmerr.Errorf(dmerr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// toolResponse keeps JSON object results structured and wraps anything
// else under "result".
func toolResponse(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"result": content}
}

func isToolResponse(c *genai.Content) bool {
	if c.Role != roleUser || len(c.Parts) == 0 {
		return false
	}
	for _, part := range c.Parts {
		if part.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func convertTools(tools []provider.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (p *Provider) streamChat(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.ChatEvent,
) {
	var usage *provider.Usage

	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			p.health.RecordFailure()
			p.log.Warn().Err(err).Str("model", model).Msg("stream failed")
			provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
			return
		}

		for _, ev := range responseEvents(result) {
			if !provider.Send(ctx, ch, ev) {
				return
			}
		}

		if result.UsageMetadata != nil {
			usage = &provider.Usage{
				InputTokens:     int(result.UsageMetadata.PromptTokenCount),
				OutputTokens:    int(result.UsageMetadata.CandidatesTokenCount),
				CacheReadTokens: int(result.UsageMetadata.CachedContentTokenCount),
			}
		}
	}

	p.health.RecordSuccess()
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone, Usage: usage})
}

// responseEvents converts one streamed chunk into text and tool call events.
// Thought parts are skipped.
func responseEvents(resp *genai.GenerateContentResponse) []provider.ChatEvent {
	var events []provider.ChatEvent
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				events = append(events, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: part.Text})
			}
			if part.FunctionCall == nil {
				continue
			}
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				events = append(events, provider.ChatEvent{
					Type:  provider.EventTypeError,
					Error: "google: encoding arguments of tool call " + part.FunctionCall.Name + ": " + err.Error(),
				})
				return events
			}
			events = append(events, provider.ChatEvent{
				Type: provider.EventTypeToolCall,
				ToolCall: &provider.ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
					Signature: part.ThoughtSignature,
				},
			})
		}
	}
	return events
}
