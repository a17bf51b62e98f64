// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package openai

import (
	"context"
	"encoding/json"
	"sort"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/provider"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
	"github.com/documesh-dev/documesh/pkg/health"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint served by OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Config holds configuration for an OpenAI-compatible provider.
type Config struct {
	// Name is the registry name; defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string
	// MaxRetries overrides the SDK retry count when positive; negative
	// disables retries.
	MaxRetries int
}

// OpenRouter returns a Config targeting OpenRouter with the given key.
func OpenRouter(apiKey string) Config {
	return Config{Name: "openrouter", APIKey: apiKey, BaseURL: OpenRouterBaseURL}
}

// Provider implements provider.Provider using the Chat Completions API.
type Provider struct {
	name   string
	client openaisdk.Client
	health *provider.HealthTracker
	log    zerolog.Logger
}

// New creates a new provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	if cfg.APIKey == "" {
		return nil, dmerr.New(dmerr.CodeProviderRequestInvalid, name+": missing api key", dmerr.FieldProvider(name))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	switch {
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	}

	return &Provider{
		name:   name,
		client: openaisdk.NewClient(opts...),
		health: provider.MustHealthTracker(provider.DefaultHealthCooldown),
		log:    logging.For("provider." + name),
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Available(_ context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) RecordFailure() { p.health.RecordFailure() }
func (p *Provider) RecordSuccess() { p.health.RecordSuccess() }

func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) Close() error { return nil }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	if req.Model == "" {
		return nil, dmerr.Errorf(dmerr.CodeProviderRequestInvalid, "%s: model is required", p.name)
	}
	params, err := buildParams(req)
	if err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeProviderRequestInvalid, "%s: building request params", p.name)
	}

	eventCh := make(chan provider.ChatEvent, 64)
	go func() {
		defer close(eventCh)
		p.streamChat(ctx, params, eventCh)
	}()

	return eventCh, nil
}

func buildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := convertMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}
	if req.Options.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Options.Temperature))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages prepends the system prompt and replays assistant tool
// calls so each following tool message answers a known call id.
func convertMessages(msgs []provider.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var result []openaisdk.ChatCompletionMessageParamUnion

	if systemPrompt != "" {
		result = append(result, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, openaisdk.AssistantMessage(msg.Content))
				continue
			}
			assistant := &openaisdk.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = param.NewOpt(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openaisdk.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: argumentsOrEmpty(tc.Arguments),
					},
				})
			}
			result = append(result, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case provider.MessageRoleTool:
			result = append(result, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return nil, dmerr.Errorf(dmerr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		})
	}
	return result
}

func argumentsOrEmpty(args string) string {
	if args == "" || !json.Valid([]byte(args)) {
		return "{}"
	}
	return args
}

// toolAccum collects the streamed fragments of one tool call.
type toolAccum struct {
	index int64
	id    string
	name  string
	args  string
}

type toolAccums map[int64]*toolAccum

func (t toolAccums) add(index int64, id, name, args string) {
	acc, ok := t[index]
	if !ok {
		acc = &toolAccum{index: index}
		t[index] = acc
	}
	if id != "" {
		acc.id = id
	}
	if name != "" {
		acc.name = name
	}
	acc.args += args
}

// drain returns the accumulated calls ordered by stream index and resets t.
func (t toolAccums) drain() []provider.ToolCall {
	accs := make([]*toolAccum, 0, len(t))
	for idx, acc := range t {
		accs = append(accs, acc)
		delete(t, idx)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].index < accs[j].index })

	calls := make([]provider.ToolCall, 0, len(accs))
	for _, acc := range accs {
		calls = append(calls, provider.ToolCall{ID: acc.id, Name: acc.name, Arguments: argumentsOrEmpty(acc.args)})
	}
	return calls
}

func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	pending := toolAccums{}
	var usage *provider.Usage

	flush := func() bool {
		for _, tc := range pending.drain() {
			if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &tc}) {
				return false
			}
		}
		return true
	}

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			delta := choice.Delta
			if delta.Content != "" {
				if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: delta.Content}) {
					return
				}
			}
			for _, tc := range delta.ToolCalls {
				pending.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason == "tool_calls" && !flush() {
				return
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = &provider.Usage{
				InputTokens:     int(chunk.Usage.PromptTokens),
				OutputTokens:    int(chunk.Usage.CompletionTokens),
				CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		p.log.Warn().Err(err).Str("model", string(params.Model)).Msg("stream failed")
		provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()})
		return
	}

	if !flush() {
		return
	}
	p.health.RecordSuccess()
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone, Usage: usage})
}
