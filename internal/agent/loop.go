// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package agent runs the bounded tool-calling loop that answers tenant
// questions about their documents.
package agent

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/provider"
	"github.com/documesh-dev/documesh/internal/telemetry"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// MaxSteps bounds the completion calls made for one chat.
const MaxSteps = 20

// Role is the speaker of a history turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Turn is one prior message of a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatRequest is the input of one chat invocation.
type ChatRequest struct {
	Message string
	History []Turn
	OrgID   string
}

// Loop drives completion calls and tool executions until the model answers
// in text or the step budget runs out.
type Loop struct {
	chatter  provider.Chatter
	tools    *Toolset
	model    string
	prompt   string
	maxSteps int
	log      zerolog.Logger
	inst     *telemetry.Instruments
	nowFunc  func() time.Time
	newID    func() string
}

// Option configures a Loop.
type Option func(*Loop)

// WithModel sets the model reference sent with each completion. Empty
// leaves routing to the chatter's default.
func WithModel(ref string) Option { return func(l *Loop) { l.model = ref } }

func WithMaxSteps(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxSteps = n
		}
	}
}

func WithSystemPrompt(p string) Option { return func(l *Loop) { l.prompt = p } }

func WithLogger(log zerolog.Logger) Option { return func(l *Loop) { l.log = log } }

func WithInstruments(inst *telemetry.Instruments) Option {
	return func(l *Loop) { l.inst = inst }
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.nowFunc = now } }

// WithRequestIDs overrides request id generation (for testing).
func WithRequestIDs(gen func() string) Option { return func(l *Loop) { l.newID = gen } }

// New creates a Loop calling chatter and dispatching to tools.
func New(chatter provider.Chatter, tools *Toolset, opts ...Option) *Loop {
	l := &Loop{
		chatter:  chatter,
		tools:    tools,
		prompt:   SystemPrompt(),
		maxSteps: MaxSteps,
		log:      logging.For("agent-service"),
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.inst == nil {
		l.inst = telemetry.Global()
	}
	return l
}

// Chat answers req.Message as a stream of text chunks. A completion
// failure ends the stream with an error; stopping iteration stops the loop
// before any further completion call.
func (l *Loop) Chat(ctx context.Context, req ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := validateRequest(req); err != nil {
			yield("", err)
			return
		}

		requestID := logging.RequestID(ctx)
		if requestID == "" {
			requestID = l.newID()
			ctx = logging.WithRequestID(ctx, requestID)
		}
		log := l.log.With().Str("request_id", requestID).Str("org_id", req.OrgID).Logger()
		inv := Invocation{OrgID: req.OrgID, RequestID: requestID}
		start := l.nowFunc()

		messages := buildMessages(req)
		log.Info().
			Int("message_length", len(req.Message)).
			Int("history_count", len(req.History)).
			Msg("starting chat")

		for step := range l.maxSteps {
			comp, err := l.step(ctx, log, step, messages)
			if err != nil {
				yield("", err)
				return
			}

			switch {
			case comp.HasText():
				for _, chunk := range WordChunks(comp.Text) {
					if !yield(chunk, nil) {
						log.Info().Int("step", step).Msg("consumer stopped reading")
						return
					}
				}
				log.Info().
					Int("step", step).
					Int64("duration_ms", l.since(start)).
					Msg("chat completed with text")
				return

			case len(comp.ToolCalls) > 0:
				messages = append(messages, comp.Turn())
				for _, call := range comp.ToolCalls {
					messages = append(messages, l.runTool(ctx, log, step, inv, call))
				}
				log.Info().Int("step", step).Int("tool_call_count", len(comp.ToolCalls)).Msg("continuing after tool calls")
				if step >= l.maxSteps-2 {
					log.Warn().Int("step", step).Int("max_steps", l.maxSteps).Msg("approaching max steps after tool call")
				}

			default:
				log.Warn().Int("step", step).Msg("completion carried neither text nor tool calls")
				yield(FallbackMessage, nil)
				return
			}
		}

		log.Warn().
			Int("max_steps", l.maxSteps).
			Int("message_count", len(messages)).
			Int64("duration_ms", l.since(start)).
			Msg("reached max steps without a text response")
		yield(FallbackMessage, nil)
	}
}

func (l *Loop) step(ctx context.Context, log zerolog.Logger, step int, messages []provider.Message) (provider.Completion, error) {
	ctx, span := l.inst.Tracer.Start(ctx, "agent.step", trace.WithAttributes(telemetry.StepAttr(step)))
	defer span.End()
	l.inst.Steps.Add(ctx, 1)

	log.Info().Int("step", step).Int("message_count", len(messages)).Msg("agent step starting")
	start := l.nowFunc()

	comp, err := provider.Complete(ctx, l.chatter, provider.ChatRequest{
		Model:        l.model,
		Messages:     messages,
		Tools:        l.tools.Definitions(),
		SystemPrompt: l.prompt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		log.Error().Err(err).Int("step", step).Msg("completion failed")
		return provider.Completion{}, dmerr.With(err, dmerr.FieldRequestID(logging.RequestID(ctx)), dmerr.Field("step", step))
	}

	log.Info().
		Int("step", step).
		Int("tool_calls", len(comp.ToolCalls)).
		Bool("has_text", comp.HasText()).
		Int("text_length", len(comp.Text)).
		Int64("duration_ms", l.since(start)).
		Msg("agent step finished")
	return comp, nil
}

func (l *Loop) runTool(ctx context.Context, log zerolog.Logger, step int, inv Invocation, call provider.ToolCall) provider.Message {
	ctx, span := l.inst.Tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		telemetry.StepAttr(step),
		telemetry.ToolAttr(call.Name),
	))
	defer span.End()
	l.inst.ToolCalls.Add(ctx, 1, metric.WithAttributes(telemetry.ToolAttr(call.Name)))

	start := l.nowFunc()
	content, err := l.tools.Dispatch(ctx, inv, call)
	ev := log.Info()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dmerr.CodeOf(err)))
		ev = log.Warn().Err(err)
	}
	ev.Int("step", step).
		Str("tool", call.Name).
		Int64("duration_ms", l.since(start)).
		Msg("tool call finished")

	return provider.Message{
		Role:       provider.MessageRoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

func (l *Loop) since(start time.Time) int64 {
	return l.nowFunc().Sub(start).Milliseconds()
}

func validateRequest(req ChatRequest) error {
	if req.OrgID == "" {
		return dmerr.New(dmerr.CodeAgentLoopInvalidInput, "organization id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return dmerr.New(dmerr.CodeAgentLoopInvalidInput, "message is required", dmerr.FieldOrgID(req.OrgID))
	}
	return nil
}

// buildMessages keeps the user and model turns of the history and appends
// the new message last.
func buildMessages(req ChatRequest) []provider.Message {
	msgs := make([]provider.Message, 0, len(req.History)+1)
	for _, turn := range req.History {
		switch turn.Role {
		case RoleUser:
			msgs = append(msgs, provider.Message{Role: provider.MessageRoleUser, Content: turn.Text})
		case RoleModel:
			msgs = append(msgs, provider.Message{Role: provider.MessageRoleAssistant, Content: turn.Text})
		}
	}
	return append(msgs, provider.Message{Role: provider.MessageRoleUser, Content: req.Message})
}

// WordChunks splits text on single spaces, keeping the space on every
// chunk but the last, so the chunks concatenate back to text.
func WordChunks(text string) []string {
	words := strings.Split(text, " ")
	for i := range len(words) - 1 {
		words[i] += " "
	}
	return words
}
