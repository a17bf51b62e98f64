// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package mock provides a deterministic, offline provider. It serves the
// "mock LLM" mode of the server and scripted responses in tests.
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/documesh-dev/documesh/internal/provider"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// Name is the registry name of the mock provider.
const Name = "mock"

// CannedAnswer is returned once a script is exhausted, or always when no
// script is configured.
const CannedAnswer = "This is a mock response. No language model was contacted, so no data was queried."

// Step is one scripted completion.
type Step struct {
	Text      string
	ToolCalls []provider.ToolCall
	// Err fails the Chat call itself.
	Err error
	// StreamErr is delivered as an error event after any text.
	StreamErr string
	// Empty produces a completion with neither text nor tool calls.
	Empty bool
	// Block holds the stream open until the request context ends, then
	// reports the context error as an error event.
	Block bool
}

// Provider replays a script of steps, one per Chat call.
type Provider struct {
	mu       sync.Mutex
	script   []Step
	repeat   bool
	next     int
	requests []provider.ChatRequest
}

// Option configures a Provider.
type Option func(*Provider)

// WithScript sets the steps returned by successive Chat calls.
func WithScript(steps ...Step) Option {
	return func(p *Provider) { p.script = append(p.script, steps...) }
}

// WithRepeat replays the last scripted step forever instead of falling
// back to CannedAnswer.
func WithRepeat() Option {
	return func(p *Provider) { p.repeat = true }
}

// New returns a mock provider.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Available(_ context.Context) bool { return true }

func (p *Provider) Close() error { return nil }

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.ChatRequest(nil), p.requests...)
}

// Calls reports how many Chat calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *Provider) step() Step {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.next < len(p.script):
		s := p.script[p.next]
		p.next++
		return s
	case p.repeat && len(p.script) > 0:
		return p.script[len(p.script)-1]
	default:
		return Step{Text: CannedAnswer}
	}
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	req.Messages = append([]provider.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	s := p.step()
	if s.Err != nil {
		return nil, dmerr.Wrap(s.Err, dmerr.CodeProviderUpstreamFailure, "mock: scripted failure")
	}

	ch := make(chan provider.ChatEvent, 8)
	go func() {
		defer close(ch)
		if s.Block {
			<-ctx.Done()
			ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: ctx.Err().Error()}
			return
		}
		if !s.Empty {
			for _, chunk := range splitKeep(s.Text) {
				if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: chunk}) {
					return
				}
			}
			for i := range s.ToolCalls {
				tc := s.ToolCalls[i]
				if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &tc}) {
					return
				}
			}
		}
		if s.StreamErr != "" {
			provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeError, Error: s.StreamErr})
			return
		}
		provider.Send(ctx, ch, provider.ChatEvent{
			Type:  provider.EventTypeDone,
			Usage: &provider.Usage{InputTokens: len(req.Messages), OutputTokens: len(strings.Fields(s.Text))},
		})
	}()
	return ch, nil
}

// splitKeep splits text into deltas at spaces, keeping the separators, so
// the concatenated deltas equal the input.
func splitKeep(text string) []string {
	if text == "" {
		return nil
	}
	return strings.SplitAfter(text, " ")
}
