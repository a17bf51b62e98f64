// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package provider

import (
	"context"
	"strings"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// Completion is one fully collected model response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Turn returns the assistant message that records this completion in the
// running message list, tool calls included.
func (c Completion) Turn() Message {
	return Message{
		Role:      MessageRoleAssistant,
		Content:   c.Text,
		ToolCalls: append([]ToolCall(nil), c.ToolCalls...),
	}
}

// HasText reports whether the model produced any non-blank text.
func (c Completion) HasText() bool {
	return strings.TrimSpace(c.Text) != ""
}

// Complete sends req and drains the event stream into a Completion.
// A stream error event fails the whole completion; partial text is discarded.
func Complete(ctx context.Context, c Chatter, req ChatRequest) (Completion, error) {
	eventCh, err := c.Chat(ctx, req)
	if err != nil {
		return Completion{}, dmerr.Wrapf(err, dmerr.CodeProviderUpstreamFailure, "chat call for model %q", req.Model)
	}

	var (
		buf  strings.Builder
		comp Completion
	)
	for {
		select {
		case <-ctx.Done():
			return Completion{}, dmerr.Wrap(ctx.Err(), dmerr.CodeProviderUpstreamFailure, "completion cancelled")
		case ev, ok := <-eventCh:
			if !ok {
				comp.Text = buf.String()
				return comp, nil
			}
			switch ev.Type {
			case EventTypeTextDelta:
				buf.WriteString(ev.Text)
			case EventTypeToolCall:
				if ev.ToolCall != nil {
					comp.ToolCalls = append(comp.ToolCalls, *ev.ToolCall)
				}
			case EventTypeUsage, EventTypeDone:
				if ev.Usage != nil {
					comp.Usage = *ev.Usage
				}
			case EventTypeError:
				return Completion{}, dmerr.New(dmerr.CodeProviderUpstreamFailure, ev.Error)
			}
		}
	}
}
