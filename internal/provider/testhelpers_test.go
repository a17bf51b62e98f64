// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package provider_test

import (
	"context"
	"sync"

	"github.com/documesh-dev/documesh/internal/provider"
	"github.com/documesh-dev/documesh/pkg/health"
)

// fakeProvider is a reusable provider.Provider for registry tests.
type fakeProvider struct {
	name      string
	available bool
	events    []provider.ChatEvent
	chatErr   error

	mu       sync.Mutex
	requests []provider.ChatRequest
	tracker  *provider.HealthTracker
}

func newFakeProvider(name string, available bool) *fakeProvider {
	return &fakeProvider{
		name:      name,
		available: available,
		events: []provider.ChatEvent{
			{Type: provider.EventTypeTextDelta, Text: "hello"},
			{Type: provider.EventTypeUsage, Usage: &provider.Usage{InputTokens: 10, OutputTokens: 5}},
			{Type: provider.EventTypeDone},
		},
		tracker: provider.MustHealthTracker(provider.DefaultHealthCooldown),
	}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Available(context.Context) bool {
	return f.available && f.tracker.IsHealthy()
}

func (f *fakeProvider) Chat(_ context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.chatErr != nil {
		return nil, f.chatErr
	}
	ch := make(chan provider.ChatEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) RecordFailure()                { f.tracker.RecordFailure() }
func (f *fakeProvider) RecordSuccess()                { f.tracker.RecordSuccess() }
func (f *fakeProvider) HealthMetrics() health.Metrics { return f.tracker.HealthMetrics() }

func (f *fakeProvider) calls() []provider.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.ChatRequest(nil), f.requests...)
}
