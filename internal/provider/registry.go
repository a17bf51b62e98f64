// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package provider

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
	"github.com/documesh-dev/documesh/pkg/health"
)

// Registry manages provider registration and routes "provider/model"
// references with health-aware failover. It satisfies Chatter, so the
// agent loop can use it wherever a single provider would do.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string   // "provider/model"
	failover   []string // ordered "provider/model" refs
}

var _ Chatter = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its Name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, dmerr.New(dmerr.CodeProviderNotFound, "provider not found: "+name, dmerr.FieldProvider(name))
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefault sets the ref used when a request names no model.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked(ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// DefaultRef returns the configured default "provider/model" ref.
func (r *Registry) DefaultRef() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultRef
}

// SetFailover sets the ordered failover chain.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked(ref); err != nil {
			return err
		}
	}
	r.failover = slices.Clone(chain)
	return nil
}

// Route selects an available provider for ref ("" or "default" means the
// default ref), walking the failover chain when the primary is unhealthy.
// Providers named in exclude are skipped.
func (r *Registry) Route(ctx context.Context, ref string, exclude []string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ref == "" || ref == "default" {
		ref = r.defaultRef
	}
	if ref == "" {
		return nil, "", dmerr.New(dmerr.CodeProviderNotFound, "no default provider configured")
	}
	if !strings.Contains(ref, "/") {
		return nil, "", dmerr.Errorf(dmerr.CodeProviderInvalidModelRef, "model %q must use provider/model format", ref)
	}

	for _, candidate := range append([]string{ref}, r.failover...) {
		name, model := ParseRef(candidate)
		if slices.Contains(exclude, name) {
			continue
		}
		p, ok := r.providers[name]
		if !ok || !p.Available(ctx) {
			continue
		}
		return p, model, nil
	}

	return nil, "", dmerr.New(dmerr.CodeProviderAllUnavailable, "all providers unavailable: no healthy provider found")
}

// Chat routes req.Model and opens a stream on the first provider that
// accepts the request. A provider whose Chat call fails is marked
// unhealthy and the next candidate is tried.
func (r *Registry) Chat(ctx context.Context, req ChatRequest) (<-chan ChatEvent, error) {
	var (
		tried   []string
		lastErr error
	)
	for {
		p, model, err := r.Route(ctx, req.Model, tried)
		if err != nil {
			if lastErr != nil {
				return nil, dmerr.Join(err, lastErr)
			}
			return nil, err
		}

		routed := req
		routed.Model = model
		ch, err := p.Chat(ctx, routed)
		if err == nil {
			return ch, nil
		}

		if hr, ok := p.(HealthReporter); ok {
			hr.RecordFailure()
		}
		tried = append(tried, p.Name())
		lastErr = dmerr.Wrap(err, dmerr.CodeProviderUpstreamFailure, "chat call failed", dmerr.FieldProvider(p.Name()))
	}
}

// Health reports one component per registered provider.
func (r *Registry) Health() []health.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	components := make([]health.Component, 0, len(r.providers))
	for name, p := range r.providers {
		c := health.Component{Name: "provider:" + name, Status: health.StatusOK}
		if hr, ok := p.(HealthReporter); ok {
			m := hr.HealthMetrics()
			c.Provider = &m
			if !m.Available {
				c.Status = health.StatusDegraded
				c.Message = "cooling down after failure"
			}
		}
		components = append(components, c)
	}
	return components
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return dmerr.Join(errs...)
	}
	return nil
}

// caller holds r.mu.
func (r *Registry) checkRefLocked(ref string) error {
	name, model := ParseRef(ref)
	if model == "" {
		return dmerr.Errorf(dmerr.CodeProviderInvalidModelRef, "model %q must use provider/model format", ref)
	}
	if _, ok := r.providers[name]; !ok {
		return dmerr.New(dmerr.CodeProviderNotFound, "provider not registered: "+name, dmerr.FieldProvider(name))
	}
	return nil
}

// ParseRef splits a "provider/model" reference on the first "/".
func ParseRef(ref string) (providerName, model string) {
	name, model, found := strings.Cut(ref, "/")
	if !found {
		return ref, ""
	}
	return name, model
}
