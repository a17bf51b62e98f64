// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package health

import (
	"slices"
	"strings"
	"time"
)

// Metrics exposes the current health state of a provider. All fields are
// point-in-time snapshots safe to serialize to JSON.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}

// Status is the coarse state of a component or of the whole service.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Component is the health of one dependency (database, LLM provider).
type Component struct {
	Name     string   `json:"name"`
	Status   Status   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Provider *Metrics `json:"provider,omitempty"`
}

// Report is the aggregated health document served on /health.
type Report struct {
	Status     Status      `json:"status"`
	Components []Component `json:"components"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Aggregate builds a Report whose overall status is the worst component
// status. Components are sorted by name.
func Aggregate(now time.Time, components ...Component) Report {
	sorted := slices.Clone(components)
	slices.SortFunc(sorted, func(a, b Component) int { return strings.Compare(a.Name, b.Name) })

	overall := StatusOK
	for _, c := range sorted {
		if rank(c.Status) > rank(overall) {
			overall = c.Status
		}
	}
	if sorted == nil {
		sorted = []Component{}
	}
	return Report{Status: overall, Components: sorted, CheckedAt: now.UTC()}
}

func rank(s Status) int {
	switch s {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}
