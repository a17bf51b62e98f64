// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package guard validates, tenant-scopes and executes model-written SQL
// against the submissions table. Every outcome is returned as a Result;
// nothing escapes as an error.
package guard

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/documesh-dev/documesh/internal/logging"
	"github.com/documesh-dev/documesh/internal/telemetry"
)

// DefaultSlowQueryThreshold is the duration above which an executed query
// is logged as slow.
const DefaultSlowQueryThreshold = 2 * time.Second

// Guard runs candidate queries through validation, screening, rewriting
// and execution.
type Guard struct {
	exec    Executor
	log     zerolog.Logger
	inst    *telemetry.Instruments
	slowAt  time.Duration
	nowFunc func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

func WithLogger(l zerolog.Logger) Option { return func(g *Guard) { g.log = l } }

func WithInstruments(inst *telemetry.Instruments) Option {
	return func(g *Guard) { g.inst = inst }
}

func WithSlowQueryThreshold(d time.Duration) Option {
	return func(g *Guard) { g.slowAt = d }
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option { return func(g *Guard) { g.nowFunc = now } }

// New creates a Guard executing through exec.
func New(exec Executor, opts ...Option) *Guard {
	g := &Guard{
		exec:    exec,
		log:     logging.For("query-guard"),
		slowAt:  DefaultSlowQueryThreshold,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.inst == nil {
		g.inst = telemetry.Global()
	}
	return g
}

// Execute validates query, scopes it to tenantID and runs it. The returned
// Result carries either rows or a sanitized error.
func (g *Guard) Execute(ctx context.Context, query, tenantID string) Result {
	ctx, span := g.inst.Tracer.Start(ctx, "guard.execute", trace.WithAttributes(telemetry.OrgAttr(tenantID)))
	defer span.End()

	log := g.log.With().
		Str("org_id", tenantID).
		Str("request_id", logging.RequestID(ctx)).
		Logger()

	res := g.execute(ctx, log, query, tenantID)

	if !res.OK() {
		g.inst.Rejections.Add(ctx, 1, metric.WithAttributes(telemetry.KindAttr(string(res.Kind))))
		span.SetAttributes(telemetry.KindAttr(string(res.Kind)))
		span.SetStatus(codes.Error, res.Error)
	} else {
		span.SetAttributes(attribute.Int("documesh.guard.rows", res.Count))
	}
	return res
}

func (g *Guard) execute(ctx context.Context, log zerolog.Logger, query, tenantID string) Result {
	// Validating + Screening
	if tenantID == "" {
		log.Error().Msg("guarded query without tenant scope")
		return reject(KindInvalidInput, MsgInvalidQuery)
	}
	if v := screen(query); v != nil {
		log.Warn().
			Str("kind", string(v.kind)).
			Str("matched", v.matched).
			Str("query", query).
			Msg("query rejected")
		return reject(v.kind, v.message)
	}

	// Rewriting
	scoped := Rewrite(query, tenantID)
	log.Info().
		Str("original_query", query).
		Str("scoped_query", scoped).
		Msg("query transformed with org scoping")

	// Executing
	sess, err := g.exec.Session(ctx)
	if err != nil {
		log.Error().Err(err).Msg("opening query session failed")
		return g.failed(sanitize(err), scoped)
	}
	defer func() {
		if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn().Err(cerr).Msg("closing query session failed")
		}
	}()

	for _, setting := range SessionSettings {
		if err := sess.Exec(ctx, setting); err != nil {
			log.Error().Err(err).Str("setting", setting).Msg("applying session guard failed")
			return g.failed(sanitize(err), scoped)
		}
	}

	start := g.nowFunc()
	rows, err := sess.Query(ctx, scoped)
	elapsed := g.nowFunc().Sub(start)
	g.inst.QueryDuration.Record(ctx, float64(elapsed.Microseconds())/1000)

	if err != nil {
		log.Error().Err(err).Str("scoped_query", scoped).Dur("duration", elapsed).Msg("query execution failed")
		return g.failed(sanitize(err), scoped)
	}

	if len(rows) > RowLimit {
		log.Warn().Int("count", len(rows)).Int("row_limit", RowLimit).Msg("truncating rows above the row limit")
		rows = rows[:RowLimit]
	}

	if elapsed > g.slowAt {
		log.Warn().Str("query", query).Int64("duration_ms", elapsed.Milliseconds()).Msg("slow query detected")
	}
	log.Info().Int("count", len(rows)).Int64("duration_ms", elapsed.Milliseconds()).Msg("query executed")

	return Result{Rows: rows, Count: len(rows), Statement: scoped}
}

func (g *Guard) failed(res Result, statement string) Result {
	res.Statement = statement
	return res
}
