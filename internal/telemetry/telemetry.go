// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package telemetry wires OpenTelemetry tracing and metrics. When export is
// disabled the global no-op providers stay in place and every instrument is
// still safe to call.
package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

const instrumentationName = "github.com/documesh-dev/documesh"

// Config selects the OTLP gRPC collector.
type Config struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
}

// Telemetry owns the SDK providers installed by Setup.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup installs OTLP trace and metric exporters as the global providers.
// A disabled config returns a Telemetry whose Shutdown is a no-op.
func Setup(ctx context.Context, cfg Config, log zerolog.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		log.Debug().Msg("telemetry export disabled")
		return &Telemetry{}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeTelemetrySetupFailure, "building telemetry resource")
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, dmerr.Wrap(err, dmerr.CodeTelemetrySetupFailure, "creating trace exporter")
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, dmerr.Wrap(err, dmerr.CodeTelemetrySetupFailure, "creating metric exporter")
	}

	t := &Telemetry{
		tracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		),
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(30*time.Second))),
		),
	}
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	log.Info().Str("endpoint", cfg.Endpoint).Bool("insecure", cfg.Insecure).Msg("telemetry export enabled")
	return t, nil
}

// Shutdown flushes and stops the SDK providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return dmerr.Join(errs...)
	}
	return nil
}

// Instruments are the spans and metrics emitted by the agent loop and the
// query guard.
type Instruments struct {
	Tracer        trace.Tracer
	Steps         metric.Int64Counter
	ToolCalls     metric.Int64Counter
	Rejections    metric.Int64Counter
	QueryDuration metric.Float64Histogram
}

// NewInstruments creates the instrument set from explicit providers.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(instrumentationName)

	steps, err := meter.Int64Counter("agent.steps",
		metric.WithDescription("Model round trips performed by the agent loop"))
	if err != nil {
		return nil, setupErr(err, "agent.steps")
	}
	toolCalls, err := meter.Int64Counter("agent.tool_calls",
		metric.WithDescription("Tool invocations dispatched by the agent loop"))
	if err != nil {
		return nil, setupErr(err, "agent.tool_calls")
	}
	rejections, err := meter.Int64Counter("guard.rejections",
		metric.WithDescription("Queries rejected or failed by the query guard"))
	if err != nil {
		return nil, setupErr(err, "guard.rejections")
	}
	duration, err := meter.Float64Histogram("guard.query.duration",
		metric.WithDescription("Wall-clock duration of guarded query execution"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, setupErr(err, "guard.query.duration")
	}

	return &Instruments{
		Tracer:        tp.Tracer(instrumentationName),
		Steps:         steps,
		ToolCalls:     toolCalls,
		Rejections:    rejections,
		QueryDuration: duration,
	}, nil
}

// Global returns instruments bound to the current global providers.
// Instrument creation against the global providers does not fail.
func Global() *Instruments {
	inst, err := NewInstruments(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return inst
}

// Attr helpers keep attribute keys consistent across packages.
func OrgAttr(orgID string) attribute.KeyValue { return attribute.String("documesh.org_id", orgID) }
func StepAttr(step int) attribute.KeyValue { return attribute.Int("documesh.agent.step", step) }
func ToolAttr(name string) attribute.KeyValue { return attribute.String("documesh.tool", name) }
func KindAttr(kind string) attribute.KeyValue { return attribute.String("documesh.guard.kind", kind) }

func setupErr(err error, name string) error {
	return dmerr.Wrapf(err, dmerr.CodeTelemetrySetupFailure, "creating instrument %s", name)
}
