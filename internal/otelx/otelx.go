// Package otelx wires the ambient OpenTelemetry instruments shared
// across the transport, pool, and live-query layers. All instruments
// are nil-safe: a zero-value Instruments is a valid no-op, so callers
// that never configure a MeterProvider/TracerProvider pay no cost and
// need no nil checks of their own.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/surrealgo/surreal"

// Instruments bundles the metrics and tracer used to observe RPC
// dispatch, reconnects, and live-subscription lifecycle. The zero
// value works: every method degrades to a no-op when its underlying
// instrument is nil.
type Instruments struct {
	tracer trace.Tracer

	rpcDuration       metric.Float64Histogram
	reconnectAttempts metric.Int64Counter
	liveSubscriptions metric.Int64UpDownCounter
}

// New builds Instruments from the given providers. Passing nil for
// either uses otel's global no-op provider, so New(nil, nil) is always
// safe and produces a fully functional no-op Instruments.
func New(mp metric.MeterProvider, tp trace.TracerProvider) *Instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)

	in := &Instruments{tracer: tp.Tracer(instrumentationName)}
	in.rpcDuration, _ = meter.Float64Histogram(
		"surreal.rpc.duration",
		metric.WithDescription("Duration of an RPC round trip, in seconds"),
		metric.WithUnit("s"),
	)
	in.reconnectAttempts, _ = meter.Int64Counter(
		"surreal.transport.reconnect_attempts",
		metric.WithDescription("Count of stateful transport reconnect attempts"),
	)
	in.liveSubscriptions, _ = meter.Int64UpDownCounter(
		"surreal.livequery.active_subscriptions",
		metric.WithDescription("Number of currently active live-query subscriptions"),
	)
	return in
}

// StartRPCSpan opens a span around one RPC dispatch. Callers defer the
// returned func, which both ends the span and records rpc.duration.
// A nil Instruments (or one built without a real tracer) still returns
// a usable, inert span/end pair.
func (in *Instruments) StartRPCSpan(ctx context.Context, method string) (context.Context, func(err error)) {
	if in == nil || in.tracer == nil {
		return ctx, func(error) {}
	}
	start := time.Now()
	ctx, span := in.tracer.Start(ctx, "surreal.rpc/"+method, trace.WithAttributes(
		attribute.String("rpc.method", method),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if in.rpcDuration != nil {
			in.rpcDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				attribute.String("rpc.method", method),
				attribute.Bool("rpc.error", err != nil),
			))
		}
	}
}

// RecordReconnectAttempt increments the reconnect-attempt counter.
func (in *Instruments) RecordReconnectAttempt(ctx context.Context, succeeded bool) {
	if in == nil || in.reconnectAttempts == nil {
		return
	}
	in.reconnectAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("reconnect.succeeded", succeeded),
	))
}

// SubscriptionOpened increments the active-live-subscriptions gauge.
func (in *Instruments) SubscriptionOpened(ctx context.Context) {
	if in == nil || in.liveSubscriptions == nil {
		return
	}
	in.liveSubscriptions.Add(ctx, 1)
}

// SubscriptionClosed decrements the active-live-subscriptions gauge.
func (in *Instruments) SubscriptionClosed(ctx context.Context) {
	if in == nil || in.liveSubscriptions == nil {
		return
	}
	in.liveSubscriptions.Add(ctx, -1)
}
