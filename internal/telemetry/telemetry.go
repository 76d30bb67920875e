// Package telemetry provides the shared logging, metrics and tracing
// handle used across the library.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/FerroO2000/elastico"

// Telemetry bundles the logger, meter and tracer of a library component.
// The scope identifies the kind of component (channel, ingress, egress)
// and the name the specific instance.
type Telemetry struct {
	scope string
	name  string

	meter  metric.Meter
	tracer trace.Tracer

	metricAttrs metric.MeasurementOption
}

// NewTelemetry returns a new telemetry handle for the given component.
func NewTelemetry(scope, name string) *Telemetry {
	return &Telemetry{
		scope: scope,
		name:  name,

		meter:  otel.Meter(instrumentationName),
		tracer: otel.Tracer(instrumentationName),

		metricAttrs: metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("name", name),
		),
	}
}

func (t *Telemetry) logArgs(args []any) []any {
	return append([]any{"scope", t.scope, "name", t.name}, args...)
}

// LogInfo logs an info message.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	getLogger().Info(msg, t.logArgs(args)...)
}

// LogWarn logs a warning message.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	getLogger().Warn(msg, t.logArgs(args)...)
}

// LogError logs an error message.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	getLogger().Error(msg, t.logArgs(append([]any{"error", err}, args...))...)
}

// NewCounter registers a monotonic observable counter backed by the given callback.
func (t *Telemetry) NewCounter(name string, callback func() int64) {
	_, err := t.meter.Int64ObservableCounter(
		t.scope+"_"+name,
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(callback(), t.metricAttrs)
			return nil
		}),
	)
	if err != nil {
		t.LogError("failed to create counter", err, "metric", name)
	}
}

// NewUpDownCounter registers a non-monotonic observable counter backed by the given callback.
func (t *Telemetry) NewUpDownCounter(name string, callback func() int64) {
	_, err := t.meter.Int64ObservableUpDownCounter(
		t.scope+"_"+name,
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(callback(), t.metricAttrs)
			return nil
		}),
	)
	if err != nil {
		t.LogError("failed to create up/down counter", err, "metric", name)
	}
}

// Histogram wraps a synchronous int64 histogram.
type Histogram struct {
	inst  metric.Int64Histogram
	attrs metric.MeasurementOption
}

// Record records a value into the histogram.
func (h *Histogram) Record(ctx context.Context, value int64) {
	if h.inst == nil {
		return
	}

	h.inst.Record(ctx, value, h.attrs)
}

// NewHistogram creates a new histogram.
func (t *Telemetry) NewHistogram(name string, opts ...metric.Int64HistogramOption) *Histogram {
	inst, err := t.meter.Int64Histogram(t.scope+"_"+name, opts...)
	if err != nil {
		t.LogError("failed to create histogram", err, "metric", name)
	}

	return &Histogram{
		inst:  inst,
		attrs: t.metricAttrs,
	}
}

// NewTrace starts a new trace span.
func (t *Telemetry) NewTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("scope", t.scope),
		attribute.String("name", t.name),
	))
}

// InjectTrace injects the trace context of ctx into the carrier.
func (t *Telemetry) InjectTrace(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractTrace extracts a trace context from the carrier into ctx.
func (t *Telemetry) ExtractTrace(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
