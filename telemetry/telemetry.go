// Package telemetry provides OpenTelemetry initialization for the library.
package telemetry

import (
	"context"
	"net"
	"time"

	internaltel "github.com/FerroO2000/elastico/internal/telemetry"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultCollectorEndpoint is the default OTLP collector endpoint.
const DefaultCollectorEndpoint = "localhost:4317"

var (
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	traceRatio = 0.05
)

// isCollectorReachable checks if the OTLP collector port is reachable.
func isCollectorReachable(endpoint string) bool {
	conn, err := net.DialTimeout("tcp", endpoint, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Init initializes OpenTelemetry for the library: trace and meter
// providers exporting through OTLP gRPC, runtime instrumentation, and an
// slog bridge so the library logs flow to the collector as well.
//
// When the collector is not reachable the library keeps its console
// logger and no provider is installed.
func Init(ctx context.Context, serviceName, collectorEndpoint string) error {
	if collectorEndpoint == "" {
		collectorEndpoint = DefaultCollectorEndpoint
	}

	if !isCollectorReachable(collectorEndpoint) {
		internaltel.NewTelemetry("telemetry", serviceName).
			LogWarn("OpenTelemetry collector is not reachable, keeping console logging only",
				"endpoint", collectorEndpoint)
		return nil
	}

	grpcTransport := grpc.WithTransportCredentials(insecure.NewCredentials())
	grpcConn, err := grpc.NewClient(collectorEndpoint, grpcTransport)
	if err != nil {
		return err
	}

	res, err := newResource(serviceName)
	if err != nil {
		return err
	}

	// Trace
	traceExporter, err := newTraceExporter(ctx, grpcConn)
	if err != nil {
		return err
	}
	tracerProvider = newTracerProvider(res, traceExporter)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Meter
	meterExporter, err := newMeterExporter(ctx, grpcConn)
	if err != nil {
		return err
	}
	meterProvider = newMeterProvider(res, meterExporter)
	otel.SetMeterProvider(meterProvider)

	// Bridge the library logs
	internaltel.SetLogger(otelslog.NewLogger(serviceName))

	// Runtime
	return runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second))
}

// Close shuts down the OpenTelemetry providers, flushing pending data.
func Close(ctx context.Context) error {
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}

	if meterProvider != nil {
		if err := meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}

	return nil
}

// SetTraceRatio sets the sampling ratio for traces.
// It must be called before Init.
func SetTraceRatio(ratio float64) {
	traceRatio = ratio
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newTraceExporter(ctx context.Context, conn *grpc.ClientConn) (*otlptrace.Exporter, error) {
	return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
}

func newTracerProvider(res *resource.Resource, exporter sdktrace.SpanExporter) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(traceRatio)),
	)
}

func newMeterExporter(ctx context.Context, conn *grpc.ClientConn) (*otlpmetricgrpc.Exporter, error) {
	return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
}

func newMeterProvider(res *resource.Resource, exporter sdkmetric.Exporter) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Second)),
		),
	)
}
