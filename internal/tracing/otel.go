package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporters understood by Config.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Config selects where crew's spans go.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Exporter is "stdout" (JSON spans written to Output) or "none".
	Exporter string
	// Output receives stdout-exported spans. Defaults to os.Stderr so the
	// report on stdout stays clean.
	Output io.Writer
	// SampleRatio is the fraction of root spans kept. Zero means 1.
	SampleRatio float64
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs the process-wide tracer provider described by
// cfg. A provider installed earlier is shut down first.
func InitOpenTelemetry(cfg Config) error {
	switch cfg.Exporter {
	case ExporterNone:
		return InitWithExporter(cfg, nil)
	case ExporterStdout, "":
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return InitWithExporter(cfg, exporter)
	default:
		return fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// InitWithExporter installs a tracer provider that sends spans to exporter.
// A nil exporter still records trace ids for logs but exports nothing.
func InitWithExporter(cfg Config, exporter sdktrace.SpanExporter) error {
	res, err := newResource(cfg)
	if err != nil {
		return fmt.Errorf("failed to build trace resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	providerMu.Lock()
	previous := provider
	provider = tp
	providerMu.Unlock()

	otel.SetTracerProvider(tp)
	if previous != nil {
		_ = previous.Shutdown(context.Background())
	}
	return nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "crew"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	return resource.New(
		context.Background(),
		resource.WithAttributes(attrs...),
		resource.WithProcessPID(),
		resource.WithHost(),
	)
}

// ForceFlush exports every span ended so far.
func ForceFlush(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}

// ShutdownOpenTelemetry flushes pending spans and shuts down the provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and ensures trace_id is propagated in the tracing context package.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
