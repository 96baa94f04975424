package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by the gateway's spans.
const TracerName = "github.com/ggoodman/sitemcp"

// Tracer returns the gateway tracer from the global provider. It is a no-op
// tracer until InitTracing installs an exporter.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// TracingEndpoint returns the configured OTLP endpoint, or "" when tracing
// should stay disabled.
func TracingEndpoint(lookup func(string) (string, bool)) string {
	if v, ok := lookup("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); ok && v != "" {
		return v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		return v
	}
	return ""
}

// InitTracing installs an OTLP/HTTP tracer provider when an exporter endpoint
// is configured in the environment. The returned func flushes and stops the
// provider; it is safe to call when tracing was never enabled.
func InitTracing(ctx context.Context, service string) (enabled bool, shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	endpoint := TracingEndpoint(os.LookupEnv)
	if endpoint == "" {
		return false, noop, nil
	}

	var opts []otlptracehttp.Option
	if strings.HasPrefix(strings.ToLower(endpoint), "http://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return false, noop, fmt.Errorf("tracing: exporter init: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return false, noop, fmt.Errorf("tracing: resource init: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	return true, tp.Shutdown, nil
}
