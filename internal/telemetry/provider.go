// Package telemetry installs the OpenTelemetry tracer provider that the
// orchestrator's step and collaborator spans report to.
package telemetry

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fpt/klein-dm/internal/config"
)

const (
	EnvEndpoint = config.EnvPrefix + "OTEL_ENDPOINT"
	EnvEnabled  = config.EnvPrefix + "OTEL_ENABLED"
)

// ShutdownFunc flushes pending spans
type ShutdownFunc func(context.Context) error

// Setup exports traces for serviceName to the OTLP/HTTP endpoint named by
// KLEIN_DM_OTEL_ENDPOINT. Without an endpoint, or with KLEIN_DM_OTEL_ENABLED
// set to "false", no provider is installed and the returned shutdown does
// nothing.
func Setup(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(os.Getenv(EnvEnabled), "false") {
		return noop, nil
	}
	endpoint := strings.TrimSpace(os.Getenv(EnvEndpoint))
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, errors.Wrap(err, "failed to create OTLP exporter")
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, errors.Wrap(err, "failed to describe trace resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}
