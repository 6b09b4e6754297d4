// Package otelhelper provides distributed tracing for remote flow mutations.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Common attribute keys.
	FlowIDKey        = "flowpatch.flow.id"
	FlowNameKey      = "flowpatch.flow.name"
	ElementKindKey   = "flowpatch.element.kind"
	ElementUIIDKey   = "flowpatch.element.ui_id"
	DefinitionKey    = "flowpatch.definition"
	OperationKey     = "flowpatch.operation"
	TableKey         = "flowpatch.table"
	EndpointKey      = "flowpatch.endpoint"
	ProvisionPathKey = "flowpatch.provision.path"
	HTTPStatusKey    = "flowpatch.http.status"
	ErrorKindKey     = "flowpatch.error.kind"
	LockHolderKey    = "flowpatch.lock.holder"
)

// Noop returns a tracer that records nothing, used when tracing is not configured.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Noop() trace.Tracer {
	return noop.NewTracerProvider().Tracer("flowpatch")
}

// OrNoop returns tracer, or a no-op tracer when it is nil.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func OrNoop(tracer trace.Tracer) trace.Tracer {
	if tracer == nil {
		return Noop()
	}

	return tracer
}

// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, error) {
	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return provider.Tracer(serviceName), nil
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
