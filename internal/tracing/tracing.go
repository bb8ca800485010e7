package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const serviceName = "relay"

var tracer oteltrace.Tracer = otel.Tracer(serviceName)

// Initialize wires the OTLP exporter when an endpoint is configured; with
// an empty endpoint the no-op global provider stays in place and the Start*
// helpers are safe to call.
func Initialize(otlpEndpoint string, logger *zap.Logger) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		logger.Info("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(serviceName)

	logger.Info("Tracing initialized", zap.String("endpoint", otlpEndpoint))
	return tp.Shutdown, nil
}

// StartSpan opens a span on the service tracer.
func StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, name)
}

// Middleware opens a server span per HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path))
		defer span.End()
		span.SetAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// InjectTraceparent propagates the current span as a W3C traceparent
// header on outbound requests (LLM and tool services).
func InjectTraceparent(ctx context.Context, req *http.Request) {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return
	}
	req.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-%02x",
		sc.TraceID().String(), sc.SpanID().String(), sc.TraceFlags()))
}
