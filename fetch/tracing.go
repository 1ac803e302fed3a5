package fetch

import (
	"context"
	nethttp "net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"go.opentelemetry.io/otel/trace"
)

const fetchTracerName = "proxyfetch/fetch"

// startAttemptSpan opens a client span for one attempt. number is 1-based.
func startAttemptSpan(ctx context.Context, req *Request, number int, protocol string) (context.Context, trace.Span) {
	method := req.method()
	return otel.Tracer(fetchTracerName).Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(redactURL(req.URL)),
			semconv.HTTPRequestResendCount(number-1),
			attribute.String(attrProxyProtocol, protocol),
		),
	)
}

func endAttemptSpan(span trace.Span, status int, err error) {
	if status > 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	}
	if err != nil {
		span.SetAttributes(semconv.ErrorTypeKey.String(errorType(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// injectTraceContext writes the span context of ctx into outgoing headers
// using the global propagator.
func injectTraceContext(ctx context.Context, h nethttp.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
