package telemetry

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware returns a Fiber middleware that adds OpenTelemetry tracing
// to HTTP requests. It extracts trace context from incoming requests,
// starts a server span per request, and stores the span context on the
// request so handlers and their logs can pick it up.
func Middleware(serviceName string) fiber.Handler {
	tracer := Tracer(serviceName)

	return func(c *fiber.Ctx) error {
		propagator := propagation.TraceContext{}
		ctx := propagator.Extract(c.UserContext(), headerCarrier{c})

		attrs := []attribute.KeyValue{
			semconv.HTTPMethodKey.String(c.Method()),
			semconv.HTTPURLKey.String(c.OriginalURL()),
			semconv.HTTPUserAgentKey.String(c.Get(fiber.HeaderUserAgent)),
			semconv.HTTPHostKey.String(c.Hostname()),
			semconv.NetHostIPKey.String(c.IP()),
		}

		ctx, span := tracer.Start(
			ctx,
			c.Path(),
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		c.SetUserContext(ctx)
		err := c.Next()

		// The route pattern is only resolved after Next, so rename the
		// span to the bounded-cardinality form.
		span.SetName(c.Route().Path)
		span.SetAttributes(semconv.HTTPRouteKey.String(c.Route().Path))

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
			span.RecordError(err)
		}
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))
		if status >= 400 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}

		return err
	}
}

// headerCarrier adapts Fiber request headers to the propagation API.
type headerCarrier struct {
	c *fiber.Ctx
}

// Get returns the value of the named request header.
func (hc headerCarrier) Get(key string) string {
	return hc.c.Get(key)
}

// Set writes a response header; only used when injecting.
func (hc headerCarrier) Set(key, value string) {
	hc.c.Set(key, value)
}

// Keys lists the request header names.
func (hc headerCarrier) Keys() []string {
	keys := make([]string, 0, 16)
	hc.c.Request().Header.VisitAll(func(k, _ []byte) {
		keys = append(keys, string(k))
	})
	return keys
}
