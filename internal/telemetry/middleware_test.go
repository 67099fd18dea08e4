package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// newRecordingApp wires the middleware into a Fiber app backed by an
// in-memory span recorder.
func newRecordingApp(t *testing.T) (*fiber.App, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(noop.NewTracerProvider())
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(Middleware("test-api"))
	return app, recorder
}

// TestMiddlewareRecordsServerSpan verifies each request produces one
// server span named after the route pattern.
func TestMiddlewareRecordsServerSpan(t *testing.T) {
	app, recorder := newRecordingApp(t)
	app.Get("/api/tickets/:id", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/tickets/42", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	spans := recorder.Ended()
	require.Len(t, spans, 1, "One request should produce one span")
	span := spans[0]

	assert.Equal(t, "/api/tickets/:id", span.Name(), "Span is named after the route pattern, not the raw path")
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())

	attrs := make(map[string]any, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "GET", attrs[string(semconv.HTTPMethodKey)])
	assert.Equal(t, "/api/tickets/:id", attrs[string(semconv.HTTPRouteKey)])
	assert.EqualValues(t, http.StatusOK, attrs[string(semconv.HTTPStatusCodeKey)])
}

// TestMiddlewarePropagatesTraceContext verifies an incoming
// traceparent header parents the server span.
func TestMiddlewarePropagatesTraceContext(t *testing.T) {
	app, recorder := newRecordingApp(t)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext().TraceID().String(),
		"The span must continue the caller's trace")
	assert.Equal(t, "00f067aa0ba902b7", span.Parent().SpanID().String())
}

// TestMiddlewareMarksErrors verifies handler errors set an error status
// on the span.
func TestMiddlewareMarksErrors(t *testing.T) {
	app, recorder := newRecordingApp(t)
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, codes.Error, span.Status().Code)

	attrs := make(map[string]any, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.EqualValues(t, http.StatusNotFound, attrs[string(semconv.HTTPStatusCodeKey)])
}
