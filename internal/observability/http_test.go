package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", BearerToken(req, true))
	assert.Equal(t, "", BearerToken(req, false))

	req.Header.Set("Authorization", "Bearer abc.def")
	assert.Equal(t, "abc.def", BearerToken(req, true))

	req.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", BearerToken(req, true))
}

func TestIPFromRequestPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	assert.Equal(t, "10.0.0.2", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", IPFromRequest(req))
}

func TestBuildHeadersSkipsEmpty(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r1"}, BuildHeaders("r1", ""))
}

func TestHeadersFromContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-7")
	assert.Equal(t, map[string]string{"x-request-id": "req-7"}, HeadersFromContext(ctx))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx = trace.ContextWithSpanContext(ctx, sc)

	headers := HeadersFromContext(ctx)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", headers["trace_id"])
	assert.Equal(t, "req-7", headers["x-request-id"])
	assert.Empty(t, HeadersFromContext(context.Background()))
}
