package tracing

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"
)

const sampleTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestParseTraceparent(t *testing.T) {
	traceID, spanID, flags, ok := ParseTraceparent(sampleTraceparent)
	require.True(t, ok)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
	assert.Equal(t, "00f067aa0ba902b7", spanID)
	assert.Equal(t, byte(1), flags)

	for _, bad := range []string{"", "01-abc-def-01", "00-short-00f067aa0ba902b7-01", sampleTraceparent + "-x", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-zz"} {
		_, _, _, ok := ParseTraceparent(bad)
		assert.False(t, ok, bad)
	}
}

func TestTraceparentRoundTrip(t *testing.T) {
	ctx := ExtractTraceparent(context.Background(), sampleTraceparent)
	sc := oteltrace.SpanContextFromContext(ctx)
	require.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	InjectTraceparent(ctx, req)
	assert.Equal(t, sampleTraceparent, req.Header.Get("traceparent"))
}

func TestInjectWithoutSpan(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	InjectTraceparent(context.Background(), req)
	assert.Empty(t, req.Header.Get("traceparent"))
	assert.Equal(t, context.Background(), ExtractTraceparent(context.Background(), "garbage"))
}

func TestDisabledTracingIsSafe(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	ctx, span := StartHTTPSpan(context.Background(), http.MethodGet, "http://example.com")
	span.End()
	assert.NotNil(t, ctx)

	_, span = StartSpan(context.Background(), "noop")
	span.End()
}
