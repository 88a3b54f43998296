package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newBufferedLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer

	return slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))), &buf
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func contextWithSpan(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	return trace.ContextWithSpanContext(context.Background(), spanCtx)
}

func TestTraceHandler_NoCorrelation(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.InfoContext(context.Background(), "resolve started", "fingerprint", "abc")

	entry := decodeRecord(t, buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.NotContains(t, entry, "request_id")
	assert.Equal(t, "resolve started", entry["msg"])
	assert.Equal(t, "abc", entry["fingerprint"])
}

func TestTraceHandler_WithSpanContext(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	logger.InfoContext(contextWithSpan(t), "resolve started")

	entry := decodeRecord(t, buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestTraceHandler_WithRequestID(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	ctx := WithRequestID(contextWithSpan(t), "req-42")
	logger.WarnContext(ctx, "still pending")

	entry := decodeRecord(t, buf)
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "resolver")})
	require.IsType(t, &TraceHandler{}, withAttrs)

	withGroup := withAttrs.WithGroup("poll")
	require.IsType(t, &TraceHandler{}, withGroup)

	slog.New(withGroup).InfoContext(WithRequestID(context.Background(), "req-1"), "attempt", "n", 3)

	entry := decodeRecord(t, &buf)
	assert.Equal(t, "resolver", entry["component"])
	assert.Contains(t, entry, "poll")
}

func TestNewTraceHandler_NilPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestWith_StoresDerivedLogger(t *testing.T) {
	logger, buf := newBufferedLogger(t)

	ctx, derived := With(WithLogger(context.Background(), logger), "fingerprint", "abc")
	assert.Same(t, derived, LoggerFromContext(ctx))

	LoggerFromContext(ctx).Info("hello")

	entry := decodeRecord(t, buf)
	assert.Equal(t, "abc", entry["fingerprint"])
}

func TestLoggerFromContext_Default(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
