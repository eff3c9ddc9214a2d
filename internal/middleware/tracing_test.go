package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingMiddleware_SetsRequestID(t *testing.T) {
	var seen string
	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.NotEqual(t, "unknown", seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, "unknown", GetRequestID(req.Context()))
}

func TestErrorRecoveryMiddleware(t *testing.T) {
	handler := ErrorRecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("allowed origin is echoed", func(t *testing.T) {
		handler := CORSMiddleware([]string{"https://app.colabd.dev/"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.colabd.dev")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, "https://app.colabd.dev", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("unknown origin gets no header", func(t *testing.T) {
		handler := CORSMiddleware([]string{"https://app.colabd.dev"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard and preflight", func(t *testing.T) {
		handler := CORSMiddleware(nil)(next)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestResponseWriterWrapper_HijackUnsupported(t *testing.T) {
	w := &responseWriterWrapper{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}

	_, _, err := w.Hijack()
	require.Error(t, err)
	require.False(t, w.hijacked)
}

func TestStartRootSpan_LinksToOrigin(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, handshake := StartSpan(context.Background(), "WebSocket.Connect")
	origin := handshake.SpanContext()
	handshake.End()

	_, frame := StartRootSpan(ctx, "Collaboration.HandleMessage", origin)
	frame.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)

	got := ended[1]
	require.False(t, got.Parent().IsValid())
	require.NotEqual(t, origin.TraceID(), got.SpanContext().TraceID())
	require.Len(t, got.Links(), 1)
	require.Equal(t, origin.SpanID(), got.Links()[0].SpanContext.SpanID())
}
