package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/seedbox_resolver/internal/logctx"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	// Every recorder must be a no-op on a disabled instance.
	assert.NotPanics(t, func() {
		tel.RecordResolution("ready", time.Second)
		tel.RecordCacheLookup("hit")
		tel.RecordGateAdmission("leader")
		tel.RecordPoll("found", 3)
		tel.RecordCapacityRecovery("purge", "success")
		tel.RecordStoreOperation("seedr", "add", "error", time.Millisecond)
		tel.RecordDBOperation("insert", "success", time.Millisecond)
		tel.RecordCleanup("deleted", 2)
		tel.RecordSystemError("resolver", "panic")
	})

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetry_PassesThrough(t *testing.T) {
	var tel *Telemetry

	called := false
	err := tel.InstrumentStoreOperation(context.Background(), "seedr", "list", func(context.Context) error {
		called = true

		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.NotNil(t, tel.Tracer())
}

func TestNew_EnabledServesMetrics(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "seedbox_resolver_test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.RecordResolution("cached", 10*time.Millisecond)

	wantErr := errors.New("boom")
	err = tel.InstrumentStoreOperation(context.Background(), "seedr", "add", func(context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "resolutions")
	assert.Contains(t, rec.Body.String(), "store_errors")
}

func TestGetStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", getStatusClass(http.StatusOK))
	assert.Equal(t, "3xx", getStatusClass(http.StatusTemporaryRedirect))
	assert.Equal(t, "4xx", getStatusClass(http.StatusBadRequest))
	assert.Equal(t, "5xx", getStatusClass(http.StatusInsufficientStorage))
	assert.Equal(t, "unknown", getStatusClass(100))
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logctx.RequestIDFromContext(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-1")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "upstream-1", seen)
		assert.Equal(t, "upstream-1", rec.Header().Get(RequestIDHeader))
	})
}

func TestHTTPLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{status: http.StatusTemporaryRedirect, wantLevel: "INFO"},
		{status: http.StatusBadRequest, wantLevel: "WARN"},
		{status: http.StatusInsufficientStorage, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer

			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			r := chi.NewRouter()
			r.Use(HTTPLogging)
			r.Get("/resolve/{fingerprint}", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			req := httptest.NewRequest(http.MethodGet, "/resolve/abc", nil)
			req = req.WithContext(logctx.WithLogger(req.Context(), logger))

			r.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))

			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status"])
			assert.Equal(t, "/resolve/{fingerprint}", entry["route"])
		})
	}
}

func TestHTTPMiddleware_CapturesStatus(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	h := NewHTTPMiddleware(tel).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
		_, _ = w.Write([]byte("full"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve/abc", nil))

	assert.Equal(t, http.StatusInsufficientStorage, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "full"))
}

func TestWrapResponseWriter_IgnoresSecondWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	rw.WriteHeader(http.StatusTemporaryRedirect)
	rw.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusTemporaryRedirect, rw.status)
	assert.Same(t, rw, wrapResponseWriter(rw))
}
