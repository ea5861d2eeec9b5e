package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/metrics"
	"github.com/stretchr/testify/assert"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestLoggingMiddleware_RecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /agent/history", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := loggingMiddleware(mux, testLog(), m)

	req := httptest.NewRequest("GET", "/agent/history?userId=someone", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "GET /agent/history", "418")))
}

func TestLoggingMiddleware_NilMetrics(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	rr := httptest.NewRecorder()
	loggingMiddleware(inner, testLog(), nil).ServeHTTP(rr, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, "ok", rr.Body.String())
}

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := requestIDMiddleware(inner)

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_PreservesExisting(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := requestIDMiddleware(inner)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "custom-id-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "custom-id-123", rr.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantHeader string
	}{
		{"deny when unconfigured", nil, "https://app.example", ""},
		{"exact match", []string{"https://app.example"}, "https://app.example", "https://app.example"},
		{"wildcard", []string{"*"}, "https://other.example", "https://other.example"},
		{"mismatch", []string{"https://app.example"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/agent/history", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			corsMiddleware(inner, tt.allowed).ServeHTTP(rr, req)
			assert.Equal(t, tt.wantHeader, rr.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest("OPTIONS", "/agent", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	corsMiddleware(inner, []string{"https://app.example"}).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, called)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestStatusWriter_FirstStatusWins(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}
	sw.Write([]byte("body"))
	sw.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusOK, sw.status)

	sw.Flush()
	assert.True(t, rr.Flushed)
}
