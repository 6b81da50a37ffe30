package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tomorrow/internal/config"
	"tomorrow/internal/types"
)

func testServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	s, err := NewServer(cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	return s
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
}

func TestRequestIDMiddleware_Generates(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
}

func TestRequestIDMiddleware_PropagatesIncoming(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "upstream-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-Id"))
}

func TestRecoverer(t *testing.T) {
	s := testServer(t, nil)
	handler := s.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.NotContains(t, rec.Body.String(), "boom", "panic values stay out of responses")
}

func TestSecurityHeaders(t *testing.T) {
	s := testServer(t, nil)
	rec := httptest.NewRecorder()
	s.SecurityHeadersMiddleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRequestLogger_RedactsHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger, []string{"Authorization"})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer super-secret")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "super-secret")
}

func TestCORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewCORSMiddleware([]string{"*"})(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("allowed origin", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://tomorrow.email")
		NewCORSMiddleware([]string{"https://tomorrow.email"})(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, "https://tomorrow.email", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", rec.Header().Get("Vary"))
	})

	t.Run("disallowed origin", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		NewCORSMiddleware([]string{"https://tomorrow.email"})(okHandler()).ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://tomorrow.email")
		NewCORSMiddleware([]string{"*"})(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestAdminKeyMiddleware(t *testing.T) {
	withKey := &config.Config{}
	withKey.Security.AdminAPIKey = config.SecretString("top-secret")

	t.Run("no key configured rejects all", func(t *testing.T) {
		s := testServer(t, &config.Config{})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/send-scheduled", nil)
		req.Header.Set("Authorization", "Bearer anything")
		s.AdminKeyMiddleware(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing key", func(t *testing.T) {
		s := testServer(t, withKey)
		rec := httptest.NewRecorder()
		s.AdminKeyMiddleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/send-scheduled", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var resp APIErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(types.ErrCodeAuthTokenMissing), resp.Error.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		s := testServer(t, withKey)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/send-scheduled", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		s.AdminKeyMiddleware(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		s := testServer(t, withKey)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/send-scheduled", nil)
		req.Header.Set("Authorization", "Bearer top-secret")
		s.AdminKeyMiddleware(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("x-api-key accepted", func(t *testing.T) {
		s := testServer(t, withKey)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/send-scheduled", nil)
		req.Header.Set("X-Api-Key", "top-secret")
		s.AdminKeyMiddleware(okHandler()).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

type recordingCollector struct {
	method, endpoint, status string
	calls                    int
}

func (c *recordingCollector) RecordRequest(method, endpoint, status string, _ time.Duration) {
	c.method, c.endpoint, c.status = method, endpoint, status
	c.calls++
}

func TestMetricsMiddleware(t *testing.T) {
	s := testServer(t, nil)
	collector := &recordingCollector{}
	s.Metrics = collector

	handler := s.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/users/u/logs", nil))

	assert.Equal(t, 1, collector.calls)
	assert.Equal(t, http.MethodGet, collector.method)
	assert.Equal(t, "404", collector.status)
}

func TestMetricsMiddleware_NilCollectorPassesThrough(t *testing.T) {
	s := testServer(t, nil)
	rec := httptest.NewRecorder()
	s.MetricsMiddleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
