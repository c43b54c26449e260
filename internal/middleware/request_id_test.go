package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddleware_GeneratesUUID(t *testing.T) {
	var captured string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if _, err := uuid.Parse(captured); err != nil {
		t.Errorf("request id %q is not a UUID: %v", captured, err)
	}
	if got := w.Header().Get(RequestIDHeader); got != captured {
		t.Errorf("%s = %q, want %q", RequestIDHeader, got, captured)
	}
}

func TestRequestIDMiddleware_PropagatesValidIncomingID(t *testing.T) {
	var captured string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "edge-1234_abc.9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured != "edge-1234_abc.9" {
		t.Errorf("request id = %q, want %q", captured, "edge-1234_abc.9")
	}
}

func TestRequestIDMiddleware_ReplacesInvalidIncomingID(t *testing.T) {
	tests := []string{
		"has space",
		"line\nbreak",
		strings.Repeat("a", maxRequestIDLength+1),
	}
	for _, incoming := range tests {
		var captured string
		handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = RequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(RequestIDHeader, incoming)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if captured == incoming {
			t.Errorf("invalid request id %q was propagated", incoming)
		}
		if _, err := uuid.Parse(captured); err != nil {
			t.Errorf("replacement %q is not a UUID", captured)
		}
	}
}

// TestRecoveryMiddleware_Returns500 はpanic時に統一フォーマットの500が返ることを検証する。
func TestRecoveryMiddleware_Returns500(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q", body.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("panic was not logged: %s", buf.String())
	}
}

// TestRecoveryMiddleware_RepanicsAbortHandler はhttp.ErrAbortHandlerを握りつぶさないことを検証する。
func TestRecoveryMiddleware_RepanicsAbortHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRecoveryMiddleware(slog.New(slog.NewJSONHandler(&buf, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered = %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}
