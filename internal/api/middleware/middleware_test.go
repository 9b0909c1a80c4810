package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/microsoft/secure-azureai-agent/internal/api/middleware"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestSecurityHeaders(t *testing.T) {
	handler := middleware.SecurityHeaders(false)(http.HandlerFunc(okHandler))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS sent outside production: %q", got)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	handler := middleware.SecurityHeaders(true)(http.HandlerFunc(okHandler))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("Expected HSTS header in production")
	}
}

func TestTrustedHost(t *testing.T) {
	handler := middleware.TrustedHost([]string{"api.example.com", "*.chat.example.com"})(http.HandlerFunc(okHandler))

	tests := []struct {
		host string
		want int
	}{
		{"api.example.com", http.StatusOK},
		{"api.example.com:8000", http.StatusOK},
		{"eu.chat.example.com", http.StatusOK},
		{"evil.example.org", http.StatusBadRequest},
		{"", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Host = tt.host
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("host %q: status = %d, want %d", tt.host, w.Code, tt.want)
		}
	}
}

func TestTrustedHost_EmptyAllowsAll(t *testing.T) {
	handler := middleware.TrustedHost(nil)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "anything.example"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestLogger_PreservesFlusher(t *testing.T) {
	var flushable bool
	handler := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("data: {}\n\n"))
		w.(http.Flusher).Flush()
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat/stream", nil))

	if !flushable {
		t.Fatal("wrapped writer lost http.Flusher")
	}
	if !w.Flushed {
		t.Error("Flush did not reach the underlying recorder")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
}

func TestLogger_HijackUnsupported(t *testing.T) {
	handler := middleware.Telemetry(middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer lost http.Hijacker")
		}
		if _, _, err := h.Hijack(); err == nil {
			t.Error("expected error hijacking a recorder")
		}
		if middleware.StatusOf(w) != http.StatusOK {
			t.Errorf("StatusOf = %d, want 200", middleware.StatusOf(w))
		}
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws/socket", nil))
}

func TestRecoverer_JSON500(t *testing.T) {
	handler := middleware.Logger(middleware.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/stream", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["error"] != "Internal server error" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestRecoverer_AfterResponseStarted(t *testing.T) {
	handler := middleware.Logger(middleware.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: partial\n\n"))
		panic("boom")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want the already written 200", w.Code)
	}
	if got := w.Body.String(); got != "data: partial\n\n" {
		t.Errorf("body = %q", got)
	}
}
