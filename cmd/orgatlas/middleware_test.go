package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid token", "/projects", "Bearer secret", http.StatusOK},
		{"wrong token", "/projects", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "/projects", "", http.StatusUnauthorized},
		{"wrong scheme", "/projects", "Basic secret", http.StatusUnauthorized},
		{"health is open", "/health", "", http.StatusOK},
		{"metrics is open", "/metrics", "", http.StatusOK},
	}
	h := authMiddleware("secret", okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	w := httptest.NewRecorder()
	authMiddleware("", okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/projects", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		origins string
		origin  string
		want    string
	}{
		{"listed origin", "https://a.example, https://b.example", "https://b.example", "https://b.example"},
		{"unlisted origin", "https://a.example", "https://evil.example", ""},
		{"wildcard", "*", "https://any.example", "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/projects", nil)
			r.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			corsMiddleware(tt.origins, okHandler()).ServeHTTP(w, r)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	r := httptest.NewRequest("OPTIONS", "/projects", nil)
	r.Header.Set("Origin", "https://a.example")
	w := httptest.NewRecorder()
	corsMiddleware("https://a.example", http.NotFoundHandler()).ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestLogMiddlewareRequestID(t *testing.T) {
	var seen string
	h := logMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	}))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen != "req-1" || w.Header().Get("X-Request-ID") != "req-1" {
		t.Errorf("request id = %q, header %q", seen, w.Header().Get("X-Request-ID"))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if seen == "" || seen == "req-1" {
		t.Errorf("expected a generated request id, got %q", seen)
	}
}
