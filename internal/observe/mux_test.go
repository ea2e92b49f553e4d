package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimMethod(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected string
	}{
		{"GET with path", "GET /view", "/view"},
		{"HEAD with path", "HEAD /view", "/view"},
		{"path parameter", "GET /view/{source}", "/view/{source}"},
		{"no method", "/healthcheck", "/healthcheck"},
		{"host pattern", "pixel.example/view", "pixel.example/view"},
		{"unknown method kept", "PURGE /camo", "PURGE /camo"},
		{"lowercase method kept", "get /view", "get /view"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TrimMethod(tt.pattern))
		})
	}
}

func TestMux_RoutesThroughInstrumentation(t *testing.T) {
	mux := NewMux(http.NewServeMux())

	mux.Handle("GET /view", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/view", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
