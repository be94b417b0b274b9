package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tracklabs/toggl-mirror/backend/internal/auth"
)

func TestCORSPreflightAllowsAccessHeaders(t *testing.T) {
	router := newGuardedRouter(t, nil)

	request := httptest.NewRequest(http.MethodOptions, "/notes", http.NoBody)
	request.Header.Set("Origin", "https://dashboard.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", auth.HeaderAccessClientID)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}

	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), strings.ToLower(auth.HeaderAccessClientID)) {
		t.Fatalf("expected Access-Control-Allow-Headers to include %s, got %q", auth.HeaderAccessClientID, allowHeaders)
	}
	if !strings.Contains(strings.ToLower(allowHeaders), strings.ToLower(auth.HeaderAccessClientSecret)) {
		t.Fatalf("expected Access-Control-Allow-Headers to include %s, got %q", auth.HeaderAccessClientSecret, allowHeaders)
	}

	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allowMethods, http.MethodDelete) {
		t.Fatalf("expected Access-Control-Allow-Methods to include DELETE, got %q", allowMethods)
	}
}

func TestCORSPreflightBypassesGuard(t *testing.T) {
	router := newGuardedRouter(t, mustServiceTokenGuard(t))

	request := httptest.NewRequest(http.MethodOptions, "/sync/range", http.NoBody)
	request.Header.Set("Origin", "https://dashboard.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected preflight to pass without credentials, got %d", recorder.Code)
	}
}
