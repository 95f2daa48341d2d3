package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	payload := decodePayload(t, rr)
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
}

func TestReadyEndpointReportsDatabase(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodePayload(t, rr)
	checks := payload["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	if database["status"] != "ok" {
		t.Fatalf("expected database status ok, got %v", database["status"])
	}
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	server := NewHTTPServer(newTestService(&fakeStore{}), nil, "*")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header on every response")
	}
}
