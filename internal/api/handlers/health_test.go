package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	Health(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	var out map[string]string
	decodeBody(t, rr, &out)
	if out["status"] != "ok" {
		t.Errorf("expected status ok, got %q", out["status"])
	}
}

func TestReadyWithoutStore(t *testing.T) {
	rr := httptest.NewRecorder()
	Ready(nil)(rr, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out map[string]string
	decodeBody(t, rr, &out)
	if out["status"] != "ready" || out["database"] != "disabled" {
		t.Errorf("expected ready with database disabled, got %v", out)
	}
}
