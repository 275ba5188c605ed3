package apierr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrSimNotFound, "no such simulation", http.StatusNotFound)
	if err.Code != ErrSimNotFound {
		t.Errorf("expected code %s, got %s", ErrSimNotFound, err.Code)
	}
	if err.Message != "no such simulation" {
		t.Errorf("expected message 'no such simulation', got '%s'", err.Message)
	}
	if err.Status() != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, err.Status())
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrValidationInvalidValue, "invalid field", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": "alpha_decay"})

	if err.Details == nil {
		t.Fatal("expected details to be set")
	}
	if field, ok := err.Details["field"]; !ok || field != "alpha_decay" {
		t.Errorf("expected field 'alpha_decay', got %v", field)
	}
}

func TestWithRequestID(t *testing.T) {
	requestID := "test-request-123"
	err := New(ErrSystemInternal, "internal error", http.StatusInternalServerError).
		WithRequestID(requestID)

	if err.RequestID != requestID {
		t.Errorf("expected request ID %s, got %s", requestID, err.RequestID)
	}
}

func TestErrorInterface(t *testing.T) {
	err := New(ErrAuthInvalid, "invalid token", http.StatusUnauthorized)
	expected := "AUTH_INVALID: invalid token"
	if err.Error() != expected {
		t.Errorf("expected error string %s, got %s", expected, err.Error())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	err := New(ErrGraphNotFound, "graph gone", http.StatusNotFound).
		WithRequestID("req-123")

	WriteError(w, err)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Error == nil {
		t.Fatal("expected error in response")
	}
	if resp.Error.Code != ErrGraphNotFound {
		t.Errorf("expected code %s, got %s", ErrGraphNotFound, resp.Error.Code)
	}
	if resp.Error.Message != "graph gone" {
		t.Errorf("expected message 'graph gone', got '%s'", resp.Error.Message)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("expected request ID 'req-123', got '%s'", resp.Error.RequestID)
	}
}

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		name       string
		createErr  func() *Error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"AuthMissing", func() *Error { return AuthMissing("") }, ErrAuthMissing, http.StatusUnauthorized},
		{"AuthInvalid", func() *Error { return AuthInvalid("") }, ErrAuthInvalid, http.StatusUnauthorized},
		{"AuthForbidden", func() *Error { return AuthForbidden("") }, ErrAuthForbidden, http.StatusForbidden},
		{"GraphNotFound", func() *Error { return GraphNotFound("ring") }, ErrGraphNotFound, http.StatusNotFound},
		{"GraphTooLarge", func() *Error { return GraphTooLarge(100000, 50000) }, ErrGraphTooLarge, http.StatusRequestEntityTooLarge},
		{"GraphInvalidDocument", func() *Error { return GraphInvalidDocument("") }, ErrGraphInvalidDoc, http.StatusBadRequest},
		{"GraphFetchFailed", func() *Error { return GraphFetchFailed("") }, ErrGraphFetchFailed, http.StatusBadGateway},
		{"GraphIntegrityFailed", func() *Error { return GraphIntegrityFailed(3) }, ErrGraphIntegrity, http.StatusUnprocessableEntity},
		{"SimNotFound", func() *Error { return SimNotFound("abc") }, ErrSimNotFound, http.StatusNotFound},
		{"SimLimitReached", func() *Error { return SimLimitReached(16) }, ErrSimLimitReached, http.StatusServiceUnavailable},
		{"SimReleased", func() *Error { return SimReleased("abc") }, ErrSimReleased, http.StatusGone},
		{"SimUnknownNode", func() *Error { return SimUnknownNode("n1") }, ErrSimUnknownNode, http.StatusNotFound},
		{"SimDuplicateNode", func() *Error { return SimDuplicateNode("n1") }, ErrSimDuplicateNode, http.StatusConflict},
		{"SimBackendFailed", func() *Error { return SimBackendFailed("") }, ErrSimBackendFailed, http.StatusInternalServerError},
		{"SimGPUUnavailable", func() *Error { return SimGPUUnavailable("") }, ErrSimGPUUnavailable, http.StatusServiceUnavailable},
		{"JobNotFound", func() *Error { return JobNotFound("j1") }, ErrJobNotFound, http.StatusNotFound},
		{"JobQueueFull", func() *Error { return JobQueueFull() }, ErrJobQueueFull, http.StatusServiceUnavailable},
		{"JobNotCancelable", func() *Error { return JobNotCancelable("j1") }, ErrJobNotCancelable, http.StatusConflict},
		{"PresetNotFound", func() *Error { return PresetNotFound("spiral") }, ErrPresetNotFound, http.StatusNotFound},
		{"PresetInvalid", func() *Error { return PresetInvalid("") }, ErrPresetInvalid, http.StatusBadRequest},
		{"SystemInternal", func() *Error { return SystemInternal("") }, ErrSystemInternal, http.StatusInternalServerError},
		{"SystemDatabase", func() *Error { return SystemDatabase("") }, ErrSystemDatabase, http.StatusInternalServerError},
		{"SystemUnavailable", func() *Error { return SystemUnavailable("") }, ErrSystemUnavailable, http.StatusServiceUnavailable},
		{"SystemTimeout", func() *Error { return SystemTimeout("") }, ErrSystemTimeout, http.StatusRequestTimeout},
		{"ValidationInvalidJSON", func() *Error { return ValidationInvalidJSON() }, ErrValidationInvalidJSON, http.StatusBadRequest},
		{"ValidationInvalidFormat", func() *Error { return ValidationInvalidFormat("") }, ErrValidationInvalidFormat, http.StatusBadRequest},
		{"ValidationMissingField", func() *Error { return ValidationMissingField("nodes") }, ErrValidationMissingField, http.StatusBadRequest},
		{"ValidationInvalidValue", func() *Error { return ValidationInvalidValue("theta", "") }, ErrValidationInvalidValue, http.StatusBadRequest},
		{"ResourceNotFound", func() *Error { return ResourceNotFound("snapshot") }, ErrResourceNotFound, http.StatusNotFound},
		{"ResourceConflict", func() *Error { return ResourceConflict("") }, ErrResourceConflict, http.StatusConflict},
		{"RateLimitGlobal", func() *Error { return RateLimitGlobal() }, ErrRateLimitGlobal, http.StatusTooManyRequests},
		{"RateLimitIP", func() *Error { return RateLimitIP() }, ErrRateLimitIP, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.createErr()
			if err.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, err.Code)
			}
			if err.Status() != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, err.Status())
			}
			if err.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}

func TestValidationMissingFieldDetails(t *testing.T) {
	err := ValidationMissingField("nodes")
	if err.Details == nil {
		t.Fatal("expected details to be set")
	}
	if field, ok := err.Details["field"]; !ok || field != "nodes" {
		t.Errorf("expected field 'nodes', got %v", field)
	}
}

func TestGraphTooLargeDetails(t *testing.T) {
	err := GraphTooLarge(70000, 50000)
	if err.Details == nil {
		t.Fatal("expected details to be set")
	}
	if n, ok := err.Details["nodes"]; !ok || n != 70000 {
		t.Errorf("expected nodes 70000, got %v", n)
	}
	if l, ok := err.Details["limit"]; !ok || l != 50000 {
		t.Errorf("expected limit 50000, got %v", l)
	}
}

func TestResourceNotFoundDetails(t *testing.T) {
	err := ResourceNotFound("snapshot")
	if err.Details == nil {
		t.Fatal("expected details to be set")
	}
	if rt, ok := err.Details["resource_type"]; !ok || rt != "snapshot" {
		t.Errorf("expected resource_type 'snapshot', got %v", rt)
	}
}
