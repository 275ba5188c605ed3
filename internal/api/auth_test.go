package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/exocortex-initiative/forcefield/internal/config"
)

// TestAdminTokenGate exercises the bearer token check on a live admin
// route. Without a database the services handler answers from defaults,
// so a passing token yields 200.
func TestAdminTokenGate(t *testing.T) {
	const token = "test-admin-token-123"

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "valid token",
			authHeader:     "Bearer " + token,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid token",
			authHeader:     "Bearer wrong-token",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "unauthorized\n",
		},
		{
			name:           "missing token",
			authHeader:     "",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "unauthorized\n",
		},
		{
			name:           "malformed bearer token",
			authHeader:     "Bearer" + token,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "unauthorized\n",
		},
		{
			name:           "wrong auth scheme",
			authHeader:     "Basic dGVzdDp0ZXN0",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "unauthorized\n",
		},
		{
			name:           "empty bearer token",
			authHeader:     "Bearer ",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   "unauthorized\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(t)
			t.Setenv("ADMIN_API_TOKEN", token)
			config.ResetForTest()
			router := NewRouter(deps)

			req := httptest.NewRequest(http.MethodGet, "/api/admin/services", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
			if tt.expectedBody != "" && rr.Body.String() != tt.expectedBody {
				t.Errorf("expected body %q, got %q", tt.expectedBody, rr.Body.String())
			}
		})
	}
}

// TestAdminTokenUnset locks the admin surface closed when no token is
// configured, even for requests that guess a value.
func TestAdminTokenUnset(t *testing.T) {
	deps := testDeps(t)
	t.Setenv("ADMIN_API_TOKEN", "")
	config.ResetForTest()
	router := NewRouter(deps)

	for _, header := range []string{"", "Bearer anything"} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/services", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("header %q: expected status 503, got %d", header, rr.Code)
		}
		if rr.Body.String() != "admin token not configured\n" {
			t.Errorf("header %q: got body %q", header, rr.Body.String())
		}
	}
}

// TestAdminEndpointsRequireAuth confirms every admin route sits behind
// the token gate.
func TestAdminEndpointsRequireAuth(t *testing.T) {
	deps := testDeps(t)
	t.Setenv("ADMIN_API_TOKEN", "test-token")
	config.ResetForTest()
	router := NewRouter(deps)

	adminEndpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/admin/services"},
		{http.MethodPut, "/api/admin/services"},
		{http.MethodGet, "/api/admin/audit"},
		{http.MethodPost, "/api/admin/jobs/sweep"},
		{http.MethodPost, "/api/admin/sessions/reap"},
		{http.MethodPost, "/api/admin/cache/invalidate"},
		{http.MethodGet, "/api/admin/cache/stats"},
	}

	for _, endpoint := range adminEndpoints {
		t.Run(endpoint.method+" "+endpoint.path, func(t *testing.T) {
			req := httptest.NewRequest(endpoint.method, endpoint.path, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401 for %s %s without auth, got %d",
					endpoint.method, endpoint.path, rr.Code)
			}
		})
	}
}

// TestAdminEndpointsWithAuth verifies store-free admin endpoints answer
// with a valid token instead of rejecting it.
func TestAdminEndpointsWithAuth(t *testing.T) {
	const token = "test-admin-token-secure-123"
	deps := testDeps(t)
	t.Setenv("ADMIN_API_TOKEN", token)
	config.ResetForTest()
	router := NewRouter(deps)

	adminEndpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/admin/services"},
		{http.MethodGet, "/api/admin/cache/stats"},
		{http.MethodPost, "/api/admin/cache/invalidate"},
	}

	for _, endpoint := range adminEndpoints {
		t.Run(endpoint.method+" "+endpoint.path+" with auth", func(t *testing.T) {
			req := httptest.NewRequest(endpoint.method, endpoint.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("expected 200 for %s %s with valid auth, got %d",
					endpoint.method, endpoint.path, rr.Code)
			}
		})
	}
}
