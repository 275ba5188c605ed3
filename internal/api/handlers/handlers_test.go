package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/graphio"
	"github.com/exocortex-initiative/forcefield/internal/layout"
	"github.com/exocortex-initiative/forcefield/internal/session"
)

// resetTestConfig pins the CPU backend and clears the config singleton so
// per-test env vars take effect.
func resetTestConfig(t *testing.T) {
	t.Helper()
	t.Setenv("GPU_ENABLED", "false")
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)
}

// newSessions builds a manager that tears its sessions down with the test.
func newSessions(t *testing.T) *session.Manager {
	t.Helper()
	m := session.NewManager()
	t.Cleanup(m.ReleaseAll)
	return m
}

// chainGraph builds n nodes linked in a path: n0-n1-...-n(n-1).
func chainGraph(n int) *graphio.Graph {
	g := &graphio.Graph{}
	for i := 0; i < n; i++ {
		g.Nodes = append(g.Nodes, layout.NodeSpec{ID: fmt.Sprintf("n%d", i)})
		if i > 0 {
			g.Edges = append(g.Edges, layout.Edge{
				Source: fmt.Sprintf("n%d", i-1),
				Target: fmt.Sprintf("n%d", i),
			})
		}
	}
	return g
}

// newSession creates a live session straight through the manager.
func newSession(t *testing.T, m *session.Manager, g *graphio.Graph) *session.Session {
	t.Helper()
	s, err := m.Create(session.CreateParams{Graph: g})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

// withVars stamps mux path variables onto a request for direct handler calls.
func withVars(req *http.Request, pairs ...string) *http.Request {
	vars := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		vars[pairs[i]] = pairs[i+1]
	}
	return mux.SetURLVars(req, vars)
}

// decodeBody unmarshals a recorded JSON response into out.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusTeapot, map[string]string{"k": "v"})

	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d, expected 418", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var out map[string]string
	decodeBody(t, rr, &out)
	if out["k"] != "v" {
		t.Errorf("body = %v", out)
	}
}

func TestParseIntDefault(t *testing.T) {
	tests := []struct {
		in   string
		def  int
		want int
	}{
		{"", 7, 7},
		{"42", 7, 42},
		{"0", 7, 0},
		{"-3", 7, 7},
		{"abc", 7, 7},
	}
	for _, tt := range tests {
		if got := parseIntDefault(tt.in, tt.def); got != tt.want {
			t.Errorf("parseIntDefault(%q, %d) = %d, expected %d", tt.in, tt.def, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*http.Request)
		expect string
	}{
		{
			name:   "socket peer",
			setup:  func(r *http.Request) { r.RemoteAddr = "10.0.0.5:1234" },
			expect: "10.0.0.5",
		},
		{
			name: "x-forwarded-for first hop",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
			},
			expect: "1.2.3.4",
		},
		{
			name: "x-real-ip",
			setup: func(r *http.Request) {
				r.Header.Set("X-Real-IP", "9.9.9.9")
			},
			expect: "9.9.9.9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			if got := clientIP(req); got != tt.expect {
				t.Errorf("clientIP = %q, expected %q", got, tt.expect)
			}
		})
	}
}
