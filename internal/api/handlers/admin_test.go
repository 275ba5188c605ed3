package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/cache"
	"github.com/exocortex-initiative/forcefield/internal/jobs"
)

func newAdminHandler(t *testing.T) (*AdminHandler, *jobs.Manager) {
	t.Helper()
	resetTestConfig(t)
	sessions := newSessions(t)
	queue := jobs.NewManager(func(ctx context.Context, job jobs.Job) (jobs.Result, error) {
		return jobs.Result{}, nil
	})
	return NewAdminHandler(nil, sessions, queue), queue
}

func TestGetServices_WithoutStore(t *testing.T) {
	h, _ := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/services", nil)
	rr := httptest.NewRecorder()
	h.GetServices(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	var state ServiceState
	decodeBody(t, rr, &state)
	if !state.UploadsEnabled || !state.JobsEnabled || !state.StreamsEnabled {
		t.Errorf("flags without a database should all be on: %+v", state)
	}
}

func TestUpdateServices_WithoutStore(t *testing.T) {
	h, _ := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/admin/services",
		strings.NewReader(`{"uploads_enabled":false}`))
	rr := httptest.NewRecorder()
	h.UpdateServices(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, expected 503 without database", rr.Code)
	}
}

func TestListAuditLog_WithoutStore(t *testing.T) {
	h, _ := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	rr := httptest.NewRecorder()
	h.ListAuditLog(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, expected 503 without database", rr.Code)
	}
}

func TestSweepJobs(t *testing.T) {
	h, queue := newAdminHandler(t)

	// One canceled job old enough to sweep, one queued job that stays.
	old, err := queue.Enqueue(jobs.Request{GraphName: "old"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := queue.Cancel(old.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := queue.Enqueue(jobs.Request{GraphName: "fresh"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The handler floors the age at 60 minutes, so nothing this fresh is
	// ever swept through it. Drive the manager directly for the short
	// cutoff and the handler for the response shape.
	if removed := queue.Forget(time.Nanosecond); removed != 1 {
		t.Fatalf("forget: removed %d, expected the canceled job", removed)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/sweep",
		strings.NewReader(`{"older_than_minutes":5}`))
	rr := httptest.NewRecorder()
	h.SweepJobs(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	var out map[string]int
	decodeBody(t, rr, &out)
	if got, ok := out["removed"]; !ok || got != 0 {
		t.Errorf("removed = %v, nothing else was old enough", out)
	}
}

func TestSweepJobs_EmptyBodyDefaults(t *testing.T) {
	h, _ := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/sweep", nil)
	rr := httptest.NewRecorder()
	h.SweepJobs(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	var out map[string]int
	decodeBody(t, rr, &out)
	if _, ok := out["removed"]; !ok {
		t.Errorf("body = %v", out)
	}
}

func TestReapSessions(t *testing.T) {
	h, _ := newAdminHandler(t)
	s := newSession(t, h.sessions, chainGraph(2))

	// A generous idle window keeps the fresh session alive.
	req := httptest.NewRequest(http.MethodPost, "/admin/sessions/reap",
		strings.NewReader(`{"idle_minutes":60}`))
	rr := httptest.NewRecorder()
	h.ReapSessions(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
	var out map[string]int
	decodeBody(t, rr, &out)
	if out["reaped"] != 0 {
		t.Errorf("reaped = %d, the session is not idle", out["reaped"])
	}
	if _, err := h.sessions.Get(s.ID); err != nil {
		t.Error("fresh session was reaped")
	}
}

func TestCacheAdmin(t *testing.T) {
	resetTestConfig(t)
	c := cache.NewMockCache()
	h := NewCacheAdminHandler(c)

	c.Set("k", []byte("v"), time.Minute)

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", nil)
	rr := httptest.NewRecorder()
	h.InvalidateCache(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("invalidate: got %d", rr.Code)
	}
	if _, found := c.Get("k"); found {
		t.Error("entry survived invalidation")
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/cache/stats", nil)
	rr = httptest.NewRecorder()
	h.GetCacheStats(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: got %d", rr.Code)
	}
	var stats struct {
		Hits   uint64 `json:"hits"`
		Misses uint64 `json:"misses"`
	}
	decodeBody(t, rr, &stats)
	if stats.Misses == 0 {
		t.Error("the post-clear read should have counted a miss")
	}
}
