package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/config"
)

func jobsEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JOB_WORKERS", "2")
	t.Setenv("JOB_QUEUE_SIZE", "8")
	t.Setenv("JOB_MAX_RETRIES", "2")
	t.Setenv("JOB_RETRY_BASE_MS", "1")
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)
}

func okRunner(res Result) Runner {
	return func(ctx context.Context, job Job) (Result, error) {
		return res, nil
	}
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(2 * time.Millisecond)
	}
	job, _ := m.Get(id)
	t.Fatalf("job %s never reached %s, stuck at %s", id, want, job.Status)
	return Job{}
}

func TestEnqueueAndComplete(t *testing.T) {
	jobsEnv(t)
	m := NewManager(okRunner(Result{Ticks: 300, Version: 7}))
	m.poll = 2 * time.Millisecond
	m.Start(context.Background())
	defer m.Stop()

	job, err := m.Enqueue(Request{GraphName: "ring", Preset: "clusters", EnqueuedBy: "test"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.ID == "" {
		t.Fatal("expected a job id")
	}

	done := waitForStatus(t, m, job.ID, StatusCompleted)
	if done.Ticks != 300 {
		t.Errorf("expected 300 ticks, got %d", done.Ticks)
	}
	if done.Version != 7 {
		t.Errorf("expected layout version 7, got %d", done.Version)
	}
	if done.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
	if done.Error != "" {
		t.Errorf("expected no error, got %q", done.Error)
	}
}

func TestClaimOrdersByPriorityThenAge(t *testing.T) {
	jobsEnv(t)
	m := NewManager(okRunner(Result{}))

	low, _ := m.Enqueue(Request{GraphName: "low", Priority: 1})
	high, _ := m.Enqueue(Request{GraphName: "high", Priority: 10})
	mid, _ := m.Enqueue(Request{GraphName: "mid", Priority: 5})
	tied, _ := m.Enqueue(Request{GraphName: "tied", Priority: 5})

	// Equal priorities tie-break on enqueue order, oldest first.
	wantOrder := []string{high.ID, mid.ID, tied.ID, low.ID}

	for i, want := range wantOrder {
		got := m.claim()
		if got == nil {
			t.Fatalf("claim %d returned nil", i)
		}
		if got.ID != want {
			t.Errorf("claim %d: expected %s, got %s (%s)", i, want, got.ID, got.GraphName)
		}
	}
	if m.claim() != nil {
		t.Error("expected empty queue after draining")
	}
}

func TestClaimHonorsBackoffWindow(t *testing.T) {
	jobsEnv(t)
	m := NewManager(okRunner(Result{}))

	job, _ := m.Enqueue(Request{GraphName: "delayed"})
	m.mu.Lock()
	m.jobs[job.ID].visibleAt = time.Now().Add(time.Hour)
	m.mu.Unlock()

	if got := m.claim(); got != nil {
		t.Fatalf("expected no claimable job, got %s", got.ID)
	}

	m.mu.Lock()
	m.jobs[job.ID].visibleAt = time.Time{}
	m.mu.Unlock()

	if got := m.claim(); got == nil || got.ID != job.ID {
		t.Fatal("expected job to become claimable once the window passed")
	}
}

func TestRetriesThenFails(t *testing.T) {
	jobsEnv(t)
	var calls int32
	m := NewManager(func(ctx context.Context, job Job) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{}, errors.New("boom")
	})
	m.poll = 2 * time.Millisecond
	m.Start(context.Background())
	defer m.Stop()

	job, _ := m.Enqueue(Request{GraphName: "doomed"})
	failed := waitForStatus(t, m, job.ID, StatusFailed)

	if failed.Retries != 2 {
		t.Errorf("expected 2 retries, got %d", failed.Retries)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts (initial + 2 retries), got %d", got)
	}
	if failed.Error != "boom" {
		t.Errorf("expected error to be recorded, got %q", failed.Error)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	jobsEnv(t)
	var calls int32
	m := NewManager(func(ctx context.Context, job Job) (Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return Result{}, errors.New("transient")
		}
		return Result{Ticks: 42, Version: 1}, nil
	})
	m.poll = 2 * time.Millisecond
	m.Start(context.Background())
	defer m.Stop()

	job, _ := m.Enqueue(Request{GraphName: "flaky"})
	done := waitForStatus(t, m, job.ID, StatusCompleted)

	if done.Retries != 1 {
		t.Errorf("expected 1 retry, got %d", done.Retries)
	}
	if done.Ticks != 42 {
		t.Errorf("expected 42 ticks, got %d", done.Ticks)
	}
	if done.Error != "" {
		t.Errorf("expected error cleared after success, got %q", done.Error)
	}
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	jobsEnv(t)
	var calls int32
	m := NewManager(func(ctx context.Context, job Job) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{}, Permanent(errors.New("no such graph"))
	})
	m.poll = 2 * time.Millisecond
	m.Start(context.Background())
	defer m.Stop()

	job, _ := m.Enqueue(Request{GraphName: "missing"})
	failed := waitForStatus(t, m, job.ID, StatusFailed)

	if failed.Retries != 0 {
		t.Errorf("expected no retries for a permanent failure, got %d", failed.Retries)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
	if failed.Error != "no such graph" {
		t.Errorf("expected original message preserved, got %q", failed.Error)
	}
}

func TestPermanentWrapping(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	wrapped := Permanent(ErrNoStore)
	if !errors.Is(wrapped, ErrNoStore) {
		t.Error("expected the wrapped sentinel to survive errors.Is")
	}
	if !isPermanent(wrapped) {
		t.Error("expected the wrapper to be detected")
	}
	if !isPermanent(fmt.Errorf("load graph: %w", wrapped)) {
		t.Error("expected detection through further wrapping")
	}
	if isPermanent(errors.New("plain")) {
		t.Error("plain errors must stay retryable")
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	t.Setenv("JOB_QUEUE_SIZE", "2")
	t.Setenv("JOB_WORKERS", "1")
	config.ResetForTest()
	t.Cleanup(config.ResetForTest)

	m := NewManager(okRunner(Result{}))
	if _, err := m.Enqueue(Request{GraphName: "a"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := m.Enqueue(Request{GraphName: "b"}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if _, err := m.Enqueue(Request{GraphName: "c"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	jobsEnv(t)
	m := NewManager(okRunner(Result{}))

	job, _ := m.Enqueue(Request{GraphName: "pending"})
	if err := m.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := m.Get(job.ID)
	if got.Status != StatusCanceled {
		t.Errorf("expected canceled, got %s", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at on canceled job")
	}
	if err := m.Cancel(job.ID); !errors.Is(err, ErrNotCancelable) {
		t.Errorf("expected ErrNotCancelable on second cancel, got %v", err)
	}
	if err := m.Cancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if m.claim() != nil {
		t.Error("canceled job should not be claimable")
	}
}

func TestGetUnknown(t *testing.T) {
	jobsEnv(t)
	m := NewManager(okRunner(Result{}))
	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestForgetDropsOldFinishedJobs(t *testing.T) {
	jobsEnv(t)
	m := NewManager(okRunner(Result{}))
	m.poll = 2 * time.Millisecond
	m.Start(context.Background())

	job, _ := m.Enqueue(Request{GraphName: "old"})
	waitForStatus(t, m, job.ID, StatusCompleted)
	m.Stop()

	keep, _ := m.Enqueue(Request{GraphName: "still-queued"})

	m.mu.Lock()
	past := time.Now().Add(-2 * time.Hour)
	m.jobs[job.ID].FinishedAt = &past
	m.mu.Unlock()

	if got := m.Forget(time.Hour); got != 1 {
		t.Fatalf("expected 1 forgotten job, got %d", got)
	}
	if _, err := m.Get(job.ID); !errors.Is(err, ErrNotFound) {
		t.Error("forgotten job should be gone")
	}
	if _, err := m.Get(keep.ID); err != nil {
		t.Error("queued job should survive Forget")
	}
}

func TestAgeStarvedBoostsOldJobs(t *testing.T) {
	jobsEnv(t)
	m := NewManager(okRunner(Result{}))

	old, _ := m.Enqueue(Request{GraphName: "starved", Priority: 10})
	fresh, _ := m.Enqueue(Request{GraphName: "fresh", Priority: 10})
	capped, _ := m.Enqueue(Request{GraphName: "capped", Priority: 95})

	m.mu.Lock()
	past := time.Now().Add(-time.Hour)
	m.jobs[old.ID].CreatedAt = past
	m.jobs[capped.ID].CreatedAt = past
	m.mu.Unlock()

	if got := m.AgeStarved(30*time.Minute, 20); got != 2 {
		t.Fatalf("expected 2 boosted jobs, got %d", got)
	}
	if j, _ := m.Get(old.ID); j.Priority != 30 {
		t.Errorf("expected priority 30, got %d", j.Priority)
	}
	if j, _ := m.Get(fresh.ID); j.Priority != 10 {
		t.Errorf("fresh job should keep priority 10, got %d", j.Priority)
	}
	if j, _ := m.Get(capped.ID); j.Priority != 100 {
		t.Errorf("expected priority capped at 100, got %d", j.Priority)
	}
}

func TestStatsAndList(t *testing.T) {
	jobsEnv(t)
	m := NewManager(okRunner(Result{}))

	a, _ := m.Enqueue(Request{GraphName: "a"})
	b, _ := m.Enqueue(Request{GraphName: "b"})
	_ = m.Cancel(a.ID)

	s := m.Stats()
	if s.Pending != 1 {
		t.Errorf("expected 1 pending, got %d", s.Pending)
	}
	if s.Running != 0 || s.Completed != 0 || s.Failed != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs listed, got %d", len(list))
	}
	if list[0].ID != b.ID {
		t.Errorf("expected newest job first, got %s", list[0].GraphName)
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	m := &Manager{retryBase: 100 * time.Millisecond}

	d1 := m.retryDelay(1)
	if d1 < 100*time.Millisecond || d1 > 120*time.Millisecond {
		t.Errorf("retry 1: expected ~100ms, got %v", d1)
	}
	d3 := m.retryDelay(3)
	if d3 < 400*time.Millisecond || d3 > 480*time.Millisecond {
		t.Errorf("retry 3: expected ~400ms, got %v", d3)
	}
	d20 := m.retryDelay(20)
	if d20 < 5*time.Minute || d20 > 6*time.Minute {
		t.Errorf("retry 20: expected capped at ~5m, got %v", d20)
	}
}

func TestStopWaitsForWorkers(t *testing.T) {
	jobsEnv(t)
	var running int32
	m := NewManager(func(ctx context.Context, job Job) (Result, error) {
		atomic.StoreInt32(&running, 1)
		time.Sleep(20 * time.Millisecond)
		atomic.StoreInt32(&running, 0)
		return Result{}, nil
	})
	m.poll = 2 * time.Millisecond
	m.Start(context.Background())

	job, _ := m.Enqueue(Request{GraphName: "slow"})
	waitForStatus(t, m, job.ID, StatusRunning)
	m.Stop()

	if atomic.LoadInt32(&running) != 0 {
		t.Error("Stop returned while a job was still executing")
	}
	got, _ := m.Get(job.ID)
	if got.Status != StatusCompleted {
		t.Errorf("in-flight job should finish before Stop returns, got %s", got.Status)
	}
}
