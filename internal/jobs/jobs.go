// Package jobs runs background layout computations through a small
// in-process queue. Jobs are claimed by priority then age, failures are
// retried with exponential backoff, and finished jobs stay queryable
// until the manager is asked to forget them.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/metrics"
)

var (
	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("jobs: queue full")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("jobs: not found")
	// ErrNotCancelable is returned when a job already left the queue.
	ErrNotCancelable = errors.New("jobs: job already running or finished")
	// ErrNoStore is what runners report when layout persistence is not
	// configured. Such jobs fail immediately with a clear reason.
	ErrNoStore = errors.New("jobs: persistence disabled, set DATABASE_URL to run layout jobs")
)

// Permanent wraps err so the queue fails the job on the first attempt
// instead of retrying. Use it for errors more attempts cannot fix, like
// an unknown graph name.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Request describes the layout work to enqueue.
type Request struct {
	GraphName  string `json:"graph_name"`
	Preset     string `json:"preset,omitempty"`
	Placement  string `json:"placement,omitempty"`
	Seed       int64  `json:"seed,omitempty"`
	MaxTicks   int    `json:"max_ticks,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	EnqueuedBy string `json:"enqueued_by,omitempty"`
}

// Job is the tracked state of one layout computation.
type Job struct {
	ID         string     `json:"id"`
	GraphName  string     `json:"graph_name"`
	Preset     string     `json:"preset,omitempty"`
	Placement  string     `json:"placement,omitempty"`
	Seed       int64      `json:"seed,omitempty"`
	MaxTicks   int        `json:"max_ticks,omitempty"`
	Priority   int        `json:"priority"`
	Status     Status     `json:"status"`
	Retries    int        `json:"retries"`
	MaxRetries int        `json:"max_retries"`
	Error      string     `json:"error,omitempty"`
	EnqueuedBy string     `json:"enqueued_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	Ticks      uint64     `json:"ticks,omitempty"`
	Version    int64      `json:"layout_version,omitempty"`

	visibleAt time.Time
	seq       uint64
}

// Result reports what a completed run produced.
type Result struct {
	Ticks   uint64
	Version int64
}

// Runner executes one layout job. The job is passed by value; the
// manager applies the result to its own copy.
type Runner func(ctx context.Context, job Job) (Result, error)

// Stats is a point-in-time census of the queue.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Manager owns the queue and its workers.
type Manager struct {
	mu      sync.Mutex
	pending []*Job
	jobs    map[string]*Job
	seq     uint64

	run        Runner
	log        *slog.Logger
	workers    int
	capacity   int
	maxRetries int
	retryBase  time.Duration
	poll       time.Duration

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewManager builds a manager around run using the configured worker
// count, queue capacity, and retry policy.
func NewManager(run Runner) *Manager {
	cfg := config.Load()
	workers := cfg.JobWorkers
	if workers < 1 {
		workers = 1
	}
	capacity := cfg.JobQueueSize
	if capacity < 1 {
		capacity = 1
	}
	return &Manager{
		jobs:       make(map[string]*Job),
		run:        run,
		log:        logger.WithComponent("jobs"),
		workers:    workers,
		capacity:   capacity,
		maxRetries: cfg.JobMaxRetries,
		retryBase:  cfg.JobRetryBase,
		poll:       time.Second,
	}
}

// Start launches the worker pool. Safe to call once.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.log.Info("starting layout workers", "workers", m.workers, "capacity", m.capacity)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

// Stop halts the workers and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.started = false
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Enqueue adds a job to the queue.
func (m *Manager) Enqueue(req Request) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) >= m.capacity {
		return Job{}, ErrQueueFull
	}
	m.seq++
	job := &Job{
		ID:         uuid.NewString(),
		GraphName:  req.GraphName,
		Preset:     req.Preset,
		Placement:  req.Placement,
		Seed:       req.Seed,
		MaxTicks:   req.MaxTicks,
		Priority:   req.Priority,
		Status:     StatusQueued,
		MaxRetries: m.maxRetries,
		EnqueuedBy: req.EnqueuedBy,
		CreatedAt:  time.Now(),
		seq:        m.seq,
	}
	m.pending = append(m.pending, job)
	m.jobs[job.ID] = job
	m.updateGaugesLocked()
	m.log.Debug("job enqueued", "job", job.ID, "graph", job.GraphName, "priority", job.Priority)
	return *job, nil
}

// Get returns a snapshot of a job.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// List returns snapshots of all known jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].seq > out[j-1].seq; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Cancel removes a queued job. Running or finished jobs are left alone.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != StatusQueued {
		return ErrNotCancelable
	}
	for i, p := range m.pending {
		if p.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	now := time.Now()
	job.Status = StatusCanceled
	job.FinishedAt = &now
	m.updateGaugesLocked()
	return nil
}

// Forget drops finished jobs from history, returning how many were removed.
func (m *Manager) Forget(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, job := range m.jobs {
		switch job.Status {
		case StatusCompleted, StatusFailed, StatusCanceled:
			if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
				delete(m.jobs, id)
				removed++
			}
		}
	}
	m.updateGaugesLocked()
	return removed
}

// AgeStarved bumps the priority of queued jobs older than minAge so a
// stream of high-priority work cannot starve them forever. Priorities
// cap at 100.
func (m *Manager) AgeStarved(minAge time.Duration, boost int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-minAge)
	bumped := 0
	for _, job := range m.pending {
		if job.Priority < 100 && job.CreatedAt.Before(cutoff) {
			job.Priority += boost
			if job.Priority > 100 {
				job.Priority = 100
			}
			bumped++
		}
	}
	return bumped
}

// Stats counts jobs per state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	var s Stats
	for _, job := range m.jobs {
		switch job.Status {
		case StatusQueued:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

func (m *Manager) updateGaugesLocked() {
	s := m.statsLocked()
	metrics.LayoutJobsPending.Set(float64(s.Pending))
	metrics.LayoutJobsProcessing.Set(float64(s.Running))
	metrics.LayoutJobsCompleted.Set(float64(s.Completed))
	metrics.LayoutJobsFailed.Set(float64(s.Failed))
}

// claim pops the best eligible job: highest priority, then oldest.
// Jobs still inside a retry backoff window are skipped.
func (m *Manager) claim() *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	best := -1
	for i, job := range m.pending {
		if job.visibleAt.After(now) {
			continue
		}
		if best == -1 ||
			job.Priority > m.pending[best].Priority ||
			(job.Priority == m.pending[best].Priority && job.seq < m.pending[best].seq) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	job := m.pending[best]
	m.pending = append(m.pending[:best], m.pending[best+1:]...)
	started := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &started
	m.updateGaugesLocked()
	return job
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	log := m.log.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job := m.claim()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.poll):
			}
			continue
		}
		m.execute(ctx, log, job)
	}
}

func (m *Manager) execute(ctx context.Context, log *slog.Logger, job *Job) {
	start := time.Now()
	log.Info("job started", "job", job.ID, "graph", job.GraphName, "attempt", job.Retries+1)

	res, err := m.run(ctx, *job)
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if err != nil {
		job.Error = err.Error()
		if job.Retries < job.MaxRetries && ctx.Err() == nil && !isPermanent(err) {
			job.Retries++
			job.Status = StatusQueued
			job.StartedAt = nil
			job.visibleAt = now.Add(m.retryDelay(job.Retries))
			m.pending = append(m.pending, job)
			metrics.LayoutJobsTotal.WithLabelValues("retried").Inc()
			log.Warn("job failed, will retry",
				"job", job.ID, "graph", job.GraphName,
				"retry", job.Retries, "error", err)
		} else {
			job.Status = StatusFailed
			job.FinishedAt = &now
			job.DurationMS = elapsed.Milliseconds()
			metrics.LayoutJobsTotal.WithLabelValues("failed").Inc()
			metrics.LayoutJobDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
			log.Error("job failed", "job", job.ID, "graph", job.GraphName, "error", err)
		}
	} else {
		job.Status = StatusCompleted
		job.FinishedAt = &now
		job.DurationMS = elapsed.Milliseconds()
		job.Ticks = res.Ticks
		job.Version = res.Version
		job.Error = ""
		metrics.LayoutJobsTotal.WithLabelValues("success").Inc()
		metrics.LayoutJobDuration.WithLabelValues("success").Observe(elapsed.Seconds())
		log.Info("job completed",
			"job", job.ID, "graph", job.GraphName,
			"ticks", res.Ticks, "duration_ms", job.DurationMS)
	}
	m.updateGaugesLocked()
}

// retryDelay grows exponentially with each retry, capped at five
// minutes, with up to 20% jitter on top.
func (m *Manager) retryDelay(retries int) time.Duration {
	base := m.retryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := 5 * time.Minute
	delay := base * time.Duration(1<<uint(retries-1))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	jitter := time.Duration(float64(delay) * 0.2 * rand.Float64())
	return delay + jitter
}
