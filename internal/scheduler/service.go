package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/logger"
)

type task struct {
	name     string
	schedule Schedule
	run      func(ctx context.Context) error
	next     time.Time
}

// Service runs recurring maintenance on parsed schedules: reaping idle
// simulations, trimming snapshot history, sweeping the job queue, pruning
// stored layouts.
type Service struct {
	log      *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	tasks   []*task
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a scheduler that checks for due tasks every interval.
// An interval of zero or less falls back to one minute.
func NewService(interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		log:      logger.WithComponent("scheduler"),
		interval: interval,
	}
}

// Add registers a maintenance task under the given schedule expression.
// Tasks must be added before Start.
func (s *Service) Add(name, expr string, run func(ctx context.Context) error) error {
	if name == "" {
		return fmt.Errorf("maintenance task needs a name")
	}
	if run == nil {
		return fmt.Errorf("maintenance task %s has no run func", name)
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("maintenance task %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("maintenance task %s added after start", name)
	}
	s.tasks = append(s.tasks, &task{
		name:     name,
		schedule: sched,
		run:      run,
		next:     sched.Next(time.Now()),
	})
	return nil
}

// Start launches the scheduling loop. Safe to call once.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	n := len(s.tasks)
	s.mu.Unlock()

	s.log.Info("starting maintenance scheduler", "tasks", n, "check_interval", s.interval.String())
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("maintenance scheduler stopped")
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

// runDue executes every task whose next run time has passed. Tasks run
// inline on the loop goroutine, so two passes never overlap.
func (s *Service) runDue(ctx context.Context, now time.Time) {
	for _, t := range s.due(now) {
		start := time.Now()
		if err := t.run(ctx); err != nil {
			s.log.Error("maintenance task failed",
				"task", t.name,
				"schedule", t.schedule.String(),
				"error", err)
			continue
		}
		s.log.Debug("maintenance task finished",
			"task", t.name,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// due collects the runnable tasks and advances each to its following slot.
func (s *Service) due(now time.Time) []*task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runnable []*task
	for _, t := range s.tasks {
		if now.Before(t.next) {
			continue
		}
		t.next = t.schedule.Next(now)
		runnable = append(runnable, t)
	}
	return runnable
}
