package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/exocortex-initiative/forcefield/internal/api"
	"github.com/exocortex-initiative/forcefield/internal/api/handlers"
	"github.com/exocortex-initiative/forcefield/internal/cache"
	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/errorreporting"
	"github.com/exocortex-initiative/forcefield/internal/jobs"
	"github.com/exocortex-initiative/forcefield/internal/logger"
	"github.com/exocortex-initiative/forcefield/internal/metrics"
	"github.com/exocortex-initiative/forcefield/internal/scheduler"
	"github.com/exocortex-initiative/forcefield/internal/secrets"
	"github.com/exocortex-initiative/forcefield/internal/server"
	"github.com/exocortex-initiative/forcefield/internal/session"
	"github.com/exocortex-initiative/forcefield/internal/store"
	"github.com/exocortex-initiative/forcefield/internal/tracing"
)

const (
	shutdownGrace   = 15 * time.Second
	collectInterval = 30 * time.Second

	// Maintenance sweep tuning. Finished jobs stay queryable for a day;
	// queued jobs older than ten minutes get a priority bump each sweep.
	finishedJobMaxAge = 24 * time.Hour
	starvedJobAge     = 10 * time.Minute
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (falling back to system env)")
	}

	cfg := config.Load()

	logger.Init(cfg.LogLevel)
	logger.Info("Initializing layoutd", "version", cfg.SentryRelease, "log_level", cfg.LogLevel)

	if err := errorreporting.Init(cfg); err != nil {
		logger.Warn("Failed to initialize error reporting", "error", err)
	} else if errorreporting.IsSentryEnabled() {
		logger.Info("Error reporting initialized", "environment", cfg.SentryEnvironment)
		defer func() {
			logger.Info("Flushing error reports...")
			errorreporting.Flush(2 * time.Second)
		}()
	}

	shutdownTracing, err := tracing.Init("forcefield-layoutd")
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
	} else if cfg.OTELEnabled {
		logger.Info("Tracing initialized", "endpoint", cfg.OTELEndpoint, "sample_rate", cfg.OTELSampleRate)
		defer func() {
			logger.Info("Shutting down tracer...")
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	// Persistence is optional: without DATABASE_URL the service still runs
	// interactive simulations, but graphs and layouts only live in memory.
	var st *store.Store
	if cfg.DatabaseURL == "" {
		if err := secrets.ValidateEnv("DATABASE_URL"); err != nil {
			logger.Warn("Running without persistence", "reason", err)
		}
	} else {
		st, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer st.Close()
		if err := st.EnsureSchema(context.Background()); err != nil {
			logger.Error("Failed to ensure schema", "error", err)
			log.Fatalf("Failed to ensure schema: %v", err)
		}
		logger.Info("Database connected", "url", secrets.MaskURL(cfg.DatabaseURL))
	}

	c := buildCache(cfg)
	sessions := session.NewManager()

	var runner jobs.Runner
	if st != nil {
		runner = newLayoutRunner(st, st)
	} else {
		runner = func(context.Context, jobs.Job) (jobs.Result, error) {
			return jobs.Result{}, jobs.Permanent(jobs.ErrNoStore)
		}
	}
	queue := jobs.NewManager(runner)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)

	collector := metrics.NewCollector(collectInterval, metricSources(st, c)...)
	go collector.Start(ctx)

	sched := newMaintenance(cfg, sessions, queue, st)
	sched.Start(ctx)

	streams := handlers.NewStreamHandler(sessions, st)
	handler, stopLimiter := api.NewHandler(api.Deps{
		Store:    st,
		Cache:    c,
		Sessions: sessions,
		Jobs:     queue,
		Streams:  streams,
	})

	srv := server.New(handler, cfg.Port)
	srv.OnShutdown(stopLimiter)
	srv.OnShutdown(streams.Shutdown)
	srv.OnShutdown(sched.Stop)
	srv.OnShutdown(collector.Stop)
	srv.OnShutdown(queue.Stop)
	srv.OnShutdown(sessions.ReleaseAll)

	logger.Info("Starting server", "port", cfg.Port,
		"gpu_enabled", cfg.GPUEnabled, "cache_enabled", cfg.CacheEnabled, "persistence", st != nil)
	if err := srv.Run(ctx, shutdownGrace); err != nil {
		logger.Error("Server exited with error", "error", err)
		log.Fatalf("Server exited with error: %v", err)
	}
}

// buildCache picks the response cache backend. Redis is preferred when an
// address is configured; on connection trouble the in-process LRU takes
// over so a cache outage never blocks startup.
func buildCache(cfg *config.Config) cache.Cache {
	if !cfg.CacheEnabled {
		logger.Info("Response cache disabled")
		return cache.Noop()
	}
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err == nil {
			logger.Info("Using Redis response cache", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
			return rc
		}
		logger.Warn("Redis unavailable, falling back to in-process cache", "addr", cfg.RedisAddr, "error", err)
	}
	lru, err := cache.NewLRU(int64(cfg.CacheMaxSizeMB), int64(cfg.CacheMaxEntries), cfg.CacheTTL)
	if err != nil {
		logger.Warn("Failed to build in-process cache, caching disabled", "error", err)
		return cache.Noop()
	}
	logger.Info("Using in-process response cache",
		"max_size_mb", cfg.CacheMaxSizeMB, "max_entries", cfg.CacheMaxEntries, "ttl", cfg.CacheTTL)
	return lru
}

// metricSources wires the periodic collector to whatever backends exist.
func metricSources(st *store.Store, c cache.Cache) []metrics.Source {
	sources := []metrics.Source{
		{
			Name: "cache",
			Collect: func(ctx context.Context) error {
				stats := c.Stats()
				metrics.SetCacheUsage(stats.Items, stats.Size, stats.Evictions)
				return nil
			},
		},
	}
	if st != nil {
		sources = append(sources, metrics.Source{
			Name: "graphs",
			Collect: func(ctx context.Context) error {
				totals, err := st.Totals(ctx)
				if err != nil {
					metrics.MarkGraphTotalsStale()
					return err
				}
				metrics.SetGraphTotals(metrics.GraphTotals{
					Graphs:       totals.Graphs,
					Nodes:        totals.Nodes,
					Links:        totals.Links,
					Groups:       totals.Groups,
					NodesByGroup: totals.NodesByGroup,
				})
				return nil
			},
		})
	}
	return sources
}

// newMaintenance registers the recurring housekeeping tasks.
func newMaintenance(cfg *config.Config, sessions *session.Manager, queue *jobs.Manager, st *store.Store) *scheduler.Service {
	sched := scheduler.NewService(30 * time.Second)

	mustAdd(sched, "reap-idle-sessions", "@every 1m", func(ctx context.Context) error {
		if n := sessions.ReapIdle(cfg.SimIdleTimeout); n > 0 {
			logger.Info("Reaped idle simulations", "count", n, "idle_timeout", cfg.SimIdleTimeout)
		}
		return nil
	})

	mustAdd(sched, "trim-snapshots", "@every 5m", func(ctx context.Context) error {
		trimmed := 0
		for _, s := range sessions.List() {
			trimmed += s.History().TrimOlderThan(cfg.SnapshotMaxAge)
		}
		if trimmed > 0 {
			logger.Info("Trimmed stale snapshots", "count", trimmed, "max_age", cfg.SnapshotMaxAge)
		}
		return nil
	})

	mustAdd(sched, "sweep-jobs", "@every 10m", func(ctx context.Context) error {
		forgotten := queue.Forget(finishedJobMaxAge)
		bumped := queue.AgeStarved(starvedJobAge, 1)
		if forgotten > 0 || bumped > 0 {
			logger.Info("Swept job queue", "forgotten", forgotten, "priority_bumped", bumped)
		}
		return nil
	})

	if st != nil {
		mustAdd(sched, "prune-layouts", "@hourly", func(ctx context.Context) error {
			graphs, err := st.ListGraphs(ctx)
			if err != nil {
				return err
			}
			var pruned int64
			for _, g := range graphs {
				removed, err := st.PruneLayouts(ctx, g.Name, cfg.SnapshotRetention)
				if err != nil {
					return err
				}
				pruned += removed
			}
			if pruned > 0 {
				logger.Info("Pruned old layout versions", "count", pruned, "retention", cfg.SnapshotRetention)
			}
			return nil
		})
	}

	return sched
}

func mustAdd(sched *scheduler.Service, name, expr string, run func(ctx context.Context) error) {
	if err := sched.Add(name, expr, run); err != nil {
		log.Fatalf("Failed to register maintenance task %s: %v", name, err)
	}
}
