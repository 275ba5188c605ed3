// Package api assembles the HTTP surface: route registration in NewRouter
// and the outer middleware chain in NewHandler.
package api

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/exocortex-initiative/forcefield/internal/api/handlers"
	"github.com/exocortex-initiative/forcefield/internal/cache"
	"github.com/exocortex-initiative/forcefield/internal/config"
	"github.com/exocortex-initiative/forcefield/internal/jobs"
	"github.com/exocortex-initiative/forcefield/internal/middleware"
	"github.com/exocortex-initiative/forcefield/internal/session"
	"github.com/exocortex-initiative/forcefield/internal/store"
)

// Deps carries the shared services the routes close over. Store may be nil
// when persistence is disabled; Streams may be nil and is then built here.
type Deps struct {
	Store    *store.Store
	Cache    cache.Cache
	Sessions *session.Manager
	Jobs     *jobs.Manager
	Streams  *handlers.StreamHandler
}

// NewRouter registers every route. Middleware that must see unrouted
// requests (CORS preflight, rate limiting) lives in NewHandler instead.
func NewRouter(deps Deps) *mux.Router {
	cfg := config.Load()

	graphs := handlers.NewGraphsHandler(deps.Store, deps.Cache)
	sims := handlers.NewSimulationsHandler(deps.Sessions, deps.Store, deps.Cache)
	jobsH := handlers.NewJobsHandler(deps.Jobs, deps.Store)
	presets := handlers.NewPresetsHandler()
	adminH := handlers.NewAdminHandler(deps.Store, deps.Sessions, deps.Jobs)
	cacheAdmin := handlers.NewCacheAdminHandler(deps.Cache)
	streams := deps.Streams
	if streams == nil {
		streams = handlers.NewStreamHandler(deps.Sessions, deps.Store)
	}

	adminOnly := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminAPIToken == "" {
				http.Error(w, "admin token not configured", http.StatusServiceUnavailable)
				return
			}
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix ||
				subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(cfg.AdminAPIToken)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	r := mux.NewRouter()

	// Infrastructure endpoints outside the /api prefix
	r.HandleFunc("/healthz", handlers.Health).Methods("GET")
	r.HandleFunc("/readyz", handlers.Ready(deps.Store)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Profiling, admin-gated and audit-logged
	debugR := r.PathPrefix("/debug/pprof").Subrouter()
	debugR.Use(pprofAudit, adminOnly)
	debugR.HandleFunc("/cmdline", pprof.Cmdline)
	debugR.HandleFunc("/profile", pprof.Profile)
	debugR.HandleFunc("/symbol", pprof.Symbol)
	debugR.HandleFunc("/trace", pprof.Trace)
	debugR.PathPrefix("/").HandlerFunc(pprof.Index)
	debugR.HandleFunc("", pprof.Index)

	apiR := r.PathPrefix("/api").Subrouter()
	apiR.Use(middleware.Compress)

	// The stream upgrade hijacks the connection, which a wrapping response
	// writer cannot survive, so it registers on the root router.
	r.HandleFunc("/api/simulations/{id}/stream", streams.HandleStream).Methods("GET")

	// Graph ingestion caps bodies at the configured fetch size in the
	// handler; everything else gets the standard request cap.
	ingest := apiR.NewRoute().Subrouter()
	ingest.HandleFunc("/graphs", graphs.UploadGraph).Methods("POST")
	ingest.HandleFunc("/graphs/fetch", graphs.FetchGraph).Methods("POST")

	capped := apiR.NewRoute().Subrouter()
	capped.Use(middleware.ValidateRequestBody)

	// Service meta
	capped.HandleFunc("/health", handlers.Health).Methods("GET")
	capped.HandleFunc("/version", handlers.Version).Methods("GET")
	capped.HandleFunc("/status", handlers.GetStatus(deps.Sessions, deps.Jobs)).Methods("GET")

	// Graph documents
	capped.HandleFunc("/graphs", graphs.ListGraphs).Methods("GET")
	capped.Handle("/graphs/{name}", middleware.ETag(http.HandlerFunc(graphs.GetGraph))).Methods("GET")
	capped.HandleFunc("/graphs/{name}", graphs.DeleteGraph).Methods("DELETE")
	capped.HandleFunc("/graphs/{name}/export", graphs.ExportGraph).Methods("GET")
	capped.HandleFunc("/graphs/{name}/integrity", graphs.CheckIntegrity).Methods("GET")
	capped.HandleFunc("/graphs/{name}/repair", graphs.RepairGraph).Methods("POST")
	capped.HandleFunc("/graphs/{name}/groups", graphs.DetectGroups).Methods("POST")
	capped.Handle("/graphs/{name}/layout", middleware.ETag(http.HandlerFunc(graphs.GetLatestLayout))).Methods("GET")

	// Live simulations
	capped.HandleFunc("/simulations", sims.ListSimulations).Methods("GET")
	capped.HandleFunc("/simulations", sims.CreateSimulation).Methods("POST")
	capped.HandleFunc("/simulations/{id}", sims.GetSimulation).Methods("GET")
	capped.HandleFunc("/simulations/{id}", sims.ReleaseSimulation).Methods("DELETE")
	capped.HandleFunc("/simulations/{id}/start", sims.StartSimulation).Methods("POST")
	capped.HandleFunc("/simulations/{id}/stop", sims.StopSimulation).Methods("POST")
	capped.HandleFunc("/simulations/{id}/restart", sims.RestartSimulation).Methods("POST")
	capped.HandleFunc("/simulations/{id}/tick", sims.TickSimulation).Methods("POST")
	capped.HandleFunc("/simulations/{id}/positions", sims.GetPositions).Methods("GET")
	capped.HandleFunc("/simulations/{id}/positions/save", sims.SavePositions).Methods("POST")
	capped.HandleFunc("/simulations/{id}/export", sims.ExportPositions).Methods("GET")
	capped.HandleFunc("/simulations/{id}/params", sims.UpdateParams).Methods("PATCH")
	capped.HandleFunc("/simulations/{id}/nodes/{node}/pin", sims.PinNode).Methods("POST")
	capped.HandleFunc("/simulations/{id}/nodes/{node}/pin", sims.UnpinNode).Methods("DELETE")
	capped.HandleFunc("/simulations/{id}/forces", sims.ListForces).Methods("GET")
	capped.HandleFunc("/simulations/{id}/forces/{kind}", sims.SetForce).Methods("PUT")
	capped.HandleFunc("/simulations/{id}/forces/{kind}", sims.RemoveForce).Methods("DELETE")
	capped.HandleFunc("/simulations/{id}/snapshots", sims.CaptureSnapshot).Methods("POST")
	capped.HandleFunc("/simulations/{id}/snapshots", sims.ListSnapshots).Methods("GET")
	capped.HandleFunc("/simulations/{id}/snapshots/{version}", sims.GetSnapshot).Methods("GET")
	capped.HandleFunc("/simulations/{id}/diff", sims.GetDiffSince).Methods("GET")

	// Layout jobs
	capped.HandleFunc("/jobs", jobsH.ListJobs).Methods("GET")
	capped.HandleFunc("/jobs", jobsH.EnqueueJob).Methods("POST")
	capped.HandleFunc("/jobs/{id}", jobsH.GetJob).Methods("GET")
	capped.HandleFunc("/jobs/{id}", jobsH.CancelJob).Methods("DELETE")

	// Presets
	capped.HandleFunc("/presets", presets.ListPresets).Methods("GET")
	capped.HandleFunc("/presets/{name}", presets.GetPreset).Methods("GET")

	// Admin
	adminR := capped.PathPrefix("/admin").Subrouter()
	adminR.Use(adminOnly)
	adminR.HandleFunc("/services", adminH.GetServices).Methods("GET")
	adminR.HandleFunc("/services", adminH.UpdateServices).Methods("PUT", "POST")
	adminR.HandleFunc("/audit", adminH.ListAuditLog).Methods("GET")
	adminR.HandleFunc("/jobs/sweep", adminH.SweepJobs).Methods("POST")
	adminR.HandleFunc("/sessions/reap", adminH.ReapSessions).Methods("POST")
	adminR.HandleFunc("/cache/invalidate", cacheAdmin.InvalidateCache).Methods("POST")
	adminR.HandleFunc("/cache/stats", cacheAdmin.GetCacheStats).Methods("GET")

	return r
}

// pprofAudit records every profiling request before it is served.
func pprofAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.LogPprofAccess(r.Context(), r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// NewHandler wraps the router in the outer middleware chain. The returned
// stop function releases the rate limiter's cleanup goroutine.
func NewHandler(deps Deps) (http.Handler, func()) {
	cfg := config.Load()
	var h http.Handler = NewRouter(deps)

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORSAllowedOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	}

	stop := func() {}
	if cfg.EnableRateLimit {
		limiter := middleware.NewRateLimiter(
			cfg.RateLimitGlobal, cfg.RateLimitGlobalBurst,
			cfg.RateLimitPerIP, cfg.RateLimitPerIPBurst,
		)
		h = limiter.Limit(h)
		stop = limiter.Stop
	}

	// CORS answers preflights itself, so it sits outside the router and
	// in front of the limiter to keep preflights unmetered.
	h = middleware.CORS(corsCfg)(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.RecoverWithSentry(h)
	h = middleware.RequestID(h)
	return h, stop
}
