package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Simulation metrics
	SimulationTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulation_ticks_total",
			Help: "Total number of simulation ticks executed",
		},
		[]string{"backend"}, // backend: cpu, gpu
	)

	SimulationTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simulation_tick_duration_seconds",
			Help:    "Duration of a single simulation tick in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend"},
	)

	SimulationAlpha = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "simulation_alpha",
			Help: "Current alpha (cooling temperature) per simulation",
		},
		[]string{"simulation"},
	)

	SimulationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simulations_active",
			Help: "Number of simulations currently running",
		},
	)

	BackendFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulation_backend_fallbacks_total",
			Help: "Total number of GPU-to-CPU backend fallbacks",
		},
		[]string{"reason"}, // reason: no_gpu, device_lost, tick_error
	)

	// Layout job metrics
	LayoutJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layout_jobs_total",
			Help: "Total number of layout jobs processed",
		},
		[]string{"status"}, // status: success, failed
	)

	LayoutJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "layout_job_duration_seconds",
			Help:    "Duration of layout jobs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	LayoutJobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "layout_jobs_pending",
			Help: "Number of pending layout jobs",
		},
	)

	LayoutJobsProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "layout_jobs_processing",
			Help: "Number of layout jobs currently processing",
		},
	)

	LayoutJobsCompleted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "layout_jobs_completed",
			Help: "Number of completed layout jobs",
		},
	)

	LayoutJobsFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "layout_jobs_failed",
			Help: "Number of failed layout jobs",
		},
	)

	// Graph source metrics
	SourceHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_http_requests_total",
			Help: "Total number of HTTP requests made to graph sources",
		},
		[]string{"status"}, // status: success, retry, failure
	)

	SourceHTTPRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_http_retries_total",
			Help: "Total number of graph source request retries",
		},
	)

	SourceRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "source_rate_limit_waits_total",
			Help: "Total number of times a graph source fetch waited for rate limit",
		},
	)

	// Database operation metrics
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Duration of database operations",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	DBOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// API cache metrics
	APICacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_hits_total",
			Help: "Total number of API cache hits",
		},
		[]string{"endpoint"},
	)

	APICacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_misses_total",
			Help: "Total number of API cache misses",
		},
		[]string{"endpoint"},
	)

	APICacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_cache_size_bytes",
			Help: "Approximate payload bytes held by the API cache",
		},
	)

	APICacheItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_cache_items",
			Help: "Current number of items in the API cache",
		},
	)

	APICacheEvictions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_cache_evictions_total",
			Help: "Evictions reported by the cache since start",
		},
	)

	// Graph metrics
	GraphsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "graphs_stored_total",
			Help: "Number of graphs currently persisted",
		},
	)

	GraphNodesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graph_nodes_total",
			Help: "Total number of stored nodes by group",
		},
		[]string{"group"},
	)

	GraphEdgesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "graph_edges_total",
			Help: "Total number of stored links across all graphs",
		},
	)

	GraphLayoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graph_layout_duration_seconds",
			Help:    "Duration of a full layout run to convergence in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	GraphLayoutErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "graph_layout_errors_total",
			Help: "Total number of layout run errors",
		},
	)

	// API request metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Group detection metrics
	GroupsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "groups_total",
			Help: "Number of distinct node groups across stored graphs",
		},
	)

	GroupDetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "group_detection_duration_seconds",
			Help:    "Duration of group detection in seconds",
			Buckets: []float64{0.01, 0.1, 1, 5, 10, 30, 60},
		},
	)

	// Metrics collection error tracking
	MetricsCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_collection_errors_total",
			Help: "Total number of errors during metrics collection",
		},
		[]string{"collector"}, // collector: graphs, cache
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent to clients",
		},
	)
)
