package config

import (
	"os"
	"strings"
	"time"

	"github.com/exocortex-initiative/forcefield/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	// HTTP graph source fetching
	UserAgent      string
	HTTPMaxRetries int
	HTTPRetryBase  time.Duration
	HTTPTimeout    time.Duration
	LogHTTPRetries bool
	MaxFetchBytes  int64   // cap on remote graph document size
	FetchRPS       float64 // requests per second to remote graph sources
	FetchBurst     int     // burst size for the fetch rate limit

	// Simulation settings
	SimTickInterval  time.Duration // wall-clock spacing of ticks in Run mode
	SimMaxNodes      int           // reject graphs larger than this
	SimMaxConcurrent int           // cap on simultaneously running simulations
	SimIdleTimeout   time.Duration // stop simulations nobody has touched for this long
	GPUEnabled       bool          // allow the compute backend at all
	GPUMinNodes      int           // below this node count the CPU backend wins anyway
	DefaultPreset    string        // preset applied when a request names none
	PresetDir        string        // directory of TOML preset files, empty for builtins only

	// Layout job settings
	JobWorkers     int
	JobQueueSize   int
	JobMaxRetries  int
	JobRetryBase   time.Duration
	LayoutMaxTicks int     // tick budget for one-shot layout jobs
	LayoutEpsilon  float64 // minimum movement for a position write (0 = write all)

	// Snapshot settings
	SnapshotRetention int           // versions kept per simulation
	SnapshotMaxAge    time.Duration // scheduler trims snapshots older than this

	// Storage
	DatabaseURL        string
	DBStatementTimeout time.Duration
	DBBatchSize        int
	RedisAddr          string
	RedisPassword      string
	RedisDB            int

	// Response cache
	CacheEnabled    bool
	CacheMaxSizeMB  int           // in-process cache budget
	CacheMaxEntries int           // in-process cache entry cap
	CacheTTL        time.Duration // default TTL for cached responses

	// Server
	Port            int
	AdminAPIToken   string
	WSFrameInterval time.Duration // spacing of position frames on the stream
	// Security settings
	RateLimitGlobal      float64  // requests per second globally
	RateLimitGlobalBurst int      // burst size for global rate limit
	RateLimitPerIP       float64  // requests per second per IP
	RateLimitPerIPBurst  int      // burst size for per-IP rate limit
	CORSAllowedOrigins   []string // allowed CORS origins
	EnableRateLimit      bool     // enable rate limiting middleware

	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	ua := os.Getenv("USER_AGENT")
	if strings.TrimSpace(ua) == "" {
		ua = "forcefield/0.1"
	}
	cached = &Config{
		UserAgent:      ua,
		HTTPMaxRetries: utils.GetEnvAsInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:  time.Duration(utils.GetEnvAsInt("HTTP_RETRY_BASE_MS", 300)) * time.Millisecond,
		HTTPTimeout:    time.Duration(utils.GetEnvAsInt("HTTP_TIMEOUT_MS", 15000)) * time.Millisecond,
		LogHTTPRetries: utils.GetEnvAsBool("LOG_HTTP_RETRIES", false),
		MaxFetchBytes:  int64(utils.GetEnvAsInt("MAX_FETCH_MB", 64)) << 20,
		FetchRPS:       utils.GetEnvAsFloat("FETCH_RPS", 5.0),
		FetchBurst:     utils.GetEnvAsInt("FETCH_BURST", 2),

		SimTickInterval:  time.Duration(utils.GetEnvAsInt("SIM_TICK_INTERVAL_MS", 16)) * time.Millisecond,
		SimMaxNodes:      utils.GetEnvAsInt("SIM_MAX_NODES", 50000),
		SimMaxConcurrent: utils.GetEnvAsInt("SIM_MAX_CONCURRENT", 16),
		SimIdleTimeout:   time.Duration(utils.GetEnvAsInt("SIM_IDLE_TIMEOUT_MIN", 30)) * time.Minute,
		GPUEnabled:       utils.GetEnvAsBool("GPU_ENABLED", true),
		GPUMinNodes:      utils.GetEnvAsInt("GPU_MIN_NODES", 2000),
		DefaultPreset:    strings.TrimSpace(os.Getenv("DEFAULT_PRESET")),
		PresetDir:        strings.TrimSpace(os.Getenv("PRESET_DIR")),

		JobWorkers:     utils.GetEnvAsInt("JOB_WORKERS", 2),
		JobQueueSize:   utils.GetEnvAsInt("JOB_QUEUE_SIZE", 64),
		JobMaxRetries:  utils.GetEnvAsInt("JOB_MAX_RETRIES", 2),
		JobRetryBase:   time.Duration(utils.GetEnvAsInt("JOB_RETRY_BASE_MS", 500)) * time.Millisecond,
		LayoutMaxTicks: utils.GetEnvAsInt("LAYOUT_MAX_TICKS", 300),
		LayoutEpsilon:  utils.GetEnvAsFloat("LAYOUT_EPSILON", 0.0),

		SnapshotRetention: utils.GetEnvAsInt("SNAPSHOT_RETENTION", 10),
		SnapshotMaxAge:    time.Duration(utils.GetEnvAsInt("SNAPSHOT_MAX_AGE_MIN", 60)) * time.Minute,

		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBStatementTimeout: time.Duration(utils.GetEnvAsInt("DB_STATEMENT_TIMEOUT_MS", 25000)) * time.Millisecond,
		DBBatchSize:        utils.GetEnvAsInt("DB_BATCH_SIZE", 1000),
		RedisAddr:          strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            utils.GetEnvAsInt("REDIS_DB", 0),

		CacheEnabled:    utils.GetEnvAsBool("CACHE_ENABLED", true),
		CacheMaxSizeMB:  utils.GetEnvAsInt("CACHE_MAX_SIZE_MB", 64),
		CacheMaxEntries: utils.GetEnvAsInt("CACHE_MAX_ENTRIES", 10000),
		CacheTTL:        time.Duration(utils.GetEnvAsInt("CACHE_TTL_SEC", 30)) * time.Second,

		Port:            utils.GetEnvAsInt("PORT", 8000),
		AdminAPIToken:   strings.TrimSpace(os.Getenv("ADMIN_API_TOKEN")),
		WSFrameInterval: time.Duration(utils.GetEnvAsInt("WS_FRAME_INTERVAL_MS", 50)) * time.Millisecond,
		// Security settings with sensible defaults
		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 10.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 20),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),
		// Observability settings
		LogLevel:          strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	if cached.DefaultPreset == "" {
		cached.DefaultPreset = "default"
	}
	if cached.LogLevel == "" {
		cached.LogLevel = "info"
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}

	// Parse CORS allowed origins
	corsOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if corsOrigins == "" {
		// Default to common development origins
		cached.CORSAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	} else {
		cached.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i := range cached.CORSAllowedOrigins {
			cached.CORSAllowedOrigins[i] = strings.TrimSpace(cached.CORSAllowedOrigins[i])
		}
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }

// GetEnvBool reads a boolean environment variable with a default.
// Use this when you need to check a flag not present in the cached config.
func (c *Config) GetEnvBool(key string, def bool) bool {
	return utils.GetEnvAsBool(key, def)
}
