// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, the outbound mailer,
// worker cadence, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-newsletter-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MailerConfig defines the outbound email provider settings.
type MailerConfig struct {
	BaseURL     string        // MAILER_BASE_URL (provider API root)
	SenderEmail string        // MAILER_SENDER_EMAIL (From address)
	AuthToken   string        // MAILER_AUTH_TOKEN (provider server token)
	Timeout     time.Duration // MAILER_TIMEOUT (per-send client timeout)
}

// WorkerConfig defines the delivery worker cadence.
type WorkerConfig struct {
	Count         int           // WORKER_COUNT (concurrent worker loops)
	PollInterval  time.Duration // WORKER_POLL_INTERVAL (sleep on empty queue)
	ErrorBackoff  time.Duration // WORKER_ERROR_BACKOFF (sleep on unexpected error)
	LeaseDuration time.Duration // WORKER_LEASE_DURATION (task claim lease)
}

// IdempotencyConfig defines the safe-retry settings for the publish endpoint.
type IdempotencyConfig struct {
	KeyMaxLen int           // IDEMPOTENCY_KEY_MAX_LEN (cap on client-supplied keys)
	ClaimTTL  time.Duration // IDEMPOTENCY_CLAIM_TTL (age after which a bare claim is retryable)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	APIBasePath string // base path for API routes
	DBPath      string // SQLite path
	BaseURL     string // public base URL used in confirmation links

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Delivery pipeline
	Mailer      MailerConfig
	Worker      WorkerConfig
	Idempotency IdempotencyConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/")),
		DBPath:      getenv("DB_PATH", "newsletter.db"),
		BaseURL:     strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Delivery pipeline
		Mailer: MailerConfig{
			BaseURL:     getenv("MAILER_BASE_URL", ""),
			SenderEmail: getenv("MAILER_SENDER_EMAIL", ""),
			AuthToken:   getenv("MAILER_AUTH_TOKEN", ""),
			Timeout:     getdur("MAILER_TIMEOUT", 10*time.Second),
		},
		Worker: WorkerConfig{
			Count:         getint("WORKER_COUNT", 1),
			PollInterval:  getdur("WORKER_POLL_INTERVAL", 10*time.Second),
			ErrorBackoff:  getdur("WORKER_ERROR_BACKOFF", time.Second),
			LeaseDuration: getdur("WORKER_LEASE_DURATION", time.Minute),
		},
		Idempotency: IdempotencyConfig{
			KeyMaxLen: getint("IDEMPOTENCY_KEY_MAX_LEN", 50),
			ClaimTTL:  getdur("IDEMPOTENCY_CLAIM_TTL", time.Minute),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-newsletter-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Mailer.Timeout <= 0 {
		return cfg, errors.New("MAILER_TIMEOUT must be > 0")
	}
	if cfg.Worker.Count < 1 {
		return cfg, errors.New("WORKER_COUNT must be >= 1")
	}
	if cfg.Worker.PollInterval <= 0 || cfg.Worker.ErrorBackoff <= 0 {
		return cfg, errors.New("worker intervals must be positive durations")
	}
	if cfg.Worker.LeaseDuration <= 0 {
		return cfg, errors.New("WORKER_LEASE_DURATION must be > 0")
	}
	if cfg.Idempotency.KeyMaxLen < 1 {
		return cfg, errors.New("IDEMPOTENCY_KEY_MAX_LEN must be >= 1")
	}
	if cfg.Idempotency.ClaimTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_CLAIM_TTL must be > 0")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
