// Package config reads the service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "fieldops-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RemoteConfig selects and parameterizes the remote record backend. Only the
// backend kind and its static coordinates live here; the user-delegated
// access grant arrives with the connect request.
type RemoteConfig struct {
	Backend       string // sheets|mongo
	SpreadsheetID string // SHEETS_SPREADSHEET_ID
	GoogleAPIKey  string // GOOGLE_API_KEY
	MongoURI      string // MONGO_URI
	MongoDatabase string // MONGO_DATABASE
}

// AIConfig configures the AI assist gateway.
type AIConfig struct {
	Provider    string        // openai|anthropic
	APIKey      string        // AI_API_KEY; empty disables AI features
	BaseURL     string        // AI_BASE_URL, OpenAI-compatible endpoints only
	Model       string        // AI_MODEL
	Temperature float64       // AI_TEMPERATURE in [0..2]
	MaxRetries  int           // AI_MAX_RETRIES (>= 0)
	RetryDelay  time.Duration // AI_RETRY_DELAY, multiplied by the attempt number
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s, AI calls can be slow
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath    string  // SQLite path (local record store + reference data)
	Threshold float64 // knowledge-base confidence threshold [0,1]

	// Stores and AI
	Remote RemoteConfig
	AI     AIConfig

	// Rate limiting (AI endpoints)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// Load reads the configuration from the environment, fills defaults and
// validates the result. Every invalid setting is reported, joined into one
// error.
func Load() (Config, error) {
	cfg := Config{
		Port:              env("PORT", "8080"),
		ReadTimeout:       env("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: env("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      env("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       env("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    env("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(env("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(env("LOG_LEVEL", "info")),
		LogPretty:      env("LOG_PRETTY", false),
		SwaggerEnabled: env("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(env("API_BASE_PATH", "/api/v1")),

		DBPath:    env("DB_PATH", "fieldops.db"),
		Threshold: env("THRESHOLD", 0.2),

		Remote: RemoteConfig{
			Backend:       strings.ToLower(env("STORE_BACKEND", "sheets")),
			SpreadsheetID: env("SHEETS_SPREADSHEET_ID", ""),
			GoogleAPIKey:  env("GOOGLE_API_KEY", ""),
			MongoURI:      env("MONGO_URI", ""),
			MongoDatabase: env("MONGO_DATABASE", "fieldops"),
		},
		AI: AIConfig{
			Provider:    strings.ToLower(env("AI_PROVIDER", "openai")),
			APIKey:      env("AI_API_KEY", ""),
			BaseURL:     env("AI_BASE_URL", ""),
			Model:       env("AI_MODEL", ""),
			Temperature: env("AI_TEMPERATURE", 0.3),
			MaxRetries:  env("AI_MAX_RETRIES", 2),
			RetryDelay:  env("AI_RETRY_DELAY", time.Second),
		},

		RateRPS:   env("RATE_RPS", 2.0),
		RateBurst: env("RATE_BURST", 5),

		CORS: CORSConfig{AllowedOrigins: splitCSV(env("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: env("ENABLE_HSTS", false),
			HSTSMaxAge: env("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: env("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     env("OTEL_ENABLED", false),
			Endpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    env("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: env("OTEL_SERVICE_NAME", "fieldops-backend"),
			SampleRatio: env("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	cfg.normalize()
	return cfg, cfg.validate()
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	if !oneOf(c.GinMode, "debug", "release", "test") {
		c.GinMode = "release"
	}
	if c.Remote.Backend == "mongodb" {
		c.Remote.Backend = "mongo"
	}
	if c.AI.Model == "" {
		c.AI.Model = defaultModel(c.AI.Provider)
	}
}

func (c Config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
		"LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(c.DBPath) != "", "DB_PATH must not be empty")
	check(c.Threshold >= 0 && c.Threshold <= 1, "THRESHOLD must be between 0 and 1")
	check(oneOf(c.Remote.Backend, "sheets", "mongo"), "STORE_BACKEND must be one of: sheets, mongo")
	check(oneOf(c.AI.Provider, "openai", "anthropic"), "AI_PROVIDER must be one of: openai, anthropic")
	check(c.AI.Temperature >= 0 && c.AI.Temperature <= 2, "AI_TEMPERATURE must be between 0 and 2")
	check(c.AI.MaxRetries >= 0, "AI_MAX_RETRIES must be >= 0")
	check(c.AI.RetryDelay >= 0, "AI_RETRY_DELAY must be >= 0")
	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errors.Join(errs...)
}

// AIEnabled reports whether an API key is configured for the AI gateway.
func (c Config) AIEnabled() bool { return strings.TrimSpace(c.AI.APIKey) != "" }

func defaultModel(provider string) string {
	if provider == "anthropic" {
		return "claude-3-5-haiku-latest"
	}
	return "gpt-4o-mini"
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// env returns the variable k parsed as T, or def when it is unset, empty or
// does not parse.
func env[T string | bool | int | float64 | time.Duration](k string, def T) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	var out any
	var err error
	switch any(def).(type) {
	case string:
		out = v
	case bool:
		out, err = parseBool(v)
	case int:
		out, err = strconv.Atoi(v)
	case float64:
		out, err = strconv.ParseFloat(v, 64)
	case time.Duration:
		out, err = time.ParseDuration(v)
	}
	if err != nil {
		return def
	}
	return out.(T)
}

// parseBool accepts the usual on/off spellings on top of strconv's.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// blank means "/".
func normalizeBasePath(p string) string {
	p = "/" + strings.Trim(strings.TrimSpace(p), "/")
	return p
}
