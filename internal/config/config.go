// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, the chain data source,
// the shared key-value store, rate limiting, verification and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Deployment modes. Production mode fails closed when the shared rate-limit
// store is unreachable; development mode falls back to a process-local limiter.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "lockd")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ChainConfig points at the block data source (an Esplora-style REST API).
type ChainConfig struct {
	APIURL         string        // CHAIN_API_URL
	RequestTimeout time.Duration // CHAIN_REQUEST_TIMEOUT, per HTTP call
	MaxRetries     int           // CHAIN_MAX_RETRIES, for transient failures
	HeightCacheTTL time.Duration // CHAIN_HEIGHT_CACHE_TTL
	Network        string        // CHAIN_NETWORK: mainnet|testnet|regtest
}

// RedisConfig configures the shared key-value store.
type RedisConfig struct {
	Addr        string        // REDIS_ADDR
	Password    string        // REDIS_PASSWORD
	DB          int           // REDIS_DB
	KeyPrefix   string        // REDIS_KEY_PREFIX
	DialTimeout time.Duration // REDIS_DIAL_TIMEOUT
}

// RateLimitConfig holds sliding-window limits per action class.
type RateLimitConfig struct {
	Window     time.Duration // RATE_WINDOW
	RecordLock int           // RATE_RECORD_LOCK, calls per window per user
	BuyContent int           // RATE_BUY_CONTENT
	API        int           // RATE_API, coarse per-identity HTTP limit
}

// VerifyConfig tunes on-chain verification.
type VerifyConfig struct {
	HeightTolerance  int64 // VERIFY_HEIGHT_TOLERANCE, blocks
	RequireUnspent   bool  // VERIFY_REQUIRE_UNSPENT
	MinConfirmations int64 // VERIFY_MIN_CONFIRMATIONS
}

// LockConfig bounds lock claims and market behaviour.
type LockConfig struct {
	MinAmount       int64  // LOCK_MIN_AMOUNT, base units
	MaxAmount       int64  // LOCK_MAX_AMOUNT
	MinBlocks       int64  // LOCK_MIN_BLOCKS
	MaxBlocks       int64  // LOCK_MAX_BLOCKS
	MinSaleRatioBps int64  // LOCK_MIN_SALE_RATIO_BPS, lock amount vs sale price
	HolderShareBps  int64  // MARKET_HOLDER_SHARE_BPS, holders' cut of a sale
	ProtocolTag     string // PROTOCOL_TAG, envelope namespace
}

// DecayConfig controls the background decay scheduler.
type DecayConfig struct {
	Interval time.Duration // DECAY_INTERVAL, 0 disables periodic passes
	LeaseTTL time.Duration // DECAY_LEASE_TTL, cross-instance pass lease
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
	DeployMode        string        // production|development

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes
	AdminToken  string // X-Admin-Token for /admin routes; empty disables the check

	// Storage
	DBPath string // SQLite path
	Redis  RedisConfig

	// Chain
	Chain  ChainConfig
	Verify VerifyConfig
	Locks  LockConfig
	Decay  DecayConfig

	// Rate limiting
	Rate RateLimitConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyLease time.Duration // how long an in-flight record blocks duplicates

	// Observability
	OTEL OTELConfig
}

// IsProduction reports whether the deployment runs multiple instances.
func (c Config) IsProduction() bool { return c.DeployMode == ModeProduction }

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
		DeployMode:        strings.ToLower(getenv("DEPLOY_MODE", ModeProduction)),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		AdminToken:  getenv("ADMIN_TOKEN", ""),

		// Storage
		DBPath: getenv("DB_PATH", "lockd.db"),
		Redis: RedisConfig{
			Addr:        getenv("REDIS_ADDR", "localhost:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          getint("REDIS_DB", 0),
			KeyPrefix:   getenv("REDIS_KEY_PREFIX", "lockd:"),
			DialTimeout: getdur("REDIS_DIAL_TIMEOUT", 3*time.Second),
		},

		// Chain
		Chain: ChainConfig{
			APIURL:         strings.TrimRight(getenv("CHAIN_API_URL", "https://blockstream.info/api"), "/"),
			RequestTimeout: getdur("CHAIN_REQUEST_TIMEOUT", 10*time.Second),
			MaxRetries:     getint("CHAIN_MAX_RETRIES", 2),
			HeightCacheTTL: getdur("CHAIN_HEIGHT_CACHE_TTL", 30*time.Second),
			Network:        strings.ToLower(getenv("CHAIN_NETWORK", "mainnet")),
		},
		Verify: VerifyConfig{
			HeightTolerance:  getint64("VERIFY_HEIGHT_TOLERANCE", 5),
			RequireUnspent:   getbool("VERIFY_REQUIRE_UNSPENT", false),
			MinConfirmations: getint64("VERIFY_MIN_CONFIRMATIONS", 0),
		},
		Locks: LockConfig{
			MinAmount:       getint64("LOCK_MIN_AMOUNT", 1000),
			MaxAmount:       getint64("LOCK_MAX_AMOUNT", 21_000_000*100_000_000),
			MinBlocks:       getint64("LOCK_MIN_BLOCKS", 1),
			MaxBlocks:       getint64("LOCK_MAX_BLOCKS", 52_560),
			MinSaleRatioBps: getint64("LOCK_MIN_SALE_RATIO_BPS", 1000),
			HolderShareBps:  getint64("MARKET_HOLDER_SHARE_BPS", 1000),
			ProtocolTag:     getenv("PROTOCOL_TAG", "lockd"),
		},
		Decay: DecayConfig{
			Interval: getdur("DECAY_INTERVAL", time.Minute),
			LeaseTTL: getdur("DECAY_LEASE_TTL", 30*time.Second),
		},

		// Rate limiting
		Rate: RateLimitConfig{
			Window:     getdur("RATE_WINDOW", time.Minute),
			RecordLock: getint("RATE_RECORD_LOCK", 5),
			BuyContent: getint("RATE_BUY_CONTENT", 5),
			API:        getint("RATE_API", 300),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyLease: getdur("IDEMPOTENCY_LEASE", 2*time.Minute),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "lockd"),
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
	switch cfg.DeployMode {
	case "prod":
		cfg.DeployMode = ModeProduction
	case "dev":
		cfg.DeployMode = ModeDevelopment
	}
	if cfg.Chain.MaxRetries < 0 {
		cfg.Chain.MaxRetries = 0
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	switch cfg.DeployMode {
	case ModeProduction, ModeDevelopment:
	default:
		return cfg, errors.New("DEPLOY_MODE must be production or development")
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
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return cfg, errors.New("REDIS_ADDR must not be empty")
	}
	if !strings.HasPrefix(cfg.Chain.APIURL, "http://") && !strings.HasPrefix(cfg.Chain.APIURL, "https://") {
		return cfg, errors.New("CHAIN_API_URL must be an http(s) URL")
	}
	if cfg.Chain.RequestTimeout <= 0 {
		return cfg, errors.New("CHAIN_REQUEST_TIMEOUT must be > 0")
	}
	switch cfg.Chain.Network {
	case "mainnet", "testnet", "regtest":
	default:
		return cfg, errors.New("CHAIN_NETWORK must be one of: mainnet, testnet, regtest")
	}
	if cfg.Verify.HeightTolerance < 0 {
		return cfg, errors.New("VERIFY_HEIGHT_TOLERANCE must be >= 0")
	}
	if cfg.Verify.MinConfirmations < 0 {
		return cfg, errors.New("VERIFY_MIN_CONFIRMATIONS must be >= 0")
	}
	if cfg.Locks.MinAmount < 1 || cfg.Locks.MaxAmount < cfg.Locks.MinAmount {
		return cfg, errors.New("LOCK_MIN_AMOUNT must be >= 1 and <= LOCK_MAX_AMOUNT")
	}
	if cfg.Locks.MinBlocks < 1 || cfg.Locks.MaxBlocks < cfg.Locks.MinBlocks {
		return cfg, errors.New("LOCK_MIN_BLOCKS must be >= 1 and <= LOCK_MAX_BLOCKS")
	}
	if cfg.Locks.MinSaleRatioBps < 0 {
		return cfg, errors.New("LOCK_MIN_SALE_RATIO_BPS must be >= 0")
	}
	if cfg.Locks.HolderShareBps < 0 || cfg.Locks.HolderShareBps > 10_000 {
		return cfg, errors.New("MARKET_HOLDER_SHARE_BPS must be in [0,10000]")
	}
	if strings.TrimSpace(cfg.Locks.ProtocolTag) == "" {
		return cfg, errors.New("PROTOCOL_TAG must not be empty")
	}
	if cfg.Decay.Interval < 0 {
		return cfg, errors.New("DECAY_INTERVAL must be >= 0")
	}
	if cfg.Decay.LeaseTTL <= 0 {
		return cfg, errors.New("DECAY_LEASE_TTL must be > 0")
	}
	if cfg.Rate.Window <= 0 {
		return cfg, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.Rate.RecordLock < 1 || cfg.Rate.BuyContent < 1 || cfg.Rate.API < 1 {
		return cfg, errors.New("RATE_* limits must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyLease <= 0 {
		return cfg, errors.New("IDEMPOTENCY_LEASE must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(strings.ReplaceAll(v, "_", ""), 10, 64); err == nil {
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
