package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Statistics cache backends
const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Cache         CacheConfig
	Retention     RetentionConfig
	Archive       ArchiveConfig
	Identity      IdentityConfig
	Alerts        AlertsConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig selects and tunes the audit event repository
type StorageConfig struct {
	Type             string
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
	PostgresLifetime time.Duration
	SQLitePath       string
}

// CacheConfig controls statistics caching
type CacheConfig struct {
	Type          string
	TTL           time.Duration
	LRUSize       int
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// RetentionConfig controls the retention job
type RetentionConfig struct {
	DaysToKeep     int
	Schedule       string
	ArchiveEnabled bool
}

// ArchiveConfig points at the object store that receives archived events
type ArchiveConfig struct {
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	Prefix         string
}

// IdentityConfig controls how callers are resolved
type IdentityConfig struct {
	DirectoryFile  string
	WatchDirectory bool
	TrustHeaders   bool

	// Bearer ID tokens from an OpenID Connect issuer
	OIDCIssuerURL   string
	OIDCClientID    string
	OIDCUserIDClaim string
	OIDCRolesClaim  string
}

// AlertsConfig controls webhook alerts for high-risk events
type AlertsConfig struct {
	WebhookURLs   []string
	WebhookSecret string
	MinRiskLevel  string
	Workers       int
	QueueSize     int
	Timeout       time.Duration
	MaxAttempts   int
}

// Enabled reports whether any alert endpoint is configured
func (a AlertsConfig) Enabled() bool {
	return len(a.WebhookURLs) > 0
}

// RateLimitConfig controls per-caller request limits
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Cache:         loadCacheConfig(),
		Retention:     loadRetentionConfig(),
		Archive:       loadArchiveConfig(),
		Identity:      loadIdentityConfig(),
		Alerts:        loadAlertsConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("COURSETRAIL_HOST", "0.0.0.0"),
		Port:            getEnv("COURSETRAIL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("COURSETRAIL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("COURSETRAIL_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("COURSETRAIL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("COURSETRAIL_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("COURSETRAIL_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("COURSETRAIL_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:             strings.ToLower(getEnv("COURSETRAIL_STORAGE_TYPE", StorageMemory)),
		PostgresURL:      getEnv("COURSETRAIL_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("COURSETRAIL_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: getEnvInt("COURSETRAIL_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:  getEnvDuration("COURSETRAIL_POSTGRES_TIMEOUT", 10*time.Second),
		PostgresLifetime: getEnvDuration("COURSETRAIL_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		SQLitePath:       getEnv("COURSETRAIL_SQLITE_PATH", "coursetrail.db"),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Type:          strings.ToLower(getEnv("COURSETRAIL_CACHE_TYPE", CacheNone)),
		TTL:           getEnvDuration("COURSETRAIL_CACHE_TTL", time.Minute),
		LRUSize:       getEnvInt("COURSETRAIL_CACHE_LRU_SIZE", 16),
		RedisURL:      getEnv("COURSETRAIL_REDIS_URL", "redis://localhost:6379/0"),
		RedisPassword: getEnv("COURSETRAIL_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("COURSETRAIL_REDIS_DB", -1),
	}
}

func loadRetentionConfig() RetentionConfig {
	return RetentionConfig{
		DaysToKeep:     getEnvInt("COURSETRAIL_RETENTION_DAYS", 365),
		Schedule:       getEnv("COURSETRAIL_RETENTION_SCHEDULE", "0 3 * * *"),
		ArchiveEnabled: getEnvBool("COURSETRAIL_RETENTION_ARCHIVE", false),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		S3Endpoint:     getEnv("COURSETRAIL_S3_ENDPOINT", ""),
		S3Region:       getEnv("COURSETRAIL_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("COURSETRAIL_S3_BUCKET", ""),
		S3AccessKey:    getEnv("COURSETRAIL_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("COURSETRAIL_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("COURSETRAIL_S3_USE_PATH_STYLE", false),
		Prefix:         getEnv("COURSETRAIL_ARCHIVE_PREFIX", "coursetrail/archive"),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		DirectoryFile:  getEnv("COURSETRAIL_DIRECTORY_FILE", ""),
		WatchDirectory: getEnvBool("COURSETRAIL_DIRECTORY_WATCH", true),
		TrustHeaders:   getEnvBool("COURSETRAIL_TRUST_HEADERS", false),

		OIDCIssuerURL:   getEnv("COURSETRAIL_OIDC_ISSUER_URL", ""),
		OIDCClientID:    getEnv("COURSETRAIL_OIDC_CLIENT_ID", ""),
		OIDCUserIDClaim: getEnv("COURSETRAIL_OIDC_USER_ID_CLAIM", "user_id"),
		OIDCRolesClaim:  getEnv("COURSETRAIL_OIDC_ROLES_CLAIM", "roles"),
	}
}

func loadAlertsConfig() AlertsConfig {
	return AlertsConfig{
		WebhookURLs:   getEnvList("COURSETRAIL_ALERT_WEBHOOK_URLS"),
		WebhookSecret: getEnv("COURSETRAIL_ALERT_WEBHOOK_SECRET", ""),
		MinRiskLevel:  strings.ToLower(getEnv("COURSETRAIL_ALERT_MIN_RISK", "high")),
		Workers:       getEnvInt("COURSETRAIL_ALERT_WORKERS", 2),
		QueueSize:     getEnvInt("COURSETRAIL_ALERT_QUEUE_SIZE", 256),
		Timeout:       getEnvDuration("COURSETRAIL_ALERT_TIMEOUT", 10*time.Second),
		MaxAttempts:   getEnvInt("COURSETRAIL_ALERT_MAX_ATTEMPTS", 5),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("COURSETRAIL_RATE_LIMIT_ENABLED", false),
		RequestsPerWindow: getEnvInt("COURSETRAIL_RATE_LIMIT_REQUESTS", 600),
		Window:            getEnvDuration("COURSETRAIL_RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("COURSETRAIL_RATE_LIMIT_BURST", 60),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("COURSETRAIL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("COURSETRAIL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("COURSETRAIL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("COURSETRAIL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("COURSETRAIL_OTEL_SERVICE_NAME", "coursetrail"),
		OTelServiceVersion: getEnv("COURSETRAIL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("COURSETRAIL_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("COURSETRAIL_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, postgres, or sqlite)", c.Storage.Type)
	}

	switch c.Cache.Type {
	case CacheNone:
	case CacheLRU:
		if c.Cache.LRUSize <= 0 {
			return fmt.Errorf("LRU cache size must be positive")
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis cache")
		}
	default:
		return fmt.Errorf("invalid cache type: %s (must be none, lru, or redis)", c.Cache.Type)
	}
	if c.Cache.Type != CacheNone && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Retention.DaysToKeep <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if c.Retention.ArchiveEnabled && c.Archive.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when archiving is enabled")
	}

	if c.Identity.OIDCIssuerURL != "" && c.Identity.OIDCClientID == "" {
		return fmt.Errorf("OIDC client ID is required when an OIDC issuer is configured")
	}

	if c.Alerts.Enabled() {
		switch c.Alerts.MinRiskLevel {
		case "low", "medium", "high", "critical":
		default:
			return fmt.Errorf("invalid alert risk level: %s", c.Alerts.MinRiskLevel)
		}
		if c.Alerts.MaxAttempts <= 0 {
			return fmt.Errorf("alert max attempts must be positive")
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
