package config

import (
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/coursetrail/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CT_TEST_STR", "custom")
	t.Setenv("CT_TEST_BOOL", "1")
	t.Setenv("CT_TEST_INT", "42")
	t.Setenv("CT_TEST_BAD_INT", "forty")
	t.Setenv("CT_TEST_INT64", "9000000000")
	t.Setenv("CT_TEST_DUR", "90s")

	if got := getEnv("CT_TEST_STR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("CT_TEST_UNSET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
	if got := getEnvBool("CT_TEST_BOOL", false); !got {
		t.Errorf("getEnvBool() = %v, want true", got)
	}
	if got := getEnvInt("CT_TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("CT_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want default 7", got)
	}
	if got := getEnvInt64("CT_TEST_INT64", 0); got != 9000000000 {
		t.Errorf("getEnvInt64() = %v, want 9000000000", got)
	}
	if got := getEnvDuration("CT_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Storage.Type != StorageMemory {
		t.Errorf("Storage.Type = %v, want memory", cfg.Storage.Type)
	}
	if cfg.Cache.Type != CacheNone {
		t.Errorf("Cache.Type = %v, want none", cfg.Cache.Type)
	}
	if cfg.Retention.DaysToKeep != 365 {
		t.Errorf("Retention.DaysToKeep = %v, want 365", cfg.Retention.DaysToKeep)
	}
	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected ports %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("COURSETRAIL_STORAGE_TYPE", "Postgres")
	t.Setenv("COURSETRAIL_POSTGRES_URL", "postgres://localhost/coursetrail")
	t.Setenv("COURSETRAIL_CACHE_TYPE", "redis")
	t.Setenv("COURSETRAIL_REDIS_DB", "2")
	t.Setenv("COURSETRAIL_RETENTION_ARCHIVE", "true")
	t.Setenv("COURSETRAIL_S3_BUCKET", "audit-archive")
	t.Setenv("COURSETRAIL_TRUST_HEADERS", "true")
	t.Setenv("COURSETRAIL_OIDC_ISSUER_URL", "https://id.example.edu")
	t.Setenv("COURSETRAIL_OIDC_CLIENT_ID", "coursetrail")
	t.Setenv("COURSETRAIL_ALERT_WEBHOOK_URLS", "https://hooks.example.edu/a, ,https://hooks.example.edu/b")
	t.Setenv("COURSETRAIL_ALERT_MIN_RISK", "Critical")
	t.Setenv("COURSETRAIL_RATE_LIMIT_ENABLED", "1")
	t.Setenv("COURSETRAIL_LOG_LEVEL", "warning")
	t.Setenv("COURSETRAIL_OTEL_SAMPLE_RATIO", "0.1")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Storage.Type != StoragePostgres {
		t.Errorf("Storage.Type = %v, want postgres", cfg.Storage.Type)
	}
	if cfg.Cache.RedisDB != 2 {
		t.Errorf("Cache.RedisDB = %v, want 2", cfg.Cache.RedisDB)
	}
	if !cfg.Retention.ArchiveEnabled || cfg.Archive.S3Bucket != "audit-archive" {
		t.Errorf("archive settings not loaded: %+v %+v", cfg.Retention, cfg.Archive)
	}
	if !cfg.Identity.TrustHeaders {
		t.Error("Identity.TrustHeaders = false, want true")
	}
	if cfg.Identity.OIDCClientID != "coursetrail" || cfg.Identity.OIDCRolesClaim != "roles" {
		t.Errorf("oidc settings not loaded: %+v", cfg.Identity)
	}
	if len(cfg.Alerts.WebhookURLs) != 2 || cfg.Alerts.MinRiskLevel != "critical" {
		t.Errorf("alert settings not loaded: %+v", cfg.Alerts)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Window != time.Minute {
		t.Errorf("rate limit settings not loaded: %+v", cfg.RateLimit)
	}
	if cfg.Observability.LogLevel != observability.WarnLevel || cfg.Observability.OTelSampleRatio != 0.1 {
		t.Errorf("observability settings not loaded: %+v", cfg.Observability)
	}
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Port: "8080", HealthPort: "9090"},
		Storage:   StorageConfig{Type: StorageMemory},
		Cache:     CacheConfig{Type: CacheNone},
		Retention: RetentionConfig{DaysToKeep: 30},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = "8080" }, wantErr: "must be different"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "mysql" }, wantErr: "invalid storage type"},
		{name: "postgres without url", mutate: func(c *Config) { c.Storage.Type = StoragePostgres }, wantErr: "postgres URL is required"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage = StorageConfig{Type: StorageSQLite} }, wantErr: "sqlite path is required"},
		{name: "sqlite", mutate: func(c *Config) { c.Storage = StorageConfig{Type: StorageSQLite, SQLitePath: "audit.db"} }},
		{name: "oidc without client", mutate: func(c *Config) { c.Identity.OIDCIssuerURL = "https://id.example.edu" }, wantErr: "OIDC client ID is required"},
		{name: "alert bad risk", mutate: func(c *Config) {
			c.Alerts = AlertsConfig{WebhookURLs: []string{"https://hooks.example.edu"}, MinRiskLevel: "severe", MaxAttempts: 3}
		}, wantErr: "invalid alert risk level"},
		{name: "alert no attempts", mutate: func(c *Config) {
			c.Alerts = AlertsConfig{WebhookURLs: []string{"https://hooks.example.edu"}, MinRiskLevel: "high"}
		}, wantErr: "max attempts"},
		{name: "rate limit zero window", mutate: func(c *Config) {
			c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerWindow: 10}
		}, wantErr: "rate limit"},
		{name: "unknown cache", mutate: func(c *Config) { c.Cache.Type = "memcached" }, wantErr: "invalid cache type"},
		{name: "lru without size", mutate: func(c *Config) { c.Cache = CacheConfig{Type: CacheLRU, TTL: time.Minute} }, wantErr: "LRU cache size"},
		{name: "cache without ttl", mutate: func(c *Config) { c.Cache = CacheConfig{Type: CacheLRU, LRUSize: 4} }, wantErr: "cache TTL"},
		{name: "zero retention", mutate: func(c *Config) { c.Retention.DaysToKeep = 0 }, wantErr: "retention days"},
		{name: "archive without bucket", mutate: func(c *Config) { c.Retention.ArchiveEnabled = true }, wantErr: "S3 bucket is required"},
		{name: "otel without endpoint", mutate: func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "coursetrail"
		}, wantErr: "endpoint is required"},
		{name: "otel bad sample ratio", mutate: func(c *Config) {
			c.Observability = ObservabilityConfig{OTelEnabled: true, OTelEndpoint: "collector:4317", OTelServiceName: "coursetrail", OTelSampleRatio: 1.5}
		}, wantErr: "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
