package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port      int
	LogLevel  string
	LogFormat string // json or console

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int // parallel tenant syncs in a fan-out

	// Per-tenant pacing
	TenantRateLimit float64 // requests per second, 0 disables
	TenantRateBurst int

	// Tenant connection reuse
	ClientCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Central registry (Supabase)
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Optional Postgres backend for the sync log
	SyncLogDatabaseURL string

	// Admin API guard; empty disables it
	AdminJWTSecret string

	// Reader
	ReadLimit        int
	IdentityPageSize int
}

var defaults = map[string]any{
	"PORT":                        8080,
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "json",
	"HTTP_TIMEOUT":                10 * time.Second,
	"MAX_RETRIES":                 3,
	"INITIAL_BACKOFF":             100 * time.Millisecond,
	"MAX_CONCURRENCY":             8,
	"TENANT_RATE_LIMIT":           10.0,
	"TENANT_RATE_BURST":           20,
	"CLIENT_CACHE_TTL":            10 * time.Minute,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"SUPABASE_URL":                "",
	"SUPABASE_ANON_KEY":           "",
	"SUPABASE_SERVICE_ROLE_KEY":   "",
	"SYNC_LOG_DATABASE_URL":       "",
	"ADMIN_JWT_SECRET":            "",
	"READ_LIMIT":                  1000,
	"IDENTITY_PAGE_SIZE":          200,
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	return &Config{
		Port:      v.GetInt("PORT"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: v.GetString("LOG_FORMAT"),

		HTTPTimeout: v.GetDuration("HTTP_TIMEOUT"),

		MaxRetries:     v.GetInt("MAX_RETRIES"),
		InitialBackoff: v.GetDuration("INITIAL_BACKOFF"),
		MaxConcurrency: v.GetInt("MAX_CONCURRENCY"),

		TenantRateLimit: v.GetFloat64("TENANT_RATE_LIMIT"),
		TenantRateBurst: v.GetInt("TENANT_RATE_BURST"),

		ClientCacheTTL: v.GetDuration("CLIENT_CACHE_TTL"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),

		SupabaseURL:        v.GetString("SUPABASE_URL"),
		SupabaseAnonKey:    v.GetString("SUPABASE_ANON_KEY"),
		SupabaseServiceKey: v.GetString("SUPABASE_SERVICE_ROLE_KEY"),

		SyncLogDatabaseURL: v.GetString("SYNC_LOG_DATABASE_URL"),

		AdminJWTSecret: v.GetString("ADMIN_JWT_SECRET"),

		ReadLimit:        v.GetInt("READ_LIMIT"),
		IdentityPageSize: v.GetInt("IDENTITY_PAGE_SIZE"),
	}
}

// CentralKey is the key used against the central registry; the service
// role key is preferred.
func (c *Config) CentralKey() string {
	if c.SupabaseServiceKey != "" {
		return c.SupabaseServiceKey
	}
	return c.SupabaseAnonKey
}
