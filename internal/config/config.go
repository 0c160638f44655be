/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Hub covers process level configuration of the hub, read from environment
// variables.
type Hub struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Device registry
	DevicesFile  string
	ScanInterval time.Duration
	LookupWait   time.Duration

	// Control channel auth: either a static bearer token or a JWT signing
	// key the hub uses to mint per-connection tokens.
	ControlToken  string
	JWTSigningKey string

	// Media catalog collaborator
	CatalogURL   string
	CatalogToken string

	// Catalog search-result cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Device event republish for external consumers (empty disables)
	NATSURL string

	// Playback history store
	DBBackend DatabaseBackend
	DBDSN     string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Agent covers process level configuration of a device agent.
type Agent struct {
	Environment string
	DeviceName  string
	Bind        string
	Port        int
	MetricsBind string

	// External player process
	PlayerBin string

	// Control channel auth: a bcrypt hash of the expected bearer token, or a
	// JWT signing key shared with the hub. One of the two must be set.
	TokenHash     string
	JWTSigningKey string

	CommandTimeout time.Duration

	// Media cache
	CacheDir           string
	CacheBudgetMB      int
	CacheEvictionRatio float64
	MaxDownloads       int

	// S3 source credentials for s3:// media locations
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Endpoint        string
	S3UsePathStyle    bool
}

// LoadHub reads hub environment variables, applies defaults, and validates the
// result.
func LoadHub() (*Hub, error) {
	cfg := &Hub{
		Environment: getEnv("HEARTH_ENV", "development"),
		HTTPBind:    getEnv("HEARTH_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("HEARTH_HTTP_PORT", 8080),
		MetricsBind: getEnv("HEARTH_METRICS_BIND", "127.0.0.1:9000"),

		DevicesFile:  getEnv("HEARTH_DEVICES_FILE", "./devices.yaml"),
		ScanInterval: time.Duration(getEnvInt("HEARTH_SCAN_INTERVAL_SECONDS", 10)) * time.Second,
		LookupWait:   time.Duration(getEnvInt("HEARTH_LOOKUP_WAIT_SECONDS", 10)) * time.Second,

		ControlToken:  getEnv("HEARTH_CONTROL_TOKEN", ""),
		JWTSigningKey: getEnv("HEARTH_JWT_SIGNING_KEY", ""),

		CatalogURL:   getEnv("HEARTH_CATALOG_URL", ""),
		CatalogToken: getEnv("HEARTH_CATALOG_TOKEN", ""),

		RedisAddr:     getEnv("HEARTH_REDIS_ADDR", ""),
		RedisPassword: getEnv("HEARTH_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("HEARTH_REDIS_DB", 0),

		NATSURL: getEnv("HEARTH_NATS_URL", ""),

		DBBackend: DatabaseBackend(getEnv("HEARTH_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("HEARTH_DB_DSN", "./hearth.db"),

		TracingEnabled:    getEnvBool("HEARTH_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("HEARTH_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("HEARTH_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.ControlToken == "" && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("HEARTH_CONTROL_TOKEN or HEARTH_JWT_SIGNING_KEY must be provided")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.ControlToken != "" && len(cfg.ControlToken) < 16 {
		return nil, fmt.Errorf("HEARTH_CONTROL_TOKEN must be at least 16 characters in production")
	}

	return cfg, nil
}

// LoadAgent reads agent environment variables, applies defaults, and validates
// the result.
func LoadAgent() (*Agent, error) {
	cfg := &Agent{
		Environment: getEnv("HEARTH_ENV", "development"),
		DeviceName:  getEnv("HEARTH_AGENT_NAME", ""),
		Bind:        getEnv("HEARTH_AGENT_BIND", "0.0.0.0"),
		Port:        getEnvInt("HEARTH_AGENT_PORT", 8600),
		MetricsBind: getEnv("HEARTH_METRICS_BIND", "127.0.0.1:9001"),

		PlayerBin: getEnv("HEARTH_PLAYER_BIN", "mplayer"),

		TokenHash:     getEnv("HEARTH_AGENT_TOKEN_HASH", ""),
		JWTSigningKey: getEnv("HEARTH_JWT_SIGNING_KEY", ""),

		CommandTimeout: time.Duration(getEnvInt("HEARTH_COMMAND_TIMEOUT_SECONDS", 15)) * time.Second,

		CacheDir:           getEnv("HEARTH_CACHE_DIR", "./cache"),
		CacheBudgetMB:      getEnvInt("HEARTH_CACHE_BUDGET_MB", 4096),
		CacheEvictionRatio: getEnvFloat("HEARTH_CACHE_EVICTION_RATIO", 0.5),
		MaxDownloads:       getEnvInt("HEARTH_CACHE_MAX_DOWNLOADS", 3),

		S3AccessKeyID:     getEnv("HEARTH_S3_ACCESS_KEY_ID", os.Getenv("AWS_ACCESS_KEY_ID")),
		S3SecretAccessKey: getEnv("HEARTH_S3_SECRET_ACCESS_KEY", os.Getenv("AWS_SECRET_ACCESS_KEY")),
		S3Region:          getEnv("HEARTH_S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("HEARTH_S3_ENDPOINT", ""),
		S3UsePathStyle:    getEnvBool("HEARTH_S3_USE_PATH_STYLE", false),
	}

	if cfg.DeviceName == "" {
		return nil, fmt.Errorf("HEARTH_AGENT_NAME must be provided")
	}

	if cfg.TokenHash == "" && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("HEARTH_AGENT_TOKEN_HASH or HEARTH_JWT_SIGNING_KEY must be provided")
	}

	if cfg.CacheEvictionRatio < 0 || cfg.CacheEvictionRatio > 1 {
		return nil, fmt.Errorf("HEARTH_CACHE_EVICTION_RATIO must be within [0, 1], got %v", cfg.CacheEvictionRatio)
	}

	if cfg.MaxDownloads < 1 {
		return nil, fmt.Errorf("HEARTH_CACHE_MAX_DOWNLOADS must be at least 1")
	}

	return cfg, nil
}

// CacheBudgetBytes returns the configured cache budget in bytes.
func (a *Agent) CacheBudgetBytes() int64 {
	return int64(a.CacheBudgetMB) * 1024 * 1024
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
