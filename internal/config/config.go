// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package config provides configuration loading and validation.
//
// Configuration is merged from three sources in priority order:
//  1. Defaults defined in code (lowest priority)
//  2. YAML config file (config.yaml or CONFIG_PATH)
//  3. Environment variables with COURSEMETRY_ prefix (highest priority)
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address (default: 0.0.0.0)
	Host string `koanf:"host"`

	// Port is the listen port (default: 8080)
	Port int `koanf:"port"`

	// ReadTimeout bounds how long reading a request may take.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// WriteTimeout bounds how long writing a response may take.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// ShutdownTimeout is the grace period for in-flight requests on shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimit is the per-IP request limit per minute (0 disables limiting).
	RateLimit int `koanf:"rate_limit"`

	// CORSAllowedOrigins lists origins allowed to call the API.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file location. ":memory:" for tests.
	Path string `koanf:"path"`

	// MaxMemory is the DuckDB memory limit (e.g. "1GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count (0 = runtime.NumCPU()).
	Threads int `koanf:"threads"`
}

// CacheConfig holds read-cache settings.
type CacheConfig struct {
	// SummaryTTL is the TTL for course summary projections.
	SummaryTTL time.Duration `koanf:"summary_ttl"`

	// DetailTTL is the TTL for rolling-window detail projections.
	DetailTTL time.Duration `koanf:"detail_ttl"`

	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// IngestConfig holds ingestion-path settings.
type IngestConfig struct {
	// Timeout bounds a single ingest call end to end.
	Timeout time.Duration `koanf:"timeout"`

	// BreakerMaxFailures is the consecutive aggregate-store failure count
	// that opens the circuit breaker.
	BreakerMaxFailures uint32 `koanf:"breaker_max_failures"`

	// BreakerOpenTimeout is how long the breaker stays open before probing.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// ReconcileConfig holds reconciliation-job settings.
type ReconcileConfig struct {
	// RefreshInterval is how often recently-touched subjects are re-folded.
	RefreshInterval time.Duration `koanf:"refresh_interval"`

	// RefreshWindow is how far back the refresh job looks for touched subjects.
	RefreshWindow time.Duration `koanf:"refresh_window"`

	// FullRecomputeInterval is how often every subject is recomputed from scratch.
	FullRecomputeInterval time.Duration `koanf:"full_recompute_interval"`

	// RetentionInterval is how often the retention pruner runs.
	RetentionInterval time.Duration `koanf:"retention_interval"`

	// RetentionHorizon is the age past which reconciled events may be pruned.
	RetentionHorizon time.Duration `koanf:"retention_horizon"`

	// SubjectsPerSecond paces the batch driver so full recomputes cannot
	// starve live ingestion (0 = unpaced).
	SubjectsPerSecond float64 `koanf:"subjects_per_second"`

	// SubjectTimeout bounds reconciliation of a single subject.
	SubjectTimeout time.Duration `koanf:"subject_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	// Caller includes file:line in log output.
	Caller bool `koanf:"caller"`
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Cache.SummaryTTL <= 0 {
		return fmt.Errorf("cache.summary_ttl must be positive, got %s", c.Cache.SummaryTTL)
	}
	if c.Cache.DetailTTL <= 0 {
		return fmt.Errorf("cache.detail_ttl must be positive, got %s", c.Cache.DetailTTL)
	}
	if c.Ingest.Timeout <= 0 {
		return fmt.Errorf("ingest.timeout must be positive, got %s", c.Ingest.Timeout)
	}
	if c.Reconcile.RefreshInterval <= 0 {
		return fmt.Errorf("reconcile.refresh_interval must be positive, got %s", c.Reconcile.RefreshInterval)
	}
	if c.Reconcile.RetentionHorizon < 24*time.Hour {
		return fmt.Errorf("reconcile.retention_horizon must be at least 24h, got %s", c.Reconcile.RetentionHorizon)
	}
	if c.Reconcile.RefreshWindow <= 0 {
		return fmt.Errorf("reconcile.refresh_window must be positive, got %s", c.Reconcile.RefreshWindow)
	}
	if c.Reconcile.SubjectsPerSecond < 0 {
		return fmt.Errorf("reconcile.subjects_per_second must not be negative, got %f", c.Reconcile.SubjectsPerSecond)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
