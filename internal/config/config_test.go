// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.SummaryTTL != 5*time.Minute {
		t.Errorf("expected 5m summary TTL, got %s", cfg.Cache.SummaryTTL)
	}
	if cfg.Cache.DetailTTL != 15*time.Minute {
		t.Errorf("expected 15m detail TTL, got %s", cfg.Cache.DetailTTL)
	}
	if cfg.Reconcile.RetentionHorizon != 90*24*time.Hour {
		t.Errorf("expected 90 day retention horizon, got %s", cfg.Reconcile.RetentionHorizon)
	}
	if cfg.Reconcile.RefreshInterval != time.Hour {
		t.Errorf("expected hourly refresh, got %s", cfg.Reconcile.RefreshInterval)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9191
cache:
  summary_ttl: 2m
reconcile:
  retention_horizon: 720h
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("expected port 9191 from file, got %d", cfg.Server.Port)
	}
	if cfg.Cache.SummaryTTL != 2*time.Minute {
		t.Errorf("expected 2m summary TTL from file, got %s", cfg.Cache.SummaryTTL)
	}
	if cfg.Reconcile.RetentionHorizon != 720*time.Hour {
		t.Errorf("expected 720h horizon from file, got %s", cfg.Reconcile.RetentionHorizon)
	}
	// Untouched values keep defaults
	if cfg.Cache.DetailTTL != 15*time.Minute {
		t.Errorf("expected default detail TTL, got %s", cfg.Cache.DetailTTL)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COURSEMETRY_SERVER_PORT", "7070")
	t.Setenv("COURSEMETRY_LOGGING_LEVEL", "debug")
	t.Setenv("COURSEMETRY_CACHE_SUMMARY_TTL", "90s")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Cache.SummaryTTL != 90*time.Second {
		t.Errorf("expected env 90s TTL, got %s", cfg.Cache.SummaryTTL)
	}
}

func TestEnvSliceField(t *testing.T) {
	t.Setenv("COURSEMETRY_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if len(cfg.Server.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.Server.CORSAllowedOrigins)
	}
	if cfg.Server.CORSAllowedOrigins[0] != "https://a.example" {
		t.Errorf("unexpected first origin: %q", cfg.Server.CORSAllowedOrigins[0])
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero summary ttl", func(c *Config) { c.Cache.SummaryTTL = 0 }},
		{"zero detail ttl", func(c *Config) { c.Cache.DetailTTL = 0 }},
		{"zero ingest timeout", func(c *Config) { c.Ingest.Timeout = 0 }},
		{"short retention", func(c *Config) { c.Reconcile.RetentionHorizon = time.Hour }},
		{"negative pacing", func(c *Config) { c.Reconcile.SubjectsPerSecond = -1 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"COURSEMETRY_SERVER_PORT", "server.port"},
		{"COURSEMETRY_RECONCILE_REFRESH_WINDOW", "reconcile.refresh_window"},
		{"COURSEMETRY_DATABASE_MAX_MEMORY", "database.max_memory"},
		{"COURSEMETRY_CACHE_CLEANUP_INTERVAL", "cache.cleanup_interval"},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.expected {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}
