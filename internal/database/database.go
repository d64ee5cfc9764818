// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package database provides DuckDB-backed storage for the engagement
// event log and the course aggregate store.
//
// Three tables:
//   - engagement_events: append-only, ordered by a sequence id; the
//     single durable record of every accepted event. Ingestion never
//     updates or deletes rows; only the retention pruner removes rows
//     older than the configured horizon.
//   - course_aggregates: one mutable row per course, mutated only
//     through ApplyDelta (single server-side accumulate statement) and
//     OverwriteAggregate (reconciliation's full replace).
//   - aggregate_baselines: per-course raw counters for events the
//     pruner has removed from the log. Reconciliation folds the
//     surviving log on top of this baseline, so a full recompute after
//     pruning still accounts for the whole history.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/coursemetry/internal/config"
	"github.com/tomtom215/coursemetry/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig

	// Prepared statement caching
	stmtCache   map[string]*sql.Stmt
	stmtCacheMu sync.RWMutex

	// Per-course write locks. ApplyDelta executes a single server-side
	// accumulate statement, but DuckDB resolves concurrent UPDATEs on
	// the same row optimistically; serializing writers per course keeps
	// the accumulate contract without a global write lock.
	courseLocks sync.Map
}

// New creates a database connection and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for the database file.
	// Use 0750 permissions (owner: rwx, group: rx, other: none) per gosec G301.
	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:      conn,
		cfg:       cfg,
		stmtCache: make(map[string]*sql.Stmt),
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Msg("Database initialized")

	return db, nil
}

// schemaStatements define the engagement schema. All statements are
// idempotent so startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS engagement_event_id START 1`,

	`CREATE TABLE IF NOT EXISTS engagement_events (
		id          BIGINT PRIMARY KEY DEFAULT nextval('engagement_event_id'),
		course_id   VARCHAR NOT NULL,
		event_type  VARCHAR NOT NULL,
		actor_id    VARCHAR,
		rating      INTEGER,
		amount      DOUBLE,
		occurred_at TIMESTAMP NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_course_recorded
		ON engagement_events (course_id, recorded_at)`,

	`CREATE TABLE IF NOT EXISTS course_aggregates (
		course_id          VARCHAR PRIMARY KEY,
		views_count        BIGINT NOT NULL DEFAULT 0,
		completion_count   BIGINT NOT NULL DEFAULT 0,
		completion_rate    DOUBLE NOT NULL DEFAULT 0,
		total_ratings      BIGINT NOT NULL DEFAULT 0,
		rating_sum         BIGINT NOT NULL DEFAULT 0,
		average_rating     DOUBLE NOT NULL DEFAULT 0,
		revenue            DECIMAL(18,2) NOT NULL DEFAULT 0,
		updated_at         TIMESTAMP NOT NULL,
		last_reconciled_at TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS aggregate_baselines (
		course_id        VARCHAR PRIMARY KEY,
		views_count      BIGINT NOT NULL DEFAULT 0,
		completion_count BIGINT NOT NULL DEFAULT 0,
		total_ratings    BIGINT NOT NULL DEFAULT 0,
		rating_sum       BIGINT NOT NULL DEFAULT 0,
		revenue          DECIMAL(18,2) NOT NULL DEFAULT 0,
		pruned_through   TIMESTAMP NOT NULL
	)`,
}

// initSchema creates tables and indexes if they don't exist.
func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// getStmt returns a cached prepared statement, preparing it on first use.
// Uses double-checked locking for thread-safe access.
func (db *DB) getStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	db.stmtCacheMu.RLock()
	stmt, ok := db.stmtCache[query]
	db.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	db.stmtCacheMu.Lock()
	defer db.stmtCacheMu.Unlock()

	if stmt, ok = db.stmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	db.stmtCache[query] = stmt
	return stmt, nil
}

// acquireCourseLock locks the per-course mutex, creating it on first use.
// Uses sync.Map for lock-free access to the lock registry.
func (db *DB) acquireCourseLock(courseID string) *sync.Mutex {
	muInterface, _ := db.courseLocks.LoadOrStore(courseID, &sync.Mutex{})
	mu := muInterface.(*sync.Mutex)
	mu.Lock()
	return mu
}

// Ping verifies database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close releases prepared statements and closes the connection.
func (db *DB) Close() error {
	db.stmtCacheMu.Lock()
	for _, stmt := range db.stmtCache {
		_ = stmt.Close()
	}
	db.stmtCache = make(map[string]*sql.Stmt)
	db.stmtCacheMu.Unlock()

	return db.conn.Close()
}

// StorageStats holds row counts surfaced on the health endpoint.
type StorageStats struct {
	Events      int64     `json:"events"`
	Aggregates  int64     `json:"aggregates"`
	OldestEvent time.Time `json:"oldest_event,omitempty"`
}

// Stats returns current row counts for observability.
func (db *DB) Stats(ctx context.Context) (StorageStats, error) {
	var stats StorageStats

	row := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM engagement_events`)
	if err := row.Scan(&stats.Events); err != nil {
		return stats, fmt.Errorf("failed to count events: %w", err)
	}

	row = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM course_aggregates`)
	if err := row.Scan(&stats.Aggregates); err != nil {
		return stats, fmt.Errorf("failed to count aggregates: %w", err)
	}

	var oldest sql.NullTime
	row = db.conn.QueryRowContext(ctx, `SELECT MIN(recorded_at) FROM engagement_events`)
	if err := row.Scan(&oldest); err != nil {
		return stats, fmt.Errorf("failed to read oldest event: %w", err)
	}
	if oldest.Valid {
		stats.OldestEvent = oldest.Time
	}

	return stats, nil
}
