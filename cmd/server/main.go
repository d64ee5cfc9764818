// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package main is the entry point for the Coursemetry server.
//
// Coursemetry ingests course engagement events (views, completions,
// ratings, purchases), folds them into per-course aggregates, and
// serves cached analytics projections over HTTP.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 sources (defaults, YAML file,
//     COURSEMETRY_* environment variables)
//  2. Database: DuckDB holding the append-only event log and the
//     aggregate store
//  3. Cache: in-process TTL cache for projection responses
//  4. Ingestion: validation, log append, atomic accumulate behind a
//     circuit breaker
//  5. Reconciliation: the aggregate-refresh, log-retention, and
//     rating-recompute jobs on the interval scheduler
//  6. Supervisor tree: jobs and API layers under suture
//  7. HTTP server: chi router with the analytics API
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// server drains in-flight requests, the scheduler stops, and the
// database closes last.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/coursemetry/internal/api"
	"github.com/tomtom215/coursemetry/internal/cache"
	"github.com/tomtom215/coursemetry/internal/config"
	"github.com/tomtom215/coursemetry/internal/database"
	"github.com/tomtom215/coursemetry/internal/ingest"
	"github.com/tomtom215/coursemetry/internal/logging"
	"github.com/tomtom215/coursemetry/internal/reconcile"
	"github.com/tomtom215/coursemetry/internal/scheduler"
	"github.com/tomtom215/coursemetry/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("listen", cfg.Server.ListenAddr()).
		Str("db_path", cfg.Database.Path).
		Msg("Starting Coursemetry")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	projectionCache := cache.New(cfg.Cache.CleanupInterval)
	defer projectionCache.Close()

	ingestor := ingest.NewService(db, projectionCache, nil, &cfg.Ingest)
	reconciler := reconcile.New(db, projectionCache, &cfg.Reconcile)

	sched := scheduler.New()
	if err := registerJobs(sched, reconciler, &cfg.Reconcile); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register jobs")
	}

	handler := api.NewHandler(db, ingestor, sched, projectionCache, &cfg.Cache)
	router := api.NewRouter(handler, &cfg.Server)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddJobService(sched)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	logging.Info().Msg("Shutdown complete")
}

// registerJobs wires the reconciliation jobs onto the scheduler with
// their configured intervals.
func registerJobs(sched *scheduler.Scheduler, r *reconcile.Reconciler, cfg *config.ReconcileConfig) error {
	if err := sched.Register(reconcile.JobAggregateRefresh, cfg.RefreshInterval, r.RunRefresh); err != nil {
		return err
	}
	if err := sched.Register(reconcile.JobLogRetention, cfg.RetentionInterval, r.RunRetention); err != nil {
		return err
	}
	return sched.Register(reconcile.JobRatingRecompute, cfg.FullRecomputeInterval, r.RunFullRecompute)
}
