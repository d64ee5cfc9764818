// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package scheduler provides interval-based scheduling for the
// reconciliation jobs. Each registered job runs on its own ticker;
// runs of the same job never overlap, and any job can also be
// triggered manually through the API.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/coursemetry/internal/logging"
)

// Sentinel errors returned by Trigger, matched with errors.Is by the
// HTTP layer.
var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrAlreadyRunning = errors.New("job is already running")
)

// JobFunc is the work a scheduled job performs.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc

	// Held for the duration of a run; TryLock makes an overlapping
	// tick or manual trigger a skip instead of a queue-up.
	runMu sync.Mutex
}

// Scheduler runs registered jobs on fixed intervals.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// Register adds a job. Registration after Serve has started is not
// supported; register everything during wiring.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	if name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive, got %v", name, interval)
	}
	if fn == nil {
		return fmt.Errorf("job %q: fn must not be nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	s.jobs[name] = &job{name: name, interval: interval, fn: fn}
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// Trigger runs a job immediately, outside its schedule. Returns the
// job's error, or an error if the name is unknown or the job is
// already mid-run.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownJob, name)
	}

	if !j.runMu.TryLock() {
		return fmt.Errorf("job %q: %w", name, ErrAlreadyRunning)
	}
	defer j.runMu.Unlock()

	logging.Info().Str("job", name).Msg("Job triggered manually")
	return j.fn(ctx)
}

// Serve runs all registered jobs until the context is canceled.
// Implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	logging.Info().Int("jobs", len(jobs)).Msg("Starting job scheduler")

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			s.runLoop(ctx, j)
		}(j)
	}
	wg.Wait()

	logging.Info().Msg("Job scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) runLoop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	if !j.runMu.TryLock() {
		logging.Warn().Str("job", j.name).Msg("Previous run still in progress, skipping tick")
		return
	}
	defer j.runMu.Unlock()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		logging.Error().Err(err).Str("job", j.name).Msg("Scheduled job failed")
		return
	}
	logging.Debug().
		Str("job", j.name).
		Dur("duration", time.Since(start)).
		Msg("Scheduled job completed")
}
