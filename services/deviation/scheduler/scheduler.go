// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler triggers the daily incremental analysis run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intratask/deviation-engine/services/deviation/pipeline"
)

// DayAnalyzer runs the incremental pipeline for one calendar day.
// Implemented by pipeline.Runner.
type DayAnalyzer interface {
	AnalyzeDay(ctx context.Context, day time.Time) (pipeline.Result, error)
}

// Config holds configuration for the daily scheduler.
//
// # Fields
//
//   - RunAtHour/RunAtMinute: Local wall-clock time of the daily run.
//   - Location: Time zone the wall-clock time is interpreted in.
type Config struct {
	RunAtHour   int
	RunAtMinute int
	Location    *time.Location
}

// DefaultConfig returns the production schedule: 23:30 local time, late
// enough to catch nearly the whole day's intake while leaving slack
// before midnight rolls the day over.
func DefaultConfig() Config {
	return Config{
		RunAtHour:   23,
		RunAtMinute: 30,
		Location:    time.Local,
	}
}

// Scheduler runs the incremental analysis once per day.
//
// Uses the timer + done channel pattern for graceful shutdown. A run
// failure is logged and the schedule continues; the next day's run picks
// up the still-unclustered pool.
type Scheduler struct {
	analyzer DayAnalyzer
	config   Config
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// New creates a scheduler. Not started until Start() is called.
func New(analyzer DayAnalyzer, config Config) *Scheduler {
	if config.Location == nil {
		config.Location = time.Local
	}
	return &Scheduler{
		analyzer: analyzer,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Start begins the background schedule.
//
// Returns an error if the scheduler is already running. The scheduler
// stops when Stop() is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // Reset done channel for potential restart
	s.mu.Unlock()

	slog.Info("Daily analysis scheduler starting",
		"run_at", fmt.Sprintf("%02d:%02d", s.config.RunAtHour, s.config.RunAtMinute),
		"location", s.config.Location.String(),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop gracefully stops the scheduler. Safe to call multiple times; does
// not interrupt a run already in progress.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil // Already stopped
	}

	slog.Info("Daily analysis scheduler stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow triggers an immediate analysis of the current day without
// waiting for the scheduled time. Useful for manual invocation.
func (s *Scheduler) RunNow(ctx context.Context) (pipeline.Result, error) {
	return s.analyzer.AnalyzeDay(ctx, time.Now().In(s.config.Location))
}

// nextRun returns the next scheduled wall-clock instant after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	now = now.In(s.config.Location)
	next := time.Date(now.Year(), now.Month(), now.Day(),
		s.config.RunAtHour, s.config.RunAtMinute, 0, 0, s.config.Location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) runLoop(ctx context.Context) {
	// A timer recomputed after every run keeps the schedule aligned to the
	// wall clock across DST shifts, unlike a fixed 24h ticker.
	timer := time.NewTimer(time.Until(s.nextRun(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Daily analysis scheduler stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("Daily analysis scheduler stopped (stop requested)")
			return
		case runTime := <-timer.C:
			s.executeRun(ctx, runTime)
			timer.Reset(time.Until(s.nextRun(time.Now())))
		}
	}
}

// executeRun runs one day's analysis with error handling, so a failed run
// never crashes the schedule.
func (s *Scheduler) executeRun(ctx context.Context, day time.Time) {
	result, err := s.analyzer.AnalyzeDay(ctx, day.In(s.config.Location))
	if err != nil {
		slog.Error("Daily analysis run failed", "day", day.Format("2006-01-02"), "error", err)
		return
	}

	slog.Info("Daily analysis run completed",
		"day", day.Format("2006-01-02"),
		"fetched", result.Fetched,
		"filtered", result.Filtered,
		"deviations_created", result.DeviationsCreated,
		"duration", result.Duration.String(),
	)
}
