// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/intratask/deviation-engine/services/deviation/observability"
)

// ErrAlreadyInitialized is returned when Initialize is called against a
// store that already holds tickets.
var ErrAlreadyInitialized = errors.New("store already initialized")

// Result summarizes a pipeline run.
type Result struct {
	Fetched           int
	Filtered          int
	DeviationsCreated int
	Duration          time.Duration
}

// Initialize runs the one-time bulk import: every ticket created at or
// after since is fetched, filtered, embedded, persisted, and clustered.
//
// The run refuses to start on a non-empty store. Re-running the bulk
// import would re-cluster the whole corpus against itself; the incremental
// path is the only way to grow an initialized dataset.
func (r *Runner) Initialize(ctx context.Context, since time.Time) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	result, err := r.initialize(ctx, since)
	result.Duration = time.Since(start)

	if r.metrics != nil && !errors.Is(err, ErrAlreadyInitialized) {
		r.metrics.RecordRun(observability.ModeBulk, result.Duration.Seconds(), err == nil)
	}
	return result, err
}

func (r *Runner) initialize(ctx context.Context, since time.Time) (Result, error) {
	var result Result

	count, err := r.store.CountTickets(ctx)
	if err != nil {
		return result, fmt.Errorf("checking store state: %w", err)
	}
	if count > 0 {
		return result, fmt.Errorf("%w: %d tickets present", ErrAlreadyInitialized, count)
	}

	slog.Info("Starting bulk initialization", "since", since.Format(time.RFC3339))

	tickets, err := r.source.FetchTicketsSince(ctx, since)
	if err != nil {
		return result, fmt.Errorf("fetching tickets: %w", err)
	}
	result.Fetched = len(tickets)

	filtered, err := r.prepare(ctx, tickets, observability.ModeBulk)
	if err != nil {
		return result, err
	}
	result.Filtered = filtered

	created, err := r.clusterAndMaterialize(ctx)
	if err != nil {
		return result, err
	}
	result.DeviationsCreated = created

	slog.Info("Bulk initialization complete",
		"fetched", result.Fetched, "filtered", result.Filtered, "deviations", created)
	return result, nil
}
