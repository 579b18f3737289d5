// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
	"github.com/intratask/deviation-engine/services/deviation/observability"
)

// AnalyzeBatch runs the incremental pipeline over one batch of tickets,
// typically a single day's intake.
//
// The batch is filtered, embedded, and persisted, then clustering runs
// over the whole accumulated unclustered pool, not just the new batch.
// Yesterday's near-misses can tip over the cluster size minimum once
// today's duplicates arrive.
func (r *Runner) AnalyzeBatch(ctx context.Context, tickets []datatypes.Ticket) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	result, err := r.analyzeBatch(ctx, tickets)
	result.Duration = time.Since(start)

	if r.metrics != nil {
		r.metrics.RecordRun(observability.ModeIncremental, result.Duration.Seconds(), err == nil)
	}
	return result, err
}

// AnalyzeDay fetches one calendar day's tickets from the source and runs
// AnalyzeBatch over them. Used by the daily scheduler.
func (r *Runner) AnalyzeDay(ctx context.Context, day time.Time) (Result, error) {
	tickets, err := r.source.FetchTicketsForDay(ctx, day)
	if err != nil {
		return Result{}, err
	}
	return r.AnalyzeBatch(ctx, tickets)
}

func (r *Runner) analyzeBatch(ctx context.Context, tickets []datatypes.Ticket) (Result, error) {
	result := Result{Fetched: len(tickets)}

	slog.Info("Starting incremental analysis", "tickets", len(tickets))

	filtered, err := r.prepare(ctx, tickets, observability.ModeIncremental)
	if err != nil {
		return result, err
	}
	result.Filtered = filtered

	created, err := r.clusterAndMaterialize(ctx)
	if err != nil {
		return result, err
	}
	result.DeviationsCreated = created

	slog.Info("Incremental analysis complete",
		"fetched", result.Fetched, "filtered", result.Filtered, "deviations", created)
	return result, nil
}
