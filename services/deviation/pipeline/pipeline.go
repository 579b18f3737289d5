// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates the ticket flow: fetch, filter, embed,
// persist, cluster, materialize.
//
// Two entry points drive the same stages. Initialize is the one-time
// historical run over every ticket since a start date; AnalyzeBatch is the
// daily incremental run over a single day's tickets plus the accumulated
// unclustered pool. Runs are serialized: a Runner never executes two
// pipelines at once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intratask/deviation-engine/services/deviation/cluster"
	"github.com/intratask/deviation-engine/services/deviation/datatypes"
	"github.com/intratask/deviation-engine/services/deviation/embed"
	"github.com/intratask/deviation-engine/services/deviation/observability"
	"github.com/intratask/deviation-engine/services/deviation/storage"
)

// TicketSource fetches tickets from the upstream system. Implemented by
// zendesk.Client; tests substitute a fake.
type TicketSource interface {
	FetchTicketsSince(ctx context.Context, start time.Time) ([]datatypes.Ticket, error)
	FetchTicketsForDay(ctx context.Context, day time.Time) ([]datatypes.Ticket, error)
}

// IndexFactory builds an approximate candidate source over a clustering
// arena. When nil, the exhaustive scan is used.
type IndexFactory interface {
	Build(ctx context.Context, items []cluster.Item, threshold float64) error
	Candidates(ctx context.Context, i int) ([]int, error)
	Drop(ctx context.Context) error
}

// Runner executes pipeline runs against one store.
type Runner struct {
	store     storage.Store
	source    TicketSource
	generator *embed.Generator
	metrics   *observability.PipelineMetrics

	// index, when non-nil, replaces the exhaustive candidate scan.
	index IndexFactory

	opts cluster.Options

	// mu serializes runs. The store's directory lock guards against other
	// processes; this guards against concurrent HTTP requests in ours.
	mu sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *observability.PipelineMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClusterOptions overrides the default clustering parameters.
func WithClusterOptions(opts cluster.Options) Option {
	return func(r *Runner) { r.opts = opts }
}

// WithIndex routes candidate generation through an approximate index.
func WithIndex(index IndexFactory) Option {
	return func(r *Runner) { r.index = index }
}

// NewRunner wires a Runner.
func NewRunner(store storage.Store, source TicketSource, generator *embed.Generator, opts ...Option) *Runner {
	r := &Runner{
		store:     store,
		source:    source,
		generator: generator,
		opts:      cluster.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// prepare runs the shared front half of both pipelines: severity filter,
// embedding, persistence. Returns the number of tickets that survived the
// filter.
func (r *Runner) prepare(ctx context.Context, tickets []datatypes.Ticket, mode observability.Mode) (int, error) {
	filtered := datatypes.FilterBySeverity(tickets)
	slog.Info("Filtered tickets by severity tags", "in", len(tickets), "kept", len(filtered))
	if r.metrics != nil {
		r.metrics.RecordFetched(mode, len(tickets))
		r.metrics.RecordFiltered(mode, len(filtered))
	}
	if len(filtered) == 0 {
		return 0, nil
	}

	if err := r.generator.EmbedTickets(ctx, filtered); err != nil {
		return 0, fmt.Errorf("generating embeddings: %w", err)
	}
	if r.metrics != nil {
		r.metrics.EmbeddingsGeneratedTotal.Add(float64(len(filtered)))
	}

	if err := r.persistTickets(ctx, filtered); err != nil {
		return 0, err
	}
	return len(filtered), nil
}

// persistTickets stores the batch, skipping tickets already present so
// re-imports stay idempotent.
func (r *Runner) persistTickets(ctx context.Context, tickets []datatypes.Ticket) error {
	created, skipped := 0, 0
	for i, ticket := range tickets {
		err := r.store.CreateTicket(ctx, ticket)
		switch {
		case err == nil:
			created++
		case errors.Is(err, storage.ErrTicketExists):
			skipped++
		default:
			return fmt.Errorf("persisting ticket %d: %w", ticket.ID, err)
		}

		if (i+1)%1000 == 0 {
			slog.Info("Persisting tickets", "done", i+1, "total", len(tickets))
		}
	}

	slog.Info("Persisted ticket batch", "created", created, "skipped", skipped)
	if r.metrics != nil {
		r.metrics.RecordPersisted(created, skipped)
	}
	return nil
}

// clusterAndMaterialize runs one clustering pass over the current
// unclustered pool and materializes every surfaced cluster.
func (r *Runner) clusterAndMaterialize(ctx context.Context) (int, error) {
	pool, err := storage.LoadUnclusteredPool(ctx, r.store)
	if err != nil {
		return 0, fmt.Errorf("loading unclustered pool: %w", err)
	}
	slog.Info("Loaded unclustered pool", "size", len(pool))
	if len(pool) == 0 {
		return 0, nil
	}

	items, err := cluster.ItemsFromTickets(pool)
	if err != nil {
		return 0, fmt.Errorf("preparing clustering arena: %w", err)
	}

	var groups []cluster.Group
	if r.index != nil {
		if err := r.index.Build(ctx, items, r.opts.Threshold); err != nil {
			return 0, fmt.Errorf("building candidate index: %w", err)
		}
		defer func() {
			if err := r.index.Drop(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("Failed to drop candidate index", "error", err)
			}
		}()
		groups, err = cluster.FindWithSource(ctx, len(items), r.index, r.opts)
	} else {
		groups, err = cluster.Find(ctx, items, r.opts)
	}
	if err != nil {
		return 0, fmt.Errorf("clustering: %w", err)
	}

	slog.Info("Clustering pass complete", "pool", len(pool), "clusters", len(groups))
	if r.metrics != nil {
		r.metrics.RecordClustering(len(pool), len(groups))
	}

	return r.materialize(ctx, pool, groups)
}
