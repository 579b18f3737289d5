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

	"github.com/intratask/deviation-engine/services/deviation/cluster"
	"github.com/intratask/deviation-engine/services/deviation/datatypes"
)

// materialize turns each surfaced cluster into a proposed deviation and
// assigns the cluster's tickets to it.
//
// A failure on one cluster is logged and skipped rather than aborting the
// run: the remaining clusters are independent and a transient write error
// on one must not discard the others. The store's assignment transaction
// keeps a half-written cluster from leaking.
func (r *Runner) materialize(ctx context.Context, pool []datatypes.Ticket, groups []cluster.Group) (int, error) {
	created := 0
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		representative := pool[g.Representative]
		deviation := datatypes.NewProposedDeviation(representative.ID)

		if err := r.store.CreateDeviation(ctx, &deviation); err != nil {
			slog.Error("Failed to create deviation for cluster", "representative", representative.ID, "error", err)
			continue
		}

		ticketIDs := make([]int64, 0, len(g.Members)+1)
		ticketIDs = append(ticketIDs, representative.ID)
		for _, m := range g.Members {
			ticketIDs = append(ticketIDs, pool[m].ID)
		}

		if err := r.store.AssignTicketsToDeviation(ctx, deviation.ID, ticketIDs); err != nil {
			slog.Error("Failed to assign tickets to deviation",
				"deviation", deviation.ID, "representative", representative.ID, "error", err)
			continue
		}

		slog.Info("Materialized deviation", "deviation", deviation.ID,
			"representative", representative.ID, "tickets", len(ticketIDs))
		created++
	}

	if r.metrics != nil {
		r.metrics.DeviationsCreatedTotal.Add(float64(created))
	}
	return created, nil
}
