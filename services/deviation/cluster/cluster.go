// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

import (
	"context"
	"fmt"
)

// Default engine parameters. The threshold was tuned experimentally on the
// production ticket corpus; the minimum size keeps one-off noise from
// surfacing as deviations.
const (
	DefaultThreshold      = 0.77
	DefaultMinClusterSize = 20
)

// Options configures a clustering pass.
type Options struct {
	// Threshold is the minimum similarity (inclusive) for two tickets to be
	// considered near-duplicates.
	Threshold float64

	// MinClusterSize is the minimum number of similar members (inclusive,
	// representative excluded) a cluster needs to be surfaced. It is also
	// the greedy cutoff: once a cluster reaches this size, no further
	// candidates are scanned for its representative.
	MinClusterSize int
}

// DefaultOptions returns the production parameters.
func DefaultOptions() Options {
	return Options{
		Threshold:      DefaultThreshold,
		MinClusterSize: DefaultMinClusterSize,
	}
}

// Group is one surfaced cluster. Representative and Members are positions
// into the item slice passed to Find; the representative is implicitly the
// first member of the cluster and never appears in Members.
type Group struct {
	Representative int
	Members        []int
}

// CandidateSource yields, for a representative position i, the positions
// j > i whose similarity to i is at or above the threshold, in ascending
// position order.
//
// The default exhaustive scan in Find is the baseline behavior. An
// approximate index (see WeaviateIndex) may substitute its own candidate
// generation; because the greedy pass consumes candidates in position order
// either way, a source with perfect recall reproduces the exhaustive
// assignment exactly.
type CandidateSource interface {
	Candidates(ctx context.Context, i int) ([]int, error)
}

// Find groups items into clusters of near-duplicates.
//
// The pass is greedy and order-dependent, and deliberately so: the same
// input in the same order always yields the same assignment, which is what
// makes incremental runs reproducible.
//
// For each position i in input order:
//
//   - i is skipped as a representative if an earlier cluster already
//     claimed it as a member;
//   - otherwise a cluster is opened for i and positions j > i are scanned
//     in order (upper-triangular: a pair is never compared twice). A j that
//     is already assigned elsewhere is skipped; an unassigned j with
//     similarity ≥ Threshold is added and marked assigned;
//   - scanning for i stops as soon as the cluster reaches MinClusterSize.
//     Later, possibly more-similar candidates are never considered — this
//     is a greedy cutoff, not a most-similar selection;
//   - clusters smaller than MinClusterSize are pruned at the end.
//
// Each item therefore appears as a member of at most one cluster, and an
// item that became a member never becomes a representative.
//
// The context is checked between outer iterations, so a long pass over a
// large pool can be cancelled; cancellation surfaces as ctx.Err().
func Find(ctx context.Context, items []Item, opts Options) ([]Group, error) {
	if opts.MinClusterSize <= 0 {
		return nil, fmt.Errorf("minimum cluster size must be positive, got %d", opts.MinClusterSize)
	}

	assigned := make([]bool, len(items))
	var groups []Group

	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if assigned[i] {
			continue
		}

		// Open an entry for i even if it ends up empty; undersized entries
		// are pruned below.
		group := Group{Representative: i}

		// Upper-triangular scan, inlined so the size cutoff stops the dot
		// products themselves, not just membership growth. Assigned items
		// are skipped before any comparison is computed.
		for j := i + 1; j < len(items); j++ {
			if assigned[j] {
				continue
			}
			score, err := DotProduct(items[i].Vector, items[j].Vector)
			if err != nil {
				return nil, fmt.Errorf("comparing items %d and %d: %w", i, j, err)
			}
			if score < opts.Threshold {
				continue
			}
			group.Members = append(group.Members, j)
			assigned[j] = true
			if len(group.Members) >= opts.MinClusterSize {
				break
			}
		}

		groups = append(groups, group)
	}

	return surfaced(groups, opts.MinClusterSize), nil
}

// FindWithSource runs the greedy pass over n items using the given
// candidate source. See Find for the semantics.
func FindWithSource(ctx context.Context, n int, source CandidateSource, opts Options) ([]Group, error) {
	if opts.MinClusterSize <= 0 {
		return nil, fmt.Errorf("minimum cluster size must be positive, got %d", opts.MinClusterSize)
	}

	assigned := make([]bool, n)
	var groups []Group

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if assigned[i] {
			continue
		}

		// Open an entry for i even if it ends up empty; undersized entries
		// are pruned below.
		group := Group{Representative: i}

		candidates, err := source.Candidates(ctx, i)
		if err != nil {
			return nil, err
		}

		for _, j := range candidates {
			if assigned[j] {
				continue
			}
			group.Members = append(group.Members, j)
			assigned[j] = true
			if len(group.Members) >= opts.MinClusterSize {
				break
			}
		}

		groups = append(groups, group)
	}

	return surfaced(groups, opts.MinClusterSize), nil
}

// surfaced prunes undersized entries in place. Their members stay assigned:
// a ticket swallowed by an undersized cluster is the similarity target of
// that representative and of no other, even though nothing is surfaced.
func surfaced(groups []Group, minSize int) []Group {
	kept := groups[:0]
	for _, g := range groups {
		if len(g.Members) >= minSize {
			kept = append(kept, g)
		}
	}
	return kept
}
