// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
)

// GeneratorConfig tunes how a Generator walks a ticket batch.
type GeneratorConfig struct {
	// BatchSize is the number of tickets sent per embeddings API call.
	BatchSize int

	// Parallelism is the number of API calls in flight at once. 1 keeps
	// the sequential behavior; higher values pipeline independent batches.
	Parallelism int
}

// DefaultGeneratorConfig returns the sequential production settings.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{BatchSize: 64, Parallelism: 1}
}

// Generator fills in DescriptionVector for tickets that lack one.
type Generator struct {
	embedder Embedder
	config   GeneratorConfig
}

// NewGenerator wires an embedder into a generator.
func NewGenerator(embedder Embedder, config GeneratorConfig) *Generator {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultGeneratorConfig().BatchSize
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 1
	}
	return &Generator{embedder: embedder, config: config}
}

// EmbeddingText is the text embedded for a ticket: the description alone.
// The subject is deliberately excluded; similarity scores, and therefore
// cluster assignments, are a function of the description only.
func EmbeddingText(t datatypes.Ticket) string {
	return t.Description
}

// EmbedTickets computes and attaches a vector to every ticket in the slice
// that does not already carry one. Tickets with an existing vector are left
// untouched.
//
// The operation is all-or-nothing: if any batch fails, no ticket in the
// slice is modified and the error is returned. A half-embedded batch would
// otherwise persist tickets that silently never cluster.
func (g *Generator) EmbedTickets(ctx context.Context, tickets []datatypes.Ticket) error {
	var pending []int
	for i := range tickets {
		if !tickets[i].HasEmbedding() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	slog.Info("Generating embeddings", "tickets", len(pending), "batch_size", g.config.BatchSize, "parallelism", g.config.Parallelism)

	// Results land in a staging slice keyed by position in pending, so
	// parallel batches never race on the ticket slice and a failure leaves
	// it untouched.
	vectors := make([][]string, len(pending))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.config.Parallelism)

	for start := 0; start < len(pending); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		start, end := start, end

		group.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, idx := range pending[start:end] {
				texts = append(texts, EmbeddingText(tickets[idx]))
			}

			embedded, err := g.embedder.EmbedTexts(groupCtx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch starting at ticket %d: %w", tickets[pending[start]].ID, err)
			}
			for i, vec := range embedded {
				vectors[start+i] = FormatVector(vec)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	for i, idx := range pending {
		tickets[idx].DescriptionVector = vectors[i]
	}
	return nil
}

// FormatVector serializes a vector to the stored decimal-string form.
// strconv with -1 precision produces the shortest string that parses back
// to the identical float64.
func FormatVector(vec []float64) []string {
	out := make([]string, len(vec))
	for i, v := range vec {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}

// VectorPreview renders the first few components for log lines.
func VectorPreview(vec []string, n int) string {
	if len(vec) < n {
		n = len(vec)
	}
	return "[" + strings.Join(vec[:n], ", ") + ", ...]"
}
