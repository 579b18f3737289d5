// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cluster groups tickets into near-duplicate clusters by pairwise
// similarity of their embedding vectors.
//
// Vectors are mean-pooled and L2-normalized at embedding time, so the plain
// dot product of two vectors equals their cosine similarity. The engine is a
// greedy, order-dependent single pass over the upper triangle of the
// pairwise matrix; see Find for the exact semantics.
package cluster

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
)

// ErrLengthMismatch is returned when two vectors of different
// dimensionality are compared.
var ErrLengthMismatch = errors.New("vectors must have the same length")

// DotProduct returns the dot product of two same-length vectors.
//
// The inputs are expected to be L2-normalized, making the result the cosine
// similarity in [-1, 1]. A length mismatch is a data error and is
// propagated, never silently skipped.
func DotProduct(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}

	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// ParseComponents parses a stored vector (decimal strings) into float64
// components. A non-numeric component is a data error.
func ParseComponents(raw []string) ([]float64, error) {
	vec := make([]float64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: invalid number %q", i, s)
		}
		vec[i] = v
	}
	return vec, nil
}

// DotProductStrings computes the dot product of two vectors in their stored
// decimal-string form. Kept for the store-level representation; the engine
// itself parses once up front via ItemsFromTickets.
func DotProductStrings(a, b []string) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}

	va, err := ParseComponents(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseComponents(b)
	if err != nil {
		return 0, err
	}
	return DotProduct(va, vb)
}

// Item is one ticket in the clustering arena: its source id and parsed
// embedding vector. Items are addressed by position; the engine tracks
// assignment state in a parallel bool slice rather than by object identity.
type Item struct {
	ID     int64
	Vector []float64
}

// ItemsFromTickets converts stored tickets into arena items, parsing each
// ticket's decimal-string vector exactly once. Tickets are kept in input
// order because the greedy pass is order-dependent.
//
// A ticket without an embedding, with a non-numeric component, or with a
// dimensionality different from the first ticket's is a fatal data error.
func ItemsFromTickets(tickets []datatypes.Ticket) ([]Item, error) {
	items := make([]Item, len(tickets))
	dims := -1

	for i, t := range tickets {
		if !t.HasEmbedding() {
			return nil, fmt.Errorf("ticket %d has no embedding vector", t.ID)
		}
		vec, err := ParseComponents(t.DescriptionVector)
		if err != nil {
			return nil, fmt.Errorf("ticket %d: %w", t.ID, err)
		}
		if dims == -1 {
			dims = len(vec)
		} else if len(vec) != dims {
			return nil, fmt.Errorf("ticket %d: %w: %d vs %d", t.ID, ErrLengthMismatch, len(vec), dims)
		}
		items[i] = Item{ID: t.ID, Vector: vec}
	}
	return items, nil
}
