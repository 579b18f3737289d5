// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateIndex is an opt-in approximate-nearest-neighbor candidate source
// backed by a Weaviate instance.
//
// This is a documented behavioral variant, not a silent replacement for the
// exhaustive scan: HNSW recall is high but not guaranteed to be perfect, so
// a candidate the exhaustive pass would have found can in principle be
// missed, which shifts the greedy assignment. Use it when the unclustered
// pool has grown past what the O(n²) scan can absorb; keep the default
// exhaustive backend when exact, reproducible assignment matters.
//
// The index is transient: Build uploads the arena (position + vector) into
// a dedicated class, Candidates queries it, and Drop removes the class
// afterwards.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
	items  []Item

	// certainty is Weaviate's similarity measure, (1 + cosine) / 2,
	// derived from the engine threshold at Build time.
	certainty float32
}

// NewWeaviateIndex creates an index over the given client. The class name
// namespaces one clustering pass; concurrent passes must use distinct
// names.
func NewWeaviateIndex(client *weaviate.Client, class string) *WeaviateIndex {
	return &WeaviateIndex{client: client, class: class}
}

// Build creates the class and uploads every item with its position and raw
// vector (vectorizer "none"; the vectors are already computed).
func (w *WeaviateIndex) Build(ctx context.Context, items []Item, threshold float64) error {
	w.items = items
	w.certainty = float32((1 + threshold) / 2)

	class := &models.Class{
		Class:      w.class,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "position", DataType: []string{"int"}},
		},
	}

	// A leftover class from an aborted run would poison positions; drop it
	// before creating.
	_, err := w.client.Schema().ClassGetter().WithClassName(w.class).Do(ctx)
	if err == nil {
		if err := w.Drop(ctx); err != nil {
			return err
		}
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", w.class, err)
	}

	const batchSize = 200
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}

		objects := make([]*models.Object, 0, end-start)
		for i := start; i < end; i++ {
			vec := make(models.C11yVector, len(items[i].Vector))
			for d, v := range items[i].Vector {
				vec[d] = float32(v)
			}
			objects = append(objects, &models.Object{
				Class:      w.class,
				Vector:     vec,
				Properties: map[string]interface{}{"position": i},
			})
		}

		if _, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx); err != nil {
			return fmt.Errorf("batch insert into %s: %w", w.class, err)
		}
	}
	return nil
}

// positionResponse is the GraphQL response shape for Candidates. The outer
// key matches the class name, so the response is decoded generically.
type positionResponse struct {
	Get map[string][]struct {
		Position int `json:"position"`
	} `json:"Get"`
}

// Candidates returns the positions j > i whose similarity to item i is at
// or above the threshold, ascending. Weaviate filters both the certainty
// and the position predicate server-side; sorting restores the position
// order the greedy pass depends on.
func (w *WeaviateIndex) Candidates(ctx context.Context, i int) ([]int, error) {
	vec := make([]float32, len(w.items[i].Vector))
	for d, v := range w.items[i].Vector {
		vec[d] = float32(v)
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec).
		WithCertainty(w.certainty)

	where := filters.Where().
		WithPath([]string{"position"}).
		WithOperator(filters.GreaterThan).
		WithValueInt(int64(i))

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(graphql.Field{Name: "position"}).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(len(w.items)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("near-vector query for position %d: %w", i, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("near-vector query for position %d: %s", i, resp.Errors[0].Message)
	}

	data, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql response: %w", err)
	}
	var parsed positionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	rows := parsed.Get[w.class]
	out := make([]int, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Position)
	}
	sort.Ints(out)
	return out, nil
}

// Drop removes the index class and all uploaded objects.
func (w *WeaviateIndex) Drop(ctx context.Context) error {
	if err := w.client.Schema().ClassDeleter().WithClassName(w.class).Do(ctx); err != nil {
		return fmt.Errorf("drop class %s: %w", w.class, err)
	}
	return nil
}
