// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embed turns ticket text into fixed-size embedding vectors.
//
// Vectors leave this package L2-normalized, so downstream similarity is a
// plain dot product, and are serialized as decimal strings on the ticket
// record so the stored form survives round-trips without float drift.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
)

// Embedder produces one embedding vector per input text.
type Embedder interface {
	// EmbedTexts returns one vector per input, in input order. Partial
	// results are never returned: any failure fails the whole call.
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions is the vector size this embedder produces.
	Dimensions() int
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAIEmbedder builds an embedder from the environment. The API key
// comes from OPENAI_API_KEY or, failing that, the Podman secrets mount.
func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	model := openai.EmbeddingModel(os.Getenv("OPENAI_EMBEDDING_MODEL"))
	if model == "" {
		model = openai.SmallEmbedding3
		slog.Warn("OPENAI_EMBEDDING_MODEL not set, defaulting to text-embedding-3-small")
	}

	slog.Info("Initializing OpenAI embedder", "model", model, "dimensions", datatypes.EmbeddingDimensions)
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
		dims:   datatypes.EmbeddingDimensions,
	}, nil
}

func (o *OpenAIEmbedder) Dimensions() int {
	return o.dims
}

// EmbedTexts requests embeddings for a batch of texts in one API call.
func (o *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      o.model,
		Dimensions: o.dims,
	})
	if err != nil {
		slog.Error("OpenAI embeddings call failed", "error", err, "batch_size", len(texts))
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("OpenAI returned embedding with out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != o.dims {
			return nil, fmt.Errorf("OpenAI returned %d-dimensional embedding, expected %d", len(d.Embedding), o.dims)
		}

		vec := make([]float64, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float64(v)
		}
		vectors[d.Index] = normalize(vec)
	}
	return vectors, nil
}

// normalize rescales to unit L2 norm. Truncated-dimension embeddings come
// back unnormalized from the API, and similarity downstream assumes unit
// vectors.
func normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
