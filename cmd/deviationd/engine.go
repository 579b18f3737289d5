// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/intratask/deviation-engine/services/deviation/cluster"
	"github.com/intratask/deviation-engine/services/deviation/config"
	"github.com/intratask/deviation-engine/services/deviation/embed"
	"github.com/intratask/deviation-engine/services/deviation/observability"
	"github.com/intratask/deviation-engine/services/deviation/pipeline"
	"github.com/intratask/deviation-engine/services/deviation/storage/badgerstore"
	"github.com/intratask/deviation-engine/services/deviation/zendesk"
)

// engine bundles the wired pipeline with the resources that need closing.
type engine struct {
	runner *pipeline.Runner
	store  *badgerstore.Store
}

func (e *engine) Close() error {
	return e.store.Close()
}

// buildEngine wires the store, the Zendesk client, the embedder, and the
// runner from configuration. Secrets come from the environment only.
func buildEngine(cfg config.Config) (*engine, error) {
	store, err := badgerstore.Open(badgerstore.DefaultConfig(cfg.Store.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open the ticket store: %w", err)
	}

	source, err := zendesk.NewClient(zendesk.Config{
		Subdomain:         cfg.Zendesk.Subdomain,
		Email:             cfg.Zendesk.Email,
		APIToken:          os.Getenv("ZENDESK_API_TOKEN"),
		RequestsPerMinute: cfg.Zendesk.RequestsPerMinute,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create the Zendesk client: %w", err)
	}

	embedder, err := embed.NewOpenAIEmbedder()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create the embedder: %w", err)
	}
	generator := embed.NewGenerator(embedder, embed.GeneratorConfig{
		BatchSize:   cfg.Embedding.BatchSize,
		Parallelism: cfg.Embedding.Parallelism,
	})

	opts := []pipeline.Option{
		pipeline.WithMetrics(observability.InitMetrics()),
		pipeline.WithClusterOptions(cluster.Options{
			Threshold:      cfg.Cluster.Threshold,
			MinClusterSize: cfg.Cluster.MinClusterSize,
		}),
	}
	if index := weaviateIndex(); index != nil {
		opts = append(opts, pipeline.WithIndex(index))
	}

	return &engine{
		runner: pipeline.NewRunner(store, source, generator, opts...),
		store:  store,
	}, nil
}

// weaviateIndex returns an approximate candidate index when
// WEAVIATE_SERVICE_URL is set, nil otherwise. Without it clustering falls
// back to the exhaustive pairwise scan.
func weaviateIndex() pipeline.IndexFactory {
	// Trim quotes and whitespace in case the container runtime passes them literally.
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" {
		slog.Info("WEAVIATE_SERVICE_URL not set, clustering uses the exhaustive scan")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid, clustering uses the exhaustive scan",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Warn("Failed to create the Weaviate client, clustering uses the exhaustive scan",
			"error", err)
		return nil
	}

	slog.Info("Clustering uses the Weaviate candidate index", "host", parsedURL.Host)
	return cluster.NewWeaviateIndex(client, "TicketVector")
}
