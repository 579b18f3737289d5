// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/intratask/deviation-engine/pkg/logging"
	"github.com/intratask/deviation-engine/services/deviation/config"
	"github.com/intratask/deviation-engine/services/deviation/pipeline"
)

var (
	initSince string

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Bulk-import and cluster the full ticket history",
		Long: `Fetches every ticket created since the configured start date, filters
by severity tag, embeds, persists, clusters, and materializes deviations.
Refuses to run against a store that already contains tickets.`,
		RunE: runInit,
	}
)

func init() {
	initCmd.Flags().StringVar(&initSince, "since", "",
		"override the import start date (2006-01-02)")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "deviationd"})
	defer logger.Close()
	logger.InstallDefault()

	since, err := cfg.SinceTime()
	if err != nil {
		return err
	}
	if initSince != "" {
		since, err = time.Parse("2006-01-02", initSince)
		if err != nil {
			return fmt.Errorf("--since must be formatted 2006-01-02: %w", err)
		}
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.runner.Initialize(cmd.Context(), since)
	if errors.Is(err, pipeline.ErrAlreadyInitialized) {
		return fmt.Errorf("the store at %s already contains tickets; init runs against an empty store only", cfg.Store.Path)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d tickets (%d matched severity tags), created %d deviations in %s\n",
		result.Fetched, result.Filtered, result.DeviationsCreated, result.Duration.Round(time.Second))
	return nil
}
