// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/intratask/deviation-engine/pkg/logging"
	"github.com/intratask/deviation-engine/services/deviation/config"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [day]",
	Short: "Run the incremental analysis for one day",
	Long: `Fetches the given day's tickets (default: today), runs them through the
pipeline, and re-clusters the accumulated unclustered pool. The same run
the scheduler performs nightly.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "deviationd"})
	defer logger.Close()
	logger.InstallDefault()

	day := time.Now()
	if len(args) == 1 {
		day, err = time.Parse("2006-01-02", args[0])
		if err != nil {
			return fmt.Errorf("day must be formatted 2006-01-02: %w", err)
		}
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.runner.AnalyzeDay(cmd.Context(), day)
	if err != nil {
		return err
	}

	fmt.Printf("Analyzed %s: %d tickets fetched, %d matched severity tags, %d deviations created in %s\n",
		day.Format("2006-01-02"), result.Fetched, result.Filtered,
		result.DeviationsCreated, result.Duration.Round(time.Second))
	return nil
}
