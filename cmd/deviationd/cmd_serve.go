// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/intratask/deviation-engine/pkg/logging"
	"github.com/intratask/deviation-engine/services/deviation/config"
	"github.com/intratask/deviation-engine/services/deviation/observability"
	"github.com/intratask/deviation-engine/services/deviation/routes"
	"github.com/intratask/deviation-engine/services/deviation/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deviation engine HTTP server and daily scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("DEVIATION_LOG_DIR"),
		Service: "deviationd",
		JSON:    true,
	})
	defer logger.Close()
	logger.InstallDefault()

	cleanup, err := observability.InitTracer("deviation-service")
	if err != nil {
		return fmt.Errorf("failed to set up the OTLP tracer: %w", err)
	}
	defer cleanup(context.Background())

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	since, err := cfg.SinceTime()
	if err != nil {
		return err
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware("deviation-service"))
	routes.SetupRoutes(router, eng.runner, cfg.Server.Environment, since)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(eng.runner, scheduler.Config{
			RunAtHour:   cfg.Scheduler.RunAtHour,
			RunAtMinute: cfg.Scheduler.RunAtMinute,
			Location:    time.Local,
		})
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Deviation engine server starting", "port", cfg.Server.Port,
			"environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
