// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the deviation engine.
//
// Error responses never echo internal error detail; the detail is logged
// server-side and the client gets a generic message.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/intratask/deviation-engine/services/deviation/datatypes"
	"github.com/intratask/deviation-engine/services/deviation/pipeline"
)

// EnvironmentDevelopment gates the bulk initialization endpoint.
const EnvironmentDevelopment = "development"

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// InitializeRequest optionally overrides the import start date.
type InitializeRequest struct {
	// Since is the first day to import, formatted 2006-01-02.
	// Empty uses the configured default.
	Since string `json:"since"`
}

// Initialize runs the one-time bulk import.
//
// The endpoint is development-only: against production data the bulk run
// is executed once, deliberately, from the CLI, not from an HTTP client
// that might retry. Non-development environments get 403.
func Initialize(runner *pipeline.Runner, environment string, defaultSince time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		if environment != EnvironmentDevelopment {
			slog.Warn("Rejected initialize request outside development", "environment", environment)
			c.JSON(http.StatusForbidden, gin.H{"error": "initialization is only available in development"})
			return
		}

		since := defaultSince
		var req InitializeRequest
		// Body is optional; only a present-but-broken one is an error.
		if c.Request.Body != nil && c.Request.ContentLength > 0 {
			if err := c.BindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
			if req.Since != "" {
				parsed, err := time.Parse("2006-01-02", req.Since)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "since must be formatted 2006-01-02"})
					return
				}
				since = parsed
			}
		}

		result, err := runner.Initialize(c.Request.Context(), since)
		if errors.Is(err, pipeline.ErrAlreadyInitialized) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "already initialized"})
			return
		}
		if err != nil {
			slog.Error("Bulk initialization failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":             "success",
			"tickets_fetched":    result.Fetched,
			"tickets_filtered":   result.Filtered,
			"deviations_created": result.DeviationsCreated,
		})
	}
}

// AnalyseTodaysTickets runs the incremental pipeline over a pushed batch
// of raw tickets, typically one day's intake.
func AnalyseTodaysTickets(runner *pipeline.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw []datatypes.ZendeskTicket
		if err := c.BindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		tickets := make([]datatypes.Ticket, 0, len(raw))
		for _, r := range raw {
			ticket, err := r.ToTicket()
			if err != nil {
				slog.Warn("Skipping malformed ticket in analysis batch", "ticket_id", r.ID, "error", err)
				continue
			}
			tickets = append(tickets, ticket)
		}

		result, err := runner.AnalyzeBatch(c.Request.Context(), tickets)
		if err != nil {
			slog.Error("Incremental analysis failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":             "success",
			"tickets_received":   len(raw),
			"tickets_filtered":   result.Filtered,
			"deviations_created": result.DeviationsCreated,
		})
	}
}
