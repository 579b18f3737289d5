// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intratask/deviation-engine/services/deviation/handlers"
	"github.com/intratask/deviation-engine/services/deviation/pipeline"
)

func SetupRoutes(router *gin.Engine, runner *pipeline.Runner, environment string, defaultSince time.Time) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/initialize", handlers.Initialize(runner, environment, defaultSince))
		api.POST("/analyse-todays-tickets", handlers.AnalyseTodaysTickets(runner))
	}
}
