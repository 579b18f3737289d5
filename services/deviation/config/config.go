// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads engine configuration from a YAML file with
// environment variable overrides for deployment-specific values.
//
// Secrets never live in the YAML file: the Zendesk API token and OpenAI
// key come from the environment (or secrets mount) only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Zendesk   ZendeskConfig   `yaml:"zendesk"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Import    ImportConfig    `yaml:"import"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port        int    `yaml:"port" validate:"gt=0,lte=65535"`
	Environment string `yaml:"environment" validate:"oneof=development production"`
}

// ZendeskConfig identifies the ticket source account. The API token is
// environment-only (ZENDESK_API_TOKEN).
type ZendeskConfig struct {
	Subdomain         string `yaml:"subdomain" validate:"required"`
	Email             string `yaml:"email" validate:"required,email"`
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"gte=0"`
}

// StoreConfig configures the embedded database.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// EmbeddingConfig tunes embedding generation.
type EmbeddingConfig struct {
	BatchSize   int `yaml:"batch_size" validate:"gt=0"`
	Parallelism int `yaml:"parallelism" validate:"gt=0"`
}

// ClusterConfig tunes the clustering pass.
type ClusterConfig struct {
	Threshold      float64 `yaml:"threshold" validate:"gt=0,lt=1"`
	MinClusterSize int     `yaml:"min_cluster_size" validate:"gt=0"`
}

// ImportConfig configures the bulk initialization run.
type ImportConfig struct {
	// Since is the first day of history to import, formatted 2006-01-02.
	Since string `yaml:"since" validate:"required"`
}

// SchedulerConfig configures the daily incremental run.
type SchedulerConfig struct {
	Enabled     bool `yaml:"enabled"`
	RunAtHour   int  `yaml:"run_at_hour" validate:"gte=0,lte=23"`
	RunAtMinute int  `yaml:"run_at_minute" validate:"gte=0,lte=59"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        12400,
			Environment: "development",
		},
		Zendesk: ZendeskConfig{
			Subdomain:         "intratask",
			Email:             "platform@intratask.io",
			RequestsPerMinute: 10,
		},
		Store: StoreConfig{
			Path: "/var/lib/deviation-engine/badger",
		},
		Embedding: EmbeddingConfig{
			BatchSize:   64,
			Parallelism: 1,
		},
		Cluster: ClusterConfig{
			Threshold:      0.77,
			MinClusterSize: 20,
		},
		Import: ImportConfig{
			Since: "2019-01-01",
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			RunAtHour:   23,
			RunAtMinute: 30,
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse the config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := cfg.SinceTime(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// SinceTime parses the configured import start date.
func (c Config) SinceTime() (time.Time, error) {
	since, err := time.Parse("2006-01-02", c.Import.Since)
	if err != nil {
		return time.Time{}, fmt.Errorf("import.since must be formatted 2006-01-02: %w", err)
	}
	return since, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEVIATION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DEVIATION_ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("DEVIATION_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ZENDESK_SUBDOMAIN"); v != "" {
		cfg.Zendesk.Subdomain = v
	}
	if v := os.Getenv("ZENDESK_EMAIL"); v != "" {
		cfg.Zendesk.Email = v
	}
}
