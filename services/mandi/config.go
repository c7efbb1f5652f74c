// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mandi is the service façade: it owns the per-session
// conversations and orchestrates extraction, retrieval, and formatting
// into one answer per turn.
package mandi

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/mandibot/services/mandi/retrieval"
)

// ServiceConfig tunes the orchestration layer.
type ServiceConfig struct {
	// MaxDaysBack is the retrieval engine's backward window.
	MaxDaysBack int

	// StopAfterFailures is the engine's failure bound; zero absorbs
	// source failures and keeps searching.
	StopAfterFailures int

	// SuggestionCount is how many did-you-mean phrases to offer when no
	// commodity resolves.
	SuggestionCount int

	// DiscoveryLimit caps the distinct crops shown by discovery.
	DiscoveryLimit int
}

// LoadServiceConfig reads the service configuration from the environment,
// falling back to defaults.
//
// Environment:
//
//	MANDI_MAX_DAYS_BACK       - Backward search window (default 7).
//	MANDI_STOP_AFTER_FAILURES - Failure bound (default 0 = absorb).
//	MANDI_SUGGESTION_COUNT    - Did-you-mean suggestion count (default 3).
//	MANDI_DISCOVERY_LIMIT     - Discovery listing cap (default 12).
func LoadServiceConfig(logger *slog.Logger) ServiceConfig {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := ServiceConfig{
		MaxDaysBack:     retrieval.DefaultMaxDaysBack,
		SuggestionCount: 3,
		DiscoveryLimit:  retrieval.DefaultDiscoveryLimit,
	}
	cfg.MaxDaysBack = envInt(logger, "MANDI_MAX_DAYS_BACK", cfg.MaxDaysBack)
	cfg.StopAfterFailures = envInt(logger, "MANDI_STOP_AFTER_FAILURES", cfg.StopAfterFailures)
	cfg.SuggestionCount = envInt(logger, "MANDI_SUGGESTION_COUNT", cfg.SuggestionCount)
	cfg.DiscoveryLimit = envInt(logger, "MANDI_DISCOVERY_LIMIT", cfg.DiscoveryLimit)
	return cfg
}

// envInt reads a non-negative integer env var, keeping the fallback on
// absence or a bad value.
func envInt(logger *slog.Logger, key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logger.Warn("config: ignoring invalid value",
			slog.String("key", key),
			slog.String("value", raw),
			slog.Int("fallback", fallback),
		)
		return fallback
	}
	return v
}
