// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// =============================================================================
// OTel Tracer
// =============================================================================

var contextTracer = otel.Tracer("mandibot.query.context")

// =============================================================================
// ContextResolver
// =============================================================================

// ContextResolver combines the current turn's extracted entities with the
// most recent non-empty values from conversation history.
//
// Description:
//
//	This is the "carry context forward" behavior: a user can say "onion
//	in Pune today" then "what about yesterday?" and the resolver re-uses
//	"Onion" and "Pune" from history while honoring the new date cue.
//
//	Each missing field is filled independently — commodity, locations,
//	date filter, and date label may come from different past turns. Any
//	field still missing after the history scan is defaulted: the date
//	filter to the reference date with label "Today"; commodity and
//	locations have no default.
//
// Thread Safety: Safe for concurrent use across different conversations.
type ContextResolver struct {
	extractor *Extractor
	logger    *slog.Logger
}

// NewContextResolver creates a ContextResolver.
//
// Inputs:
//
//	extractor - The entity extractor. Must not be nil.
//	logger    - Logger instance. Nil uses slog.Default().
func NewContextResolver(extractor *Extractor, logger *slog.Logger) *ContextResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextResolver{extractor: extractor, logger: logger}
}

// Resolve produces a fully populated query for the current turn.
//
// Inputs:
//
//	ctx     - Context for the extractor's semantic tier.
//	text    - The current turn's raw text.
//	history - Prior turns, oldest first. May be empty.
//	ref     - The reference time for relative date cues and defaults.
//
// Outputs:
//
//	Entities - DateFilter and DateLabel are always set; Commodity and
//	           Locations may remain empty when nothing resolved them.
//
// Thread Safety: Safe for concurrent use.
func (r *ContextResolver) Resolve(ctx context.Context, text string, history []Turn, ref time.Time) Entities {
	ctx, span := contextTracer.Start(ctx, "query.ContextResolver.Resolve")
	defer span.End()

	var resolved Entities
	resolved.Commodity, resolved.Locations = r.extractor.Extract(ctx, text)
	resolved.DateFilter, resolved.DateLabel = ResolveDate(text, ref)

	filled := r.fillFromHistory(&resolved, history)

	// Defaults for anything history could not supply. Commodity and
	// locations deliberately have none.
	if resolved.DateFilter.IsZero() {
		resolved.DateFilter = ref
		if resolved.DateLabel == "" {
			resolved.DateLabel = "Today"
		}
	}
	if resolved.DateLabel == "" {
		resolved.DateLabel = "Today"
	}

	span.SetAttributes(
		attribute.String("commodity", resolved.Commodity),
		attribute.Int("locations", len(resolved.Locations)),
		attribute.String("date_label", resolved.DateLabel),
		attribute.Int("fields_from_history", filled),
	)

	r.logger.Debug("context resolved",
		slog.String("commodity", resolved.Commodity),
		slog.Any("locations", resolved.Locations),
		slog.String("date_label", resolved.DateLabel),
		slog.Int("fields_from_history", filled),
	)

	return resolved
}

// fillFromHistory fills each missing field from the most recent turn whose
// metadata carries a value for it. Fields are independent: they may be
// satisfied by different turns. Returns the number of fields filled.
func (r *ContextResolver) fillFromHistory(e *Entities, history []Turn) int {
	filled := 0
	for i := len(history) - 1; i >= 0; i-- {
		meta := history[i].Meta
		if e.Commodity == "" && meta.Commodity != "" {
			e.Commodity = meta.Commodity
			filled++
		}
		if len(e.Locations) == 0 && len(meta.Locations) > 0 {
			e.Locations = meta.Locations
			filled++
		}
		if e.DateFilter.IsZero() && !meta.DateFilter.IsZero() {
			e.DateFilter = meta.DateFilter
			filled++
		}
		if e.DateLabel == "" && meta.DateLabel != "" {
			e.DateLabel = meta.DateLabel
			filled++
		}
	}
	return filled
}
