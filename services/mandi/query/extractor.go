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
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/mandibot/services/mandi/lexicon"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	extractorTierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Subsystem: "extractor",
		Name:      "tier_total",
		Help:      "Commodity resolutions by winning tier: exact, fuzzy, semantic, none",
	}, []string{"tier"})

	extractorLocationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Subsystem: "extractor",
		Name:      "location_total",
		Help:      "Location resolutions by granularity: district, state, none",
	}, []string{"granularity"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var extractorTracer = otel.Tracer("mandibot.query.extractor")

// =============================================================================
// Thresholds
// =============================================================================

const (
	// DefaultFuzzyThreshold is the minimum WRatio score (0-100) for the
	// fuzzy tier to accept a commodity. Tightened to avoid accidental
	// mismatches on short queries.
	DefaultFuzzyThreshold = 70

	// DefaultSemanticThreshold is the minimum cosine similarity expressed
	// as a 0-100 percentage for the semantic tier to accept a phrase.
	DefaultSemanticThreshold = 60.0
)

// =============================================================================
// PhraseMatcher
// =============================================================================

// PhraseMatcher scores a query against the pre-embedded template phrases
// ("<commodity> price today") and returns the single best match.
//
// Implemented by embedding.PhraseCache. A nil matcher, or ok=false,
// disables the semantic tier — extraction degrades to exact + fuzzy only.
type PhraseMatcher interface {
	// Best returns the highest-similarity template phrase for the query.
	// similarity is cosine similarity scaled to 0-100. ok is false when
	// the backend is unavailable or unwarmed; this is not an error.
	Best(ctx context.Context, query string) (phrase string, similarity float64, ok bool)
}

// =============================================================================
// Extractor
// =============================================================================

// Extractor resolves a commodity and locations from raw user text using
// three escalating tiers.
//
// Description:
//
//	Tier 1 (exact): first known commodity whose lower-cased name occurs
//	as a substring of the lower-cased input, in lexicon order. Lexicon
//	order is the documented tie-break: when two commodity names both
//	occur, the one listed first in lexicon.yaml wins.
//
//	Tier 2 (fuzzy): only when tier 1 found nothing. Weighted-ratio fuzzy
//	score between the input and every commodity name; highest score wins,
//	first-encountered in lexicon order on ties; accepted at >= the fuzzy
//	threshold.
//
//	Tier 3 (semantic): only when tiers 1-2 found nothing. The phrase
//	matcher's best template phrase, accepted at >= the semantic
//	threshold; the resolved commodity is the first word of the winning
//	phrase.
//
//	Location resolution is independent of commodity and tiered by
//	granularity, not confidence: all districts across all states are
//	scanned first; only when no district matched are state names scanned.
//	District and state matches are never combined.
//
// Thread Safety: Safe for concurrent use; all state is read-only after
// construction.
type Extractor struct {
	lex               *lexicon.Lexicon
	matcher           PhraseMatcher
	fuzzyThreshold    int
	semanticThreshold float64
	logger            *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithFuzzyThreshold overrides the fuzzy tier acceptance score (0-100).
func WithFuzzyThreshold(score int) ExtractorOption {
	return func(x *Extractor) { x.fuzzyThreshold = score }
}

// WithSemanticThreshold overrides the semantic tier acceptance score (0-100).
func WithSemanticThreshold(score float64) ExtractorOption {
	return func(x *Extractor) { x.semanticThreshold = score }
}

// NewExtractor creates an Extractor over the given lexicon.
//
// Inputs:
//
//	lex     - The loaded lexicon. Must not be nil.
//	matcher - Semantic phrase matcher. Nil disables the semantic tier.
//	logger  - Logger instance. Nil uses slog.Default().
//	opts    - Optional threshold overrides.
//
// Outputs:
//
//	*Extractor - The constructed extractor. Never nil.
func NewExtractor(lex *lexicon.Lexicon, matcher PhraseMatcher, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	x := &Extractor{
		lex:               lex,
		matcher:           matcher,
		fuzzyThreshold:    DefaultFuzzyThreshold,
		semanticThreshold: DefaultSemanticThreshold,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract resolves a commodity and locations from text.
//
// Description:
//
//	Pure with respect to the extractor's own state: identical text
//	against an unchanged lexicon yields identical results. The only
//	external call is the semantic tier's embedding lookup, whose
//	floating-point jitter must not change selection under the stated
//	thresholds.
//
// Inputs:
//
//	ctx  - Context for the semantic tier's embedding call.
//	text - Raw user text. Empty text resolves nothing.
//
// Outputs:
//
//	string   - Commodity display name, "" when no tier succeeded.
//	[]string - Matched locations in lexicon traversal order; empty when
//	           neither districts nor states matched.
//
// Thread Safety: Safe for concurrent use.
func (x *Extractor) Extract(ctx context.Context, text string) (string, []string) {
	ctx, span := extractorTracer.Start(ctx, "query.Extractor.Extract",
		oteltrace.WithAttributes(
			attribute.String("query_preview", truncateForLog(text, 80)),
		),
	)
	defer span.End()

	commodity, tier := x.extractCommodity(ctx, text)
	extractorTierTotal.WithLabelValues(tier).Inc()

	locations, granularity := x.extractLocations(text)
	extractorLocationTotal.WithLabelValues(granularity).Inc()

	span.SetAttributes(
		attribute.String("tier", tier),
		attribute.String("commodity", commodity),
		attribute.String("location_granularity", granularity),
		attribute.Int("location_count", len(locations)),
	)

	return commodity, locations
}

// extractCommodity runs the three tiers in order and reports the winner.
func (x *Extractor) extractCommodity(ctx context.Context, text string) (string, string) {
	lower := strings.ToLower(text)

	// Tier 1: exact substring, lexicon order wins.
	for _, c := range x.lex.Commodities {
		if strings.Contains(lower, strings.ToLower(c)) {
			return lexicon.TitleCase(c), "exact"
		}
	}

	// Tier 2: weighted-ratio fuzzy match against every commodity name.
	// Strictly-greater comparison keeps the first-encountered candidate
	// on ties, preserving lexicon order as the tie-break.
	bestScore := 0
	bestName := ""
	for _, c := range x.lex.Commodities {
		if score := fuzzy.WRatio(text, c); score > bestScore {
			bestScore = score
			bestName = c
		}
	}
	if bestScore >= x.fuzzyThreshold {
		x.logger.Debug("fuzzy tier accepted commodity",
			slog.String("commodity", bestName),
			slog.Int("score", bestScore),
		)
		return lexicon.TitleCase(bestName), "fuzzy"
	}

	// Tier 3: semantic phrase match, last resort.
	if x.matcher != nil {
		phrase, similarity, ok := x.matcher.Best(ctx, text)
		if ok && similarity >= x.semanticThreshold {
			words := strings.Fields(phrase)
			if len(words) > 0 {
				x.logger.Debug("semantic tier accepted commodity",
					slog.String("phrase", phrase),
					slog.Float64("similarity", similarity),
				)
				return lexicon.TitleCase(words[0]), "semantic"
			}
		}
	}

	return "", "none"
}

// extractLocations scans districts first, then states, never both.
func (x *Extractor) extractLocations(text string) ([]string, string) {
	lower := strings.ToLower(text)

	var locations []string
	for _, st := range x.lex.States {
		for _, d := range st.Districts {
			if strings.Contains(lower, strings.ToLower(d)) {
				locations = append(locations, lexicon.TitleCase(d))
			}
		}
	}
	if len(locations) > 0 {
		return locations, "district"
	}

	for _, st := range x.lex.States {
		if strings.Contains(lower, strings.ToLower(st.Name)) {
			locations = append(locations, lexicon.TitleCase(st.Name))
		}
	}
	if len(locations) > 0 {
		return locations, "state"
	}
	return nil, "none"
}

// truncateForLog shortens a string for span attributes and log lines.
func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
