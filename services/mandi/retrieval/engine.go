// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements day-by-day backward search over the mandi
// record source, plus the aggregation and formatting of what it finds.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/mandibot/services/mandi/market"
	"github.com/AleutianAI/mandibot/services/mandi/query"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	retrievalOffsetUsed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mandi",
		Subsystem: "retrieval",
		Name:      "offset_used_days",
		Help:      "Days back from the preferred date at which records were found",
		Buckets:   []float64{0, 1, 2, 3, 4, 5, 6, 7},
	})

	retrievalOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Subsystem: "retrieval",
		Name:      "outcome_total",
		Help:      "Retrieval outcomes: hit, exhausted, aborted",
	}, []string{"outcome"})

	retrievalSourceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mandi",
		Subsystem: "retrieval",
		Name:      "source_failure_total",
		Help:      "Record source failures absorbed or counted during backward search",
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var retrievalTracer = otel.Tracer("mandibot.retrieval")

// =============================================================================
// Engine
// =============================================================================

// DefaultMaxDaysBack bounds the backward search window.
const DefaultMaxDaysBack = 7

// Result is the outcome of one backward search.
type Result struct {
	// Records are the location-filtered records found, empty when the
	// window was exhausted.
	Records []market.PriceRecord

	// DateUsed is the date the records came from; the preferred date
	// itself when nothing was found.
	DateUsed time.Time

	// DateLabel is the human label for DateUsed: "Today", "Yesterday",
	// an explicit calendar date, or "Selected date" on exhaustion away
	// from the reference date.
	DateLabel string
}

// Engine walks backward from a preferred date until a day with records is
// found or the window is exhausted.
//
// Description:
//
//	Offsets run 0..maxDaysBack ascending, so the freshest available day
//	always wins. Each day's records are location-filtered before the
//	non-empty check: a day with records only outside the requested
//	locations does not stop the search.
//
//	Labels follow the user's frame of reference. When the preferred date
//	is the engine's current date, offsets 0 and 1 read "Today" and
//	"Yesterday" and deeper offsets read as explicit calendar dates. When
//	the user asked about some other date, every offset reads as an
//	explicit calendar date — "Yesterday" relative to last Tuesday would
//	mislead.
//
//	Source failures are counted, logged, and by default absorbed as
//	zero-record days so one flaky upstream day cannot hide older data.
//	StopAfterFailures > 0 turns the count into an abort bound for
//	callers that prefer failing fast over a degraded answer.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	source            market.RecordSource
	maxDaysBack       int
	stopAfterFailures int
	clock             func() time.Time
	logger            *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxDaysBack overrides the backward search window (inclusive bound).
func WithMaxDaysBack(days int) EngineOption {
	return func(e *Engine) { e.maxDaysBack = days }
}

// WithStopAfterFailures aborts the search once this many source failures
// accumulate. Zero (the default) absorbs failures and keeps searching.
func WithStopAfterFailures(n int) EngineOption {
	return func(e *Engine) { e.stopAfterFailures = n }
}

// WithClock overrides the engine's notion of "now". Used in tests.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an Engine over the record source.
//
// Inputs:
//
//	source - The record source. Must not be nil.
//	logger - Logger instance. Nil uses slog.Default().
//	opts   - Optional window, failure-policy, and clock overrides.
//
// Outputs:
//
//	*Engine - The constructed engine. Never nil.
func NewEngine(source market.RecordSource, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		source:      source,
		maxDaysBack: DefaultMaxDaysBack,
		clock:       time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve runs the backward search.
//
// Inputs:
//
//	ctx           - Context; cancellation aborts between offsets.
//	commodity     - Display-form commodity name; "" searches all
//	                commodities (discovery mode).
//	locations     - Location filters; empty means unfiltered.
//	preferredDate - The date to start from, walking backward.
//
// Outputs:
//
//	Result - Never zero: DateUsed and DateLabel are set even on
//	         exhaustion.
//	error  - Non-nil only when the failure bound or the context aborted
//	         the search before the window was exhausted.
func (e *Engine) Retrieve(ctx context.Context, commodity string, locations []string, preferredDate time.Time) (Result, error) {
	ctx, span := retrievalTracer.Start(ctx, "retrieval.Engine.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("commodity", commodity),
		attribute.Int("locations", len(locations)),
		attribute.Int("max_days_back", e.maxDaysBack),
	)

	now := e.clock()
	preferredIsToday := query.SameDay(preferredDate, now)
	failures := 0

	for offset := 0; offset <= e.maxDaysBack; offset++ {
		if err := ctx.Err(); err != nil {
			retrievalOutcomeTotal.WithLabelValues("aborted").Inc()
			return e.exhausted(preferredDate, preferredIsToday), err
		}

		day := preferredDate.AddDate(0, 0, -offset)
		records, err := e.source.Fetch(ctx, commodity, day)
		if err != nil {
			failures++
			retrievalSourceFailures.Inc()
			e.logger.Warn("retrieval: source failed for date, continuing",
				slog.String("commodity", commodity),
				slog.String("date", market.FormatAPIDate(day)),
				slog.Int("failures", failures),
				slog.String("error", err.Error()),
			)
			if e.stopAfterFailures > 0 && failures >= e.stopAfterFailures {
				retrievalOutcomeTotal.WithLabelValues("aborted").Inc()
				span.SetAttributes(attribute.Int("failures", failures))
				return e.exhausted(preferredDate, preferredIsToday),
					fmt.Errorf("retrieval: aborted after %d source failures: %w", failures, err)
			}
			continue
		}

		filtered := filterByLocation(records, locations)
		if len(filtered) == 0 {
			continue
		}

		retrievalOffsetUsed.Observe(float64(offset))
		retrievalOutcomeTotal.WithLabelValues("hit").Inc()
		span.SetAttributes(
			attribute.Int("offset_used", offset),
			attribute.Int("record_count", len(filtered)),
		)
		return Result{
			Records:   filtered,
			DateUsed:  day,
			DateLabel: offsetLabel(offset, day, preferredIsToday),
		}, nil
	}

	retrievalOutcomeTotal.WithLabelValues("exhausted").Inc()
	return e.exhausted(preferredDate, preferredIsToday), nil
}

// exhausted builds the empty result for a spent window.
func (e *Engine) exhausted(preferredDate time.Time, preferredIsToday bool) Result {
	label := "Selected date"
	if preferredIsToday {
		label = "Today"
	}
	return Result{DateUsed: preferredDate, DateLabel: label}
}

// offsetLabel picks the human label for a hit at the given offset.
func offsetLabel(offset int, day time.Time, preferredIsToday bool) string {
	if !preferredIsToday {
		return day.Format(query.ExplicitDateLabel)
	}
	switch offset {
	case 0:
		return "Today"
	case 1:
		return "Yesterday"
	default:
		return day.Format(query.ExplicitDateLabel)
	}
}

// filterByLocation keeps records whose state, market, or district contains
// any requested location, case-insensitively. Empty locations pass
// everything through.
func filterByLocation(records []market.PriceRecord, locations []string) []market.PriceRecord {
	if len(locations) == 0 {
		return records
	}
	var filtered []market.PriceRecord
	for _, r := range records {
		state := strings.ToLower(r.State)
		mkt := strings.ToLower(r.Market)
		district := strings.ToLower(r.District)
		for _, loc := range locations {
			needle := strings.ToLower(loc)
			if strings.Contains(state, needle) || strings.Contains(mkt, needle) || strings.Contains(district, needle) {
				filtered = append(filtered, r)
				break
			}
		}
	}
	return filtered
}
