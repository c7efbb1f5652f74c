// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query implements the query-understanding engine: tiered entity
// extraction, temporal cue resolution, and conversational context
// carry-over across turns.
package query

import "time"

// Entities is what was understood from a single turn of user text.
//
// Description:
//
//	Produced fresh per turn by the extractor and temporal resolver, then
//	merged with conversation history by the context resolver. A zero
//	value for any field means "not specified by this turn".
//
// Thread Safety: Value type; treat as immutable once produced.
type Entities struct {
	// Commodity is the resolved commodity display name. "" = unresolved.
	Commodity string `json:"commodity,omitempty"`

	// Locations lists resolved district or state names, in lexicon
	// traversal order. District and state matches are never mixed.
	Locations []string `json:"locations,omitempty"`

	// DateFilter is the day-precision date the turn refers to.
	// Zero = unspecified.
	DateFilter time.Time `json:"date_filter,omitempty"`

	// DateLabel is the human form of DateFilter ("Today", "Yesterday",
	// or an explicit calendar date). "" = unspecified.
	DateLabel string `json:"date_label,omitempty"`
}

// ExplicitDateLabel is the layout for date labels that are neither
// "Today" nor "Yesterday" (e.g. "28 Aug 2026").
const ExplicitDateLabel = "02 Jan 2006"

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
