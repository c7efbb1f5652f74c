// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import "github.com/AleutianAI/mandibot/services/mandi/market"

// DefaultDiscoveryLimit caps how many distinct crops a discovery listing
// shows.
const DefaultDiscoveryLimit = 12

// CropListing is one distinct crop found during discovery, annotated with
// a representative market and state.
type CropListing struct {
	// Commodity is the crop name; "Unknown" when the record carried none.
	Commodity string

	// Market is the first market seen reporting this crop.
	Market string

	// State is that market's state.
	State string
}

// DistinctCommodities reduces a commodity-agnostic record set to the
// distinct crops it mentions, in first-seen order, capped at max.
//
// Description:
//
//	Display-level reduction over the discovery search. Each crop appears
//	exactly once, annotated with the market and state of its first
//	record. A non-positive max takes the default limit.
func DistinctCommodities(records []market.PriceRecord, max int) []CropListing {
	if max <= 0 {
		max = DefaultDiscoveryLimit
	}

	seen := make(map[string]bool)
	var listings []CropListing
	for _, r := range records {
		name := r.Commodity
		if name == "" {
			name = "Unknown"
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		mkt := r.Market
		if mkt == "" {
			mkt = "Unknown"
		}
		state := r.State
		if state == "" {
			state = "Unknown"
		}
		listings = append(listings, CropListing{Commodity: name, Market: mkt, State: state})
		if len(listings) >= max {
			break
		}
	}
	return listings
}
