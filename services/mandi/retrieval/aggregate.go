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

import (
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/mandibot/services/mandi/market"
)

// topNameLimit caps the markets and states lists in a price response.
const topNameLimit = 5

// AggregateStats are the derived price statistics for one record set.
// Recomputed on demand, never cached.
type AggregateStats struct {
	// MinPrice, MaxPrice, AvgPrice are over the parseable modal prices,
	// in ₹/quintal. Meaningless when HasPrices is false.
	MinPrice float64
	MaxPrice float64
	AvgPrice float64

	// HasPrices is false when no record carried a parseable modal price.
	HasPrices bool

	// TopMarkets and TopStates are the lexicographically first distinct
	// names over ALL records (not just the parseable ones), at most five
	// each, with "Unknown" substituted for blank names.
	TopMarkets []string
	TopStates  []string
}

// Aggregate reduces a record set to price statistics and name lists.
//
// Description:
//
//	Modal prices arrive as strings and may carry thousands separators or
//	be blank. Unparseable prices drop out of the min/max/avg only; their
//	records still contribute markets and states.
func Aggregate(records []market.PriceRecord) AggregateStats {
	var stats AggregateStats

	var sum float64
	count := 0
	for _, r := range records {
		price, ok := parsePrice(r.ModalPrice)
		if !ok {
			continue
		}
		if count == 0 || price < stats.MinPrice {
			stats.MinPrice = price
		}
		if count == 0 || price > stats.MaxPrice {
			stats.MaxPrice = price
		}
		sum += price
		count++
	}
	if count > 0 {
		stats.AvgPrice = sum / float64(count)
		stats.HasPrices = true
	}

	stats.TopMarkets = topNames(records, func(r market.PriceRecord) string { return r.Market })
	stats.TopStates = topNames(records, func(r market.PriceRecord) string { return r.State })
	return stats
}

// parsePrice parses an upstream modal price, stripping thousands
// separators and surrounding whitespace.
func parsePrice(raw string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if cleaned == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// topNames collects the distinct values of field over all records, sorts
// lexicographically, and keeps the first topNameLimit. Blank values read
// as "Unknown".
func topNames(records []market.PriceRecord, field func(market.PriceRecord) string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range records {
		name := field(r)
		if name == "" {
			name = "Unknown"
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > topNameLimit {
		names = names[:topNameLimit]
	}
	return names
}
