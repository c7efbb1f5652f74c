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
	"fmt"
	"strings"

	"github.com/AleutianAI/mandibot/services/mandi/market"
)

// FormatPriceResponse renders the successful-answer markdown: commodity,
// date label, price range, average, markets, and states, each list entry
// on its own line.
//
// Description:
//
//	String assembly only; the shape of this text is load-bearing for
//	clients that parse it. When no record carried a parseable price the
//	range and average read "not reported" rather than fabricating zeros.
func FormatPriceResponse(commodity, dateLabel string, records []market.PriceRecord) string {
	stats := Aggregate(records)

	var b strings.Builder
	fmt.Fprintf(&b, "🌾 **%s — %s**\n\n", commodity, dateLabel)

	if stats.HasPrices {
		fmt.Fprintf(&b, "**Price range:**\n  ₹%.0f – ₹%.0f/quintal\n\n", stats.MinPrice, stats.MaxPrice)
		fmt.Fprintf(&b, "**Average price:**\n  ₹%.0f/quintal\n\n", stats.AvgPrice)
	} else {
		b.WriteString("**Price range:**\n  not reported\n\n")
		b.WriteString("**Average price:**\n  not reported\n\n")
	}

	fmt.Fprintf(&b, "**Top markets:**\n%s\n\n", bulletList(stats.TopMarkets))
	fmt.Fprintf(&b, "**States:**\n%s\n\n", bulletList(stats.TopStates))
	b.WriteString("Tip: Prices vary by market and quality. 📈")
	return b.String()
}

// FormatSuggestions renders the did-you-mean reply for the nearest
// template phrases when no commodity resolved.
func FormatSuggestions(phrases []string) string {
	var b strings.Builder
	b.WriteString("⚠️ I couldn't clearly understand the crop. Did you mean one of these?\n\n")
	for i, p := range phrases {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "• %s", p)
	}
	return b.String()
}

// FormatDiscovery renders the other-crops-available reply built from a
// discovery listing.
func FormatDiscovery(locationLabel string, listings []CropListing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ I couldn’t find reliable data for that crop in %s.\n\nHere are other crops available:\n\n", locationLabel)
	for i, l := range listings {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "• %s (%s, %s)", l.Commodity, l.Market, l.State)
	}
	return b.String()
}

// FormatNoData renders the nothing-found reply.
func FormatNoData(locationLabel string) string {
	return fmt.Sprintf("😞 No mandi data found for %s.", locationLabel)
}

// LocationLabel joins the resolved locations for display, with a generic
// fallback when none resolved.
func LocationLabel(locations []string) string {
	if len(locations) == 0 {
		return "your area"
	}
	return strings.Join(locations, ", ")
}

// bulletList renders names as indented bullet lines, or a single Unknown
// bullet for an empty list.
func bulletList(names []string) string {
	if len(names) == 0 {
		return "  • Unknown"
	}
	lines := make([]string, 0, len(names))
	for _, n := range names {
		lines = append(lines, "  • "+n)
	}
	return strings.Join(lines, "\n")
}
