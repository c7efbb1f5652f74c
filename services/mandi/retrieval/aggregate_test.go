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
	"math"
	"reflect"
	"testing"

	"github.com/AleutianAI/mandibot/services/mandi/market"
)

func recordsWithPrices(prices ...string) []market.PriceRecord {
	records := make([]market.PriceRecord, 0, len(prices))
	for _, p := range prices {
		records = append(records, market.PriceRecord{
			Market:     "Pune Market Yard",
			State:      "Maharashtra",
			ModalPrice: p,
		})
	}
	return records
}

func TestAggregateSkipsUnparseablePrices(t *testing.T) {
	stats := Aggregate(recordsWithPrices("1,200", "1350.5", "abc", "900"))

	if !stats.HasPrices {
		t.Fatal("expected parseable prices")
	}
	if stats.MinPrice != 900 {
		t.Errorf("min = %f, want 900", stats.MinPrice)
	}
	if stats.MaxPrice != 1350.5 {
		t.Errorf("max = %f, want 1350.5", stats.MaxPrice)
	}
	wantAvg := (900 + 1200 + 1350.5) / 3
	if math.Abs(stats.AvgPrice-wantAvg) > 1e-9 {
		t.Errorf("avg = %f, want %f", stats.AvgPrice, wantAvg)
	}
}

func TestAggregateNoParseablePrices(t *testing.T) {
	stats := Aggregate(recordsWithPrices("abc", "", "  "))
	if stats.HasPrices {
		t.Error("expected HasPrices false when nothing parses")
	}
	// The unparseable records still contribute names.
	if !reflect.DeepEqual(stats.TopMarkets, []string{"Pune Market Yard"}) {
		t.Errorf("markets = %v, want [Pune Market Yard]", stats.TopMarkets)
	}
}

func TestAggregateTopNamesSortedAndCapped(t *testing.T) {
	var records []market.PriceRecord
	for _, m := range []string{"Zeta", "Alpha", "Gamma", "Beta", "Delta", "Epsilon", "Alpha"} {
		records = append(records, market.PriceRecord{Market: m, State: "Maharashtra", ModalPrice: "100"})
	}

	stats := Aggregate(records)
	want := []string{"Alpha", "Beta", "Delta", "Epsilon", "Gamma"}
	if !reflect.DeepEqual(stats.TopMarkets, want) {
		t.Errorf("markets = %v, want lexicographic first 5 %v", stats.TopMarkets, want)
	}
}

func TestAggregateBlankNamesReadUnknown(t *testing.T) {
	stats := Aggregate([]market.PriceRecord{{ModalPrice: "100"}})
	if !reflect.DeepEqual(stats.TopMarkets, []string{"Unknown"}) {
		t.Errorf("markets = %v, want [Unknown]", stats.TopMarkets)
	}
	if !reflect.DeepEqual(stats.TopStates, []string{"Unknown"}) {
		t.Errorf("states = %v, want [Unknown]", stats.TopStates)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"1200", 1200, true},
		{"1,200", 1200, true},
		{" 1350.5 ", 1350.5, true},
		{"1,23,456", 123456, true}, // Indian digit grouping
		{"abc", 0, false},
		{"", 0, false},
		{"   ", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePrice(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parsePrice(%q) = (%f, %v), want (%f, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
