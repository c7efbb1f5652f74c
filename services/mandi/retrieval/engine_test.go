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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/mandibot/services/mandi/market"
)

// fakeSource serves canned records or errors keyed by the wire date.
type fakeSource struct {
	records map[string][]market.PriceRecord
	errs    map[string]error
	calls   []string
}

func (f *fakeSource) Fetch(_ context.Context, _ string, date time.Time) ([]market.PriceRecord, error) {
	key := market.FormatAPIDate(date)
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.records[key], nil
}

var testRef = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testRef }

func puneRecord(price string) market.PriceRecord {
	return market.PriceRecord{
		Commodity:  "Tomato",
		State:      "Maharashtra",
		District:   "Pune",
		Market:     "Pune Market Yard",
		ModalPrice: price,
	}
}

func TestRetrieveHitOnPreferredDate(t *testing.T) {
	src := &fakeSource{records: map[string][]market.PriceRecord{
		"28/08/2026": {puneRecord("1200")},
	}}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, testRef)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(result.Records))
	}
	if result.DateLabel != "Today" {
		t.Errorf("label = %q, want Today", result.DateLabel)
	}
	if !result.DateUsed.Equal(testRef) {
		t.Errorf("date used = %v, want %v", result.DateUsed, testRef)
	}
}

func TestRetrieveFallsBackOneDay(t *testing.T) {
	src := &fakeSource{records: map[string][]market.PriceRecord{
		"27/08/2026": {puneRecord("1100")},
	}}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, testRef)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if result.DateLabel != "Yesterday" {
		t.Errorf("label = %q, want Yesterday", result.DateLabel)
	}
}

func TestRetrieveDeepOffsetGetsExplicitLabel(t *testing.T) {
	// Data exists only 3 days back; offsets >= 2 must read as explicit
	// calendar dates, never "Today"/"Yesterday".
	src := &fakeSource{records: map[string][]market.PriceRecord{
		"25/08/2026": {puneRecord("900")},
	}}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, testRef)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if result.DateLabel != "25 Aug 2026" {
		t.Errorf("label = %q, want explicit 25 Aug 2026", result.DateLabel)
	}
	if len(src.calls) != 4 {
		t.Errorf("source called %d times, want 4 (offsets 0..3)", len(src.calls))
	}
}

func TestRetrieveHistoricPreferredDateAlwaysExplicit(t *testing.T) {
	// User asked about a past date: even offset 0 reads as an explicit
	// date, "Today" would be wrong.
	preferred := testRef.AddDate(0, 0, -5)
	src := &fakeSource{records: map[string][]market.PriceRecord{
		"23/08/2026": {puneRecord("1000")},
	}}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, preferred)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if result.DateLabel != "23 Aug 2026" {
		t.Errorf("label = %q, want explicit 23 Aug 2026", result.DateLabel)
	}
}

func TestRetrieveExhaustedWindow(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, testRef)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Records) != 0 {
		t.Errorf("got %d records, want 0", len(result.Records))
	}
	if !result.DateUsed.Equal(testRef) {
		t.Errorf("date used = %v, want the preferred date", result.DateUsed)
	}
	if result.DateLabel != "Today" {
		t.Errorf("label = %q, want Today for an exhausted search from today", result.DateLabel)
	}
	if len(src.calls) != 8 {
		t.Errorf("source called %d times, want 8 (offsets 0..7)", len(src.calls))
	}
}

func TestRetrieveExhaustedHistoricDateLabel(t *testing.T) {
	src := &fakeSource{}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, testRef.AddDate(0, 0, -10))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if result.DateLabel != "Selected date" {
		t.Errorf("label = %q, want Selected date", result.DateLabel)
	}
}

func TestRetrieveLocationFilter(t *testing.T) {
	nashik := puneRecord("1500")
	nashik.District = "Nashik"
	nashik.Market = "Nashik Market"

	src := &fakeSource{records: map[string][]market.PriceRecord{
		"28/08/2026": {puneRecord("1200"), nashik},
	}}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", []string{"Nashik"}, testRef)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0].District != "Nashik" {
		t.Errorf("filtered records = %+v, want only Nashik", result.Records)
	}
}

func TestRetrieveLocationOnlyDayDoesNotStopSearch(t *testing.T) {
	// The preferred date has records, but none in the requested
	// location; the search must continue to the day that has one.
	src := &fakeSource{records: map[string][]market.PriceRecord{
		"28/08/2026": {puneRecord("1200")},
		"27/08/2026": func() []market.PriceRecord {
			r := puneRecord("1100")
			r.District = "Nashik"
			return []market.PriceRecord{r}
		}(),
	}}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", []string{"Nashik"}, testRef)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(result.Records))
	}
	if result.DateLabel != "Yesterday" {
		t.Errorf("label = %q, want Yesterday", result.DateLabel)
	}
}

func TestRetrieveAbsorbsFailuresByDefault(t *testing.T) {
	src := &fakeSource{
		errs: map[string]error{
			"28/08/2026": errors.New("upstream 500"),
			"27/08/2026": errors.New("upstream 500"),
		},
		records: map[string][]market.PriceRecord{
			"26/08/2026": {puneRecord("950")},
		},
	}
	e := NewEngine(src, nil, WithClock(testClock))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, testRef)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Records) != 1 {
		t.Errorf("got %d records, want 1 despite two failed days", len(result.Records))
	}
	if result.DateLabel != "26 Aug 2026" {
		t.Errorf("label = %q, want 26 Aug 2026", result.DateLabel)
	}
}

func TestRetrieveStopAfterFailuresAborts(t *testing.T) {
	src := &fakeSource{
		errs: map[string]error{
			"28/08/2026": errors.New("upstream 500"),
			"27/08/2026": errors.New("upstream 500"),
		},
		records: map[string][]market.PriceRecord{
			"26/08/2026": {puneRecord("950")},
		},
	}
	e := NewEngine(src, nil, WithClock(testClock), WithStopAfterFailures(2))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, testRef)
	if err == nil {
		t.Fatal("expected abort error after 2 failures")
	}
	if len(result.Records) != 0 {
		t.Errorf("got %d records on abort, want 0", len(result.Records))
	}
	if len(src.calls) != 2 {
		t.Errorf("source called %d times, want 2 before aborting", len(src.calls))
	}
}

func TestRetrieveCustomWindow(t *testing.T) {
	src := &fakeSource{records: map[string][]market.PriceRecord{
		"25/08/2026": {puneRecord("900")},
	}}
	e := NewEngine(src, nil, WithClock(testClock), WithMaxDaysBack(2))

	result, err := e.Retrieve(context.Background(), "Tomato", nil, testRef)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(result.Records) != 0 {
		t.Errorf("got records outside the 2-day window: %+v", result.Records)
	}
	if len(src.calls) != 3 {
		t.Errorf("source called %d times, want 3 (offsets 0..2)", len(src.calls))
	}
}

func TestFilterByLocationMatchesAnyField(t *testing.T) {
	rec := market.PriceRecord{State: "Maharashtra", District: "Pune", Market: "Moshi"}

	for _, loc := range []string{"maharashtra", "PUNE", "moshi"} {
		if got := filterByLocation([]market.PriceRecord{rec}, []string{loc}); len(got) != 1 {
			t.Errorf("filterByLocation(%q) dropped a matching record", loc)
		}
	}
	if got := filterByLocation([]market.PriceRecord{rec}, []string{"Nashik"}); len(got) != 0 {
		t.Error("filterByLocation kept a non-matching record")
	}
	if got := filterByLocation([]market.PriceRecord{rec}, nil); len(got) != 1 {
		t.Error("empty locations must pass records through")
	}
}
