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
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/mandibot/services/mandi/lexicon"
)

// fakeMatcher is a canned PhraseMatcher for semantic-tier tests.
type fakeMatcher struct {
	phrase     string
	similarity float64
	ok         bool
}

func (m *fakeMatcher) Best(_ context.Context, _ string) (string, float64, bool) {
	return m.phrase, m.similarity, m.ok
}

func testLexicon() *lexicon.Lexicon {
	return &lexicon.Lexicon{
		Commodities: []string{"Tomato", "Onion", "Potato", "Bitter gourd"},
		States: []lexicon.State{
			{Name: "Maharashtra", Districts: []string{"Pune", "Nashik", "Ahmednagar"}},
			{Name: "Gujarat", Districts: []string{"Surat", "Rajkot"}},
		},
	}
}

func TestExtractExactTierAllCommodities(t *testing.T) {
	lex, err := lexicon.Get(context.Background())
	if err != nil {
		t.Fatalf("lexicon load failed: %v", err)
	}
	x := NewExtractor(lex, nil, nil)

	for _, c := range lex.Commodities {
		text := strings.ToUpper(c) + " price today"
		got, _ := x.Extract(context.Background(), text)
		if got != lexicon.TitleCase(c) {
			t.Errorf("Extract(%q) commodity = %q, want %q", text, got, lexicon.TitleCase(c))
		}
	}
}

func TestExtractExactTierLexiconOrderTieBreak(t *testing.T) {
	x := NewExtractor(testLexicon(), nil, nil)

	// Both Tomato and Onion occur; Tomato is listed first and must win.
	got, _ := x.Extract(context.Background(), "onion and tomato rates")
	if got != "Tomato" {
		t.Errorf("commodity = %q, want Tomato (lexicon order tie-break)", got)
	}
}

func TestExtractFuzzyTier(t *testing.T) {
	x := NewExtractor(testLexicon(), nil, nil)

	// Misspelled, so the exact tier misses; weighted ratio against
	// "Tomato" clears the threshold.
	got, _ := x.Extract(context.Background(), "tomatto")
	if got != "Tomato" {
		t.Errorf("commodity = %q, want Tomato via fuzzy tier", got)
	}
}

func TestExtractSemanticTier(t *testing.T) {
	matcher := &fakeMatcher{phrase: "Onion price today", similarity: 75, ok: true}
	x := NewExtractor(testLexicon(), matcher, nil)

	got, _ := x.Extract(context.Background(), "how much do kanda cost")
	if got != "Onion" {
		t.Errorf("commodity = %q, want Onion via semantic tier", got)
	}
}

func TestExtractSemanticTierBelowThreshold(t *testing.T) {
	matcher := &fakeMatcher{phrase: "Onion price today", similarity: 59.9, ok: true}
	x := NewExtractor(testLexicon(), matcher, nil)

	got, _ := x.Extract(context.Background(), "xqzzv")
	if got != "" {
		t.Errorf("commodity = %q, want unresolved below semantic threshold", got)
	}
}

func TestExtractSemanticTierUnavailable(t *testing.T) {
	matcher := &fakeMatcher{ok: false}
	x := NewExtractor(testLexicon(), matcher, nil)

	got, _ := x.Extract(context.Background(), "xqzzv")
	if got != "" {
		t.Errorf("commodity = %q, want unresolved when matcher reports not-ok", got)
	}
}

func TestExtractNoCommodityWithNilMatcher(t *testing.T) {
	x := NewExtractor(testLexicon(), nil, nil)

	got, _ := x.Extract(context.Background(), "xqzzv")
	if got != "" {
		t.Errorf("commodity = %q, want unresolved", got)
	}
}

func TestExtractDistrictNeverIncludesParentState(t *testing.T) {
	lex := testLexicon()
	x := NewExtractor(lex, nil, nil)

	for _, st := range lex.States {
		for _, d := range st.Districts {
			_, locs := x.Extract(context.Background(), "rate in "+d)
			if len(locs) != 1 || locs[0] != lexicon.TitleCase(d) {
				t.Errorf("Extract(rate in %s) locations = %v, want [%s]", d, locs, lexicon.TitleCase(d))
			}
			for _, l := range locs {
				if l == st.Name {
					t.Errorf("district query %q also matched parent state %q", d, st.Name)
				}
			}
		}
	}
}

func TestExtractStateOnlyWhenNoDistrictMatches(t *testing.T) {
	x := NewExtractor(testLexicon(), nil, nil)

	_, locs := x.Extract(context.Background(), "crops in maharashtra")
	if !reflect.DeepEqual(locs, []string{"Maharashtra"}) {
		t.Errorf("locations = %v, want [Maharashtra]", locs)
	}

	// A district match suppresses the state tier even when the state is
	// also named.
	_, locs = x.Extract(context.Background(), "pune, maharashtra")
	if !reflect.DeepEqual(locs, []string{"Pune"}) {
		t.Errorf("locations = %v, want [Pune] only", locs)
	}
}

func TestExtractMultipleDistricts(t *testing.T) {
	x := NewExtractor(testLexicon(), nil, nil)

	_, locs := x.Extract(context.Background(), "compare pune and surat")
	if !reflect.DeepEqual(locs, []string{"Pune", "Surat"}) {
		t.Errorf("locations = %v, want [Pune Surat] in lexicon traversal order", locs)
	}
}

func TestExtractIdempotent(t *testing.T) {
	x := NewExtractor(testLexicon(), nil, nil)
	text := "tomato price in pune today"

	c1, l1 := x.Extract(context.Background(), text)
	c2, l2 := x.Extract(context.Background(), text)
	if c1 != c2 || !reflect.DeepEqual(l1, l2) {
		t.Errorf("extraction not idempotent: (%q, %v) vs (%q, %v)", c1, l1, c2, l2)
	}
}

func TestExtractEmptyText(t *testing.T) {
	x := NewExtractor(testLexicon(), nil, nil)

	c, locs := x.Extract(context.Background(), "")
	if c != "" || len(locs) != 0 {
		t.Errorf("Extract(\"\") = (%q, %v), want nothing", c, locs)
	}
}
