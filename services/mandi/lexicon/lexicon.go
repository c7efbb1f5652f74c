// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lexicon provides the static registries of known commodities and
// known locations (state → districts) used by the entity extractor.
//
// The lexicon is pure data with deterministic ordering: YAML sequence order
// is preserved on load and serves as the documented tie-break policy for
// the extractor's matching tiers. It is loaded once per process and is
// immutable afterwards.
package lexicon

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Lexicon
// =============================================================================

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

// =============================================================================
// OTel Tracer
// =============================================================================

var lexiconTracer = otel.Tracer("mandibot.lexicon")

// =============================================================================
// Lexicon Types
// =============================================================================

// State is one state and its districts, in lexicon order.
type State struct {
	// Name is the display form of the state name.
	Name string `yaml:"name"`

	// Districts lists the state's districts in lexicon order.
	Districts []string `yaml:"districts"`
}

// Lexicon holds the commodity and location registries.
//
// Description:
//
//	Commodities and states are kept as ordered slices, never maps: the
//	extractor's exact and fuzzy tiers resolve ties by first position, so
//	iteration order must be stable across calls and processes.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Lexicon struct {
	// Commodities lists canonical commodity names in lexicon order.
	Commodities []string `yaml:"commodities"`

	// States lists states and their districts in lexicon order.
	States []State `yaml:"states"`
}

// =============================================================================
// Singleton Loader
// =============================================================================

var (
	lexiconOnce sync.Once
	lexiconInst *Lexicon
	lexiconErr  error
)

// Get returns the process-wide lexicon, loading and validating the embedded
// YAML on first call.
//
// Description:
//
//	Subsequent calls return the cached instance (or the cached load error).
//	The returned lexicon must be treated as read-only.
//
// Inputs:
//
//	ctx - Context for the load span. Must not be nil.
//
// Outputs:
//
//	*Lexicon - The loaded lexicon. Nil only when error is non-nil.
//	error    - Non-nil if the embedded YAML is malformed or violates an
//	           invariant (empty registry, duplicate district).
//
// Thread Safety: Safe for concurrent use.
func Get(ctx context.Context) (*Lexicon, error) {
	lexiconOnce.Do(func() {
		_, span := lexiconTracer.Start(ctx, "lexicon.Load")
		defer span.End()

		lexiconInst, lexiconErr = parse(defaultLexiconYAML)
		if lexiconErr != nil {
			span.RecordError(lexiconErr)
			return
		}
		span.SetAttributes(
			attribute.Int("commodities", len(lexiconInst.Commodities)),
			attribute.Int("states", len(lexiconInst.States)),
		)
	})
	return lexiconInst, lexiconErr
}

// parse decodes and validates lexicon YAML.
func parse(raw []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(raw, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon yaml: %w", err)
	}
	if err := lex.validate(); err != nil {
		return nil, fmt.Errorf("validate lexicon: %w", err)
	}
	return &lex, nil
}

// validate enforces the lexicon invariants.
//
// Invariants:
//
//   - At least one commodity and one state.
//   - No blank names.
//   - Every district belongs to exactly one state (names unique across
//     the whole location registry, case-insensitively).
func (l *Lexicon) validate() error {
	if len(l.Commodities) == 0 {
		return fmt.Errorf("no commodities defined")
	}
	if len(l.States) == 0 {
		return fmt.Errorf("no states defined")
	}
	for i, c := range l.Commodities {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("commodity %d is blank", i)
		}
	}

	seen := make(map[string]string) // lower district → owning state
	for _, st := range l.States {
		if strings.TrimSpace(st.Name) == "" {
			return fmt.Errorf("state with blank name")
		}
		if len(st.Districts) == 0 {
			return fmt.Errorf("state %q has no districts", st.Name)
		}
		for _, d := range st.Districts {
			if strings.TrimSpace(d) == "" {
				return fmt.Errorf("state %q has a blank district", st.Name)
			}
			key := strings.ToLower(d)
			if owner, dup := seen[key]; dup {
				return fmt.Errorf("district %q appears in both %q and %q", d, owner, st.Name)
			}
			seen[key] = st.Name
		}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// TitleCase upper-cases the first letter of every space-separated word and
// lower-cases the rest, mirroring the display form used throughout the
// price pipeline ("bitter gourd" → "Bitter Gourd").
//
// All lexicon tokens and record-source names are plain ASCII; no
// language-sensitive casing is applied.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
