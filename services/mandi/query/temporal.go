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
	"strings"
	"time"
)

// ResolveDate scans text for the relative date cues "yesterday" and
// "today" and converts them against the reference time.
//
// Description:
//
//	"yesterday" is checked before "today", case-insensitively, as plain
//	substrings. "what about yesterday and today" therefore resolves to
//	yesterday. When neither cue occurs, both outputs are zero — the
//	context resolver fills the gap from history or defaults.
//
// Inputs:
//
//	text - The raw user text.
//	ref  - The reference time ("now" for the current turn).
//
// Outputs:
//
//	time.Time - The resolved date. Zero when the text has no cue.
//	string    - "Yesterday", "Today", or "" when the text has no cue.
//
// Thread Safety: Stateless. Safe for concurrent use.
func ResolveDate(text string, ref time.Time) (time.Time, string) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "yesterday"):
		return ref.AddDate(0, 0, -1), "Yesterday"
	case strings.Contains(lower, "today"):
		return ref, "Today"
	default:
		return time.Time{}, ""
	}
}
