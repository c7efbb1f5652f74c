// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package market talks to the data.gov.in mandi price API: the upstream
// source for daily per-market commodity price records.
package market

import (
	"context"
	"time"
)

// PriceRecord is one market's price report for a commodity on a date.
// Field names and json tags follow the upstream API schema; all values
// arrive as strings, including the price.
type PriceRecord struct {
	// Commodity is the crop's display name ("Tomato").
	Commodity string `json:"commodity"`

	// State is the reporting market's state.
	State string `json:"state"`

	// District is the reporting market's district.
	District string `json:"district"`

	// Market is the mandi (market yard) name.
	Market string `json:"market"`

	// ModalPrice is the most-frequent traded price in ₹/quintal, as the
	// upstream string. May contain thousands separators or be blank.
	ModalPrice string `json:"modal_price"`

	// ArrivalDate is the report date in DD/MM/YYYY form.
	ArrivalDate string `json:"arrival_date"`
}

// RecordSource fetches price records for one commodity on one date.
//
// Implemented by Client against data.gov.in; tests substitute fakes.
type RecordSource interface {
	// Fetch returns the records for the commodity on the date. Zero
	// records with a nil error is a valid outcome (no market reported);
	// an error means the source itself failed and the caller decides
	// whether to press on or abort.
	Fetch(ctx context.Context, commodity string, date time.Time) ([]PriceRecord, error)
}

// APIDateFormat is the arrival-date wire format the upstream filters on.
const APIDateFormat = "02/01/2006"

// FormatAPIDate renders a date in the upstream DD/MM/YYYY form.
func FormatAPIDate(t time.Time) string {
	return t.Format(APIDateFormat)
}
