// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchSendsExpectedQueryParams(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":[{"commodity":"Tomato","state":"Maharashtra","district":"Pune","market":"Pune","modal_price":"1200","arrival_date":"28/08/2026"}]}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{
		BaseURL:           srv.URL,
		APIKey:            "test-key",
		Timeout:           5 * time.Second,
		RequestsPerSecond: 100,
	}, nil)

	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	records, err := client.Fetch(context.Background(), "Tomato", date)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	wantParams := map[string]string{
		"api-key":               "test-key",
		"format":                "json",
		"limit":                 "500",
		"filters[commodity]":    "Tomato",
		"filters[arrival_date]": "28/08/2026",
	}
	for key, want := range wantParams {
		vals := gotQuery[key]
		if len(vals) != 1 || vals[0] != want {
			t.Errorf("param %q = %v, want %q", key, vals, want)
		}
	}

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	if r.Commodity != "Tomato" || r.State != "Maharashtra" || r.Market != "Pune" || r.ModalPrice != "1200" {
		t.Errorf("decoded record = %+v", r)
	}
}

func TestFetchBlankCommodityOmitsFilter(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 100}, nil)
	if _, err := client.Fetch(context.Background(), "", time.Now()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, present := gotQuery["filters[commodity]"]; present {
		t.Errorf("blank commodity should omit the commodity filter, got %v", gotQuery["filters[commodity]"])
	}
}

func TestFetchEmptyRecordsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 100}, nil)
	records, err := client.Fetch(context.Background(), "Tomato", time.Now())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestFetchNon200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "bad", RequestsPerSecond: 100}, nil)
	if _, err := client.Fetch(context.Background(), "Tomato", time.Now()); err == nil {
		t.Error("expected error for HTTP 403")
	}
}

func TestFetchMalformedBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 100}, nil)
	if _, err := client.Fetch(context.Background(), "Tomato", time.Now()); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestFetchTransportFailureIsAnError(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:0", APIKey: "k", RequestsPerSecond: 100}, nil)
	if _, err := client.Fetch(context.Background(), "Tomato", time.Now()); err == nil {
		t.Error("expected error for unreachable host")
	}
}

func TestFormatAPIDate(t *testing.T) {
	d := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := FormatAPIDate(d); got != "02/01/2026" {
		t.Errorf("FormatAPIDate = %q, want 02/01/2026", got)
	}
}
