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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	apiRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Subsystem: "market",
		Name:      "api_request_total",
		Help:      "Upstream API calls by outcome: ok, http_error, transport_error, decode_error",
	}, []string{"outcome"})

	apiRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mandi",
		Subsystem: "market",
		Name:      "api_request_latency_seconds",
		Help:      "Latency of upstream API calls",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	apiRecordsReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mandi",
		Subsystem: "market",
		Name:      "api_records_returned",
		Help:      "Records returned per upstream call",
		Buckets:   []float64{0, 1, 5, 10, 50, 100, 250, 500},
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var marketTracer = otel.Tracer("mandibot.market")

// =============================================================================
// Configuration
// =============================================================================

// defaultAPIKey is data.gov.in's published sample key. It is rate-limited
// upstream; production deployments set MANDI_API_KEY.
const defaultAPIKey = "579b464db66ec23bdd000001821e64e87e204b907bc5b548880a106d"

// defaultAPIURL is the daily mandi price resource on data.gov.in.
const defaultAPIURL = "https://api.data.gov.in/resource/9ef84268-d588-465a-a308-a864a43d0070"

// recordLimit caps records per call. 500 covers every market reporting a
// single commodity on a single day.
const recordLimit = 500

// ClientConfig holds the upstream API settings.
type ClientConfig struct {
	// BaseURL is the resource endpoint.
	BaseURL string

	// APIKey authenticates requests.
	APIKey string

	// Timeout bounds each HTTP call.
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls. The fallback loop can
	// issue up to eight calls per user turn; the public sample key
	// tolerates about 5 rps.
	RequestsPerSecond float64
}

// LoadClientConfig reads the client configuration from the environment,
// falling back to the public defaults.
//
// Environment:
//
//	MANDI_API_URL - Override the resource endpoint.
//	MANDI_API_KEY - Override the API key.
func LoadClientConfig() ClientConfig {
	cfg := ClientConfig{
		BaseURL:           defaultAPIURL,
		APIKey:            defaultAPIKey,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
	}
	if v := os.Getenv("MANDI_API_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("MANDI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	return cfg
}

// =============================================================================
// Client
// =============================================================================

// apiResponse is the upstream response envelope. Only the record list is
// consumed; the envelope's count/status fields are ignored.
type apiResponse struct {
	Records []PriceRecord `json:"records"`
}

// Client is the data.gov.in RecordSource.
//
// # Description
//
// One GET per (commodity, date) pair, server-side filtered. Outbound
// calls are throttled with a token-bucket limiter so the fallback loop's
// burst of consecutive-day probes stays inside the key's rate limit.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client from the configuration.
//
// Inputs:
//
//	cfg    - Client configuration; zero fields take the load defaults.
//	logger - Logger instance. Nil uses slog.Default().
//
// Outputs:
//
//	*Client - The constructed client. Never nil.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAPIURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = defaultAPIKey
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
	}
}

// Fetch implements RecordSource against data.gov.in.
//
// Inputs:
//
//	ctx       - Context; honored by the rate limiter and the HTTP call.
//	commodity - Display-form commodity name ("Tomato").
//	date      - The arrival date to filter on.
//
// Outputs:
//
//	[]PriceRecord - Records for the day; may be empty.
//	error         - Non-nil on transport failure, non-200 status, or an
//	                undecodable body.
func (c *Client) Fetch(ctx context.Context, commodity string, date time.Time) ([]PriceRecord, error) {
	ctx, span := marketTracer.Start(ctx, "market.Client.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("commodity", commodity),
		attribute.String("arrival_date", FormatAPIDate(date)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("market: rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("api-key", c.cfg.APIKey)
	params.Set("format", "json")
	params.Set("limit", fmt.Sprintf("%d", recordLimit))
	if commodity != "" {
		// Discovery mode leaves the commodity unfiltered; an empty filter
		// value would match nothing upstream.
		params.Set("filters[commodity]", commodity)
	}
	params.Set("filters[arrival_date]", FormatAPIDate(date))

	reqURL := c.cfg.BaseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("market: create request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	apiRequestLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		apiRequestTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("market: fetch %s on %s: %w", commodity, FormatAPIDate(date), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiRequestTotal.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("market: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiRequestTotal.WithLabelValues("http_error").Inc()
		return nil, fmt.Errorf("market: upstream returned %d for %s on %s",
			resp.StatusCode, commodity, FormatAPIDate(date))
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		apiRequestTotal.WithLabelValues("decode_error").Inc()
		return nil, fmt.Errorf("market: decode response: %w", err)
	}

	apiRequestTotal.WithLabelValues("ok").Inc()
	apiRecordsReturned.Observe(float64(len(decoded.Records)))
	span.SetAttributes(attribute.Int("record_count", len(decoded.Records)))

	c.logger.Debug("market: fetched records",
		slog.String("commodity", commodity),
		slog.String("arrival_date", FormatAPIDate(date)),
		slog.Int("record_count", len(decoded.Records)),
	)
	return decoded.Records, nil
}
