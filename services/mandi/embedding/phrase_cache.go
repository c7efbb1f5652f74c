// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding provides the semantic phrase matcher: an Ollama-backed
// embedding client with a startup-warmed cache of template-phrase vectors
// and cosine-similarity scoring against user queries.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	phraseWarmupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mandi",
		Subsystem: "embedding",
		Name:      "warmup_total",
		Help:      "Phrase warm-up outcomes: cached, embedded, failed",
	}, []string{"outcome"})

	phraseQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mandi",
		Subsystem: "embedding",
		Name:      "query_latency_seconds",
		Help:      "Latency of query embedding calls",
		Buckets:   []float64{0.05, 0.1, 0.5, 1.0, 2.0, 3.0},
	})
)

// =============================================================================
// Phrase Embedding Cache
// =============================================================================

// phraseWarmConcurrency is the number of parallel Ollama calls during
// warm-up. 10 concurrent requests saturates Ollama without overwhelming it.
const phraseWarmConcurrency = 10

// phraseQueryTimeout is the per-query embedding call timeout. Scoring is
// on the request hot path; 3 seconds is ample for a local Ollama call.
const phraseQueryTimeout = 3 * time.Second

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// PhraseScore pairs a template phrase with its similarity to a query.
type PhraseScore struct {
	// Phrase is the template phrase ("Onion price today").
	Phrase string

	// Similarity is cosine similarity scaled to 0-100.
	Similarity float64
}

// BuildPhrases renders the template phrase for every commodity, preserving
// lexicon order. The phrase form is fixed: "<commodity> price today".
func BuildPhrases(commodities []string) []string {
	phrases := make([]string, 0, len(commodities))
	for _, c := range commodities {
		phrases = append(phrases, c+" price today")
	}
	return phrases
}

// PhraseCache pre-computes and caches embedding vectors for every template
// phrase at service startup, then scores user queries against them by
// cosine similarity at request time.
//
// # Description
//
// Embedding-based matching is the extractor's last tier: "how much do
// tamatar cost" and "Tomato price today" produce nearby vectors even with
// no shared tokens. The cache calls Ollama's /api/embed endpoint in
// parallel during Warm(). If Ollama is unavailable, the cache degrades
// gracefully: scoring reports not-ok and the extractor falls back to
// exact + fuzzy matching only.
//
// Vectors are persisted through an optional PhraseStore (BadgerDB) between
// service restarts. The corpus hash (SHA256 of phrases + model name) is
// the cache key, giving automatic invalidation when the lexicon or the
// embedding model changes. A nil store means in-memory-only mode.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
type PhraseCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32 // phrase → unit-normalized embedding vector
	phrases []string             // lexicon order, for deterministic tie-breaks
	warmed  bool

	url    string // Ollama /api/embed endpoint URL
	model  string // embedding model name
	client *http.Client
	logger *slog.Logger
	store  PhraseStore // BadgerDB persistence; nil = in-memory-only
}

// NewPhraseCache creates an unwarmed phrase cache.
//
// # Description
//
// Reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL from the environment.
// Call Warm() with the template phrases before the cache can score.
//
// # Inputs
//
//   - logger: Logger for warnings and debug output. Nil uses slog.Default().
//   - store: Optional BadgerDB persistence store. Nil disables persistence.
//
// # Outputs
//
//   - *PhraseCache: Unwarmed cache. Never nil.
func NewPhraseCache(logger *slog.Logger, store PhraseStore) *PhraseCache {
	if logger == nil {
		logger = slog.Default()
	}

	url := os.Getenv("EMBEDDING_SERVICE_URL")
	if url == "" {
		url = "http://host.containers.internal:11434/api/embed"
	}

	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text-v2-moe"
	}

	return &PhraseCache{
		vectors: make(map[string][]float32),
		url:     url,
		model:   model,
		client: &http.Client{
			Timeout: 30 * time.Second, // warm-up can be slow; query timeout set per-call
		},
		logger: logger,
		store:  store,
	}
}

// Warm pre-computes and caches an embedding vector for every phrase.
//
// # Description
//
// Checks the PhraseStore first; on a corpus-hash hit the Ollama warm-up is
// skipped entirely. Otherwise embeds all phrases in parallel (bounded by
// phraseWarmConcurrency), stores unit-normalized vectors, and persists
// them. Individual phrase failures are logged and skipped; if every
// phrase fails, warmed stays false and scoring degrades gracefully.
//
// # Inputs
//
//   - ctx: Context for the warm-up HTTP calls.
//   - phrases: Template phrases in lexicon order. Empty slice is a no-op.
//
// # Outputs
//
//   - error: Non-nil only if the warm-up was aborted by context
//     cancellation. Endpoint unreachability surfaces as per-phrase
//     warnings, not an error.
//
// # Thread Safety
//
// Not safe to call concurrently. Call once at service startup.
func (c *PhraseCache) Warm(ctx context.Context, phrases []string) error {
	if len(phrases) == 0 {
		return nil
	}

	corpusHash := computeCorpusHash(phrases, c.model)
	if c.store != nil {
		cached, err := c.store.LoadVectors(ctx, corpusHash)
		if err != nil {
			c.logger.Warn("phrase cache: store load failed, continuing with Ollama warm-up",
				slog.String("error", err.Error()),
			)
		} else if len(cached) > 0 {
			c.mu.Lock()
			c.vectors = cached // already unit-normalized on save
			c.phrases = append([]string(nil), phrases...)
			c.warmed = true
			c.mu.Unlock()
			phraseWarmupTotal.WithLabelValues("cached").Add(float64(len(cached)))
			c.logger.Info("phrase cache: loaded from store (skipping Ollama warm-up)",
				slog.Int("phrase_count", len(cached)),
				slog.String("corpus_hash", shortHash(corpusHash)),
			)
			return nil
		}
	}

	c.logger.Info("phrase cache: starting Ollama warm-up",
		slog.Int("phrase_count", len(phrases)),
		slog.String("url", c.url),
		slog.String("model", c.model),
	)

	type result struct {
		phrase string
		vector []float32
	}

	resultCh := make(chan result, len(phrases))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, phraseWarmConcurrency)

	for _, phrase := range phrases {
		p := phrase
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			vec, err := c.embed(gctx, p)
			if err != nil {
				c.logger.Warn("phrase cache: failed to embed phrase",
					slog.String("phrase", p),
					slog.String("error", err.Error()),
				)
				phraseWarmupTotal.WithLabelValues("failed").Inc()
				// Individual failure is not fatal.
				return nil
			}
			resultCh <- result{phrase: p, vector: vec}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("phrase cache warm-up: %w", err)
	}
	close(resultCh)

	c.mu.Lock()
	for r := range resultCh {
		if unit := unitNormalize(r.vector); unit != nil {
			c.vectors[r.phrase] = unit
			phraseWarmupTotal.WithLabelValues("embedded").Inc()
		}
	}
	c.phrases = append([]string(nil), phrases...)
	c.warmed = len(c.vectors) > 0

	embeddedCount := len(c.vectors)
	var toSave map[string][]float32
	if c.warmed && c.store != nil {
		toSave = make(map[string][]float32, len(c.vectors))
		for k, v := range c.vectors {
			toSave[k] = v
		}
	}
	c.mu.Unlock()

	c.logger.Info("phrase cache: warm-up complete",
		slog.Int("embedded_phrases", embeddedCount),
		slog.Int("requested_phrases", len(phrases)),
	)

	// Persist after releasing the lock. Persistence failure is non-fatal:
	// vectors are already in RAM.
	if toSave != nil {
		if err := c.store.SaveVectors(ctx, corpusHash, toSave); err != nil {
			c.logger.Warn("phrase cache: failed to persist vectors",
				slog.String("error", err.Error()),
				slog.String("corpus_hash", shortHash(corpusHash)),
			)
		}
	}

	return nil
}

// Best returns the single highest-similarity phrase for the query.
//
// # Description
//
// Implements query.PhraseMatcher. ok is false when the cache is unwarmed
// or the query embedding fails — the caller treats that as "semantic tier
// unavailable", not as an error. Ties resolve to the phrase listed first
// in lexicon order.
//
// # Outputs
//
//   - string:  The winning phrase. "" when ok is false.
//   - float64: Cosine similarity scaled to 0-100.
//   - bool:    False when no score could be produced.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
func (c *PhraseCache) Best(ctx context.Context, query string) (string, float64, bool) {
	scores, ok := c.scores(ctx, query)
	if !ok || len(scores) == 0 {
		return "", 0, false
	}
	return scores[0].Phrase, scores[0].Similarity, true
}

// TopK returns the k highest-similarity phrases for the query, best first.
//
// Used for nearest-neighbour suggestions when no commodity resolved; the
// acceptance threshold deliberately does not apply here — suggestions are
// shown even below it. Returns nil when the cache cannot score.
func (c *PhraseCache) TopK(ctx context.Context, query string, k int) []PhraseScore {
	scores, ok := c.scores(ctx, query)
	if !ok {
		return nil
	}
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k]
}

// IsWarmed reports whether the cache has been successfully warmed.
func (c *PhraseCache) IsWarmed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.warmed
}

// scores embeds the query once and returns all phrases sorted by
// descending similarity. The sort is stable over lexicon order, so equal
// similarities keep their lexicon tie-break.
func (c *PhraseCache) scores(ctx context.Context, query string) ([]PhraseScore, bool) {
	c.mu.RLock()
	warmed := c.warmed
	c.mu.RUnlock()
	if !warmed {
		return nil, false
	}

	embedCtx, cancel := context.WithTimeout(ctx, phraseQueryTimeout)
	defer cancel()

	start := time.Now()
	queryVec, err := c.embed(embedCtx, query)
	phraseQueryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("phrase cache: query embedding failed, semantic tier unavailable",
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	queryUnit := unitNormalize(queryVec)
	if queryUnit == nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	scores := make([]PhraseScore, 0, len(c.phrases))
	for _, phrase := range c.phrases {
		vec, cached := c.vectors[phrase]
		if !cached {
			continue
		}
		sim := float64(dotProduct(queryUnit, vec)) * 100 // unit vectors: dot = cosine
		scores = append(scores, PhraseScore{Phrase: phrase, Similarity: sim})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Similarity > scores[j].Similarity
	})
	return scores, true
}

// embed calls the Ollama /api/embed endpoint and returns the raw vector.
func (c *PhraseCache) embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedReq{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}

	var ollamaResp ollamaEmbedResp
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(ollamaResp.Embeddings) == 0 || len(ollamaResp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}
	return ollamaResp.Embeddings[0], nil
}

// =============================================================================
// Vector Helpers
// =============================================================================

// unitNormalize returns v scaled to unit length, or nil for a zero vector.
func unitNormalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil
	}
	unit := make([]float32, len(v))
	for i, x := range v {
		unit[i] = x / float32(norm)
	}
	return unit
}

// dotProduct computes the dot product of two float32 vectors.
// Mismatched lengths use the shorter.
func dotProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
