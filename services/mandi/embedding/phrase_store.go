// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/mandibot/services/mandi/storage/badger"
)

// =============================================================================
// PhraseStore Interface
// =============================================================================

// PhraseStore persists warm-up embedding vectors between service restarts.
//
// The corpus hash keys the whole vector set: a lexicon or model change
// produces a new hash and the stale entry simply ages out via TTL.
type PhraseStore interface {
	// LoadVectors returns the persisted phrase→vector map for the corpus
	// hash, or an empty map on a cache miss. Error means the store itself
	// failed, not that the entry is absent.
	LoadVectors(ctx context.Context, corpusHash string) (map[string][]float32, error)

	// SaveVectors persists the phrase→vector map under the corpus hash.
	SaveVectors(ctx context.Context, corpusHash string, vectors map[string][]float32) error
}

// =============================================================================
// BadgerDB Implementation
// =============================================================================

// phraseKeyPrefix versions the on-disk layout. Bump on any encoding change
// so stale entries miss instead of failing to decode.
const phraseKeyPrefix = "phrases/emb/v1/"

// phraseEntryTTL bounds how long a persisted vector set lives. A week is
// long enough to cover restarts and short enough that orphaned corpus
// hashes do not accumulate.
const phraseEntryTTL = 7 * 24 * time.Hour

// BadgerPhraseStore is the BadgerDB-backed PhraseStore.
//
// # Description
//
// One key per corpus hash; the value is the gob-encoded phrase→vector
// map. Entries carry a TTL so superseded corpora are garbage-collected
// by BadgerDB without an explicit sweep.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions are per-call.
type BadgerPhraseStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerPhraseStore creates a store over an open database.
//
// Inputs:
//
//	db     - Open BadgerDB wrapper. Must not be nil.
//	logger - Logger instance. Nil uses slog.Default().
func NewBadgerPhraseStore(db *badger.DB, logger *slog.Logger) *BadgerPhraseStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerPhraseStore{db: db, logger: logger}
}

// LoadVectors implements PhraseStore.
func (s *BadgerPhraseStore) LoadVectors(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	key := []byte(phraseKeyPrefix + corpusHash)
	vectors := make(map[string][]float32)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if err == dgbadger.ErrKeyNotFound {
			return nil // cache miss, not an error
		}
		if err != nil {
			return fmt.Errorf("get phrase vectors: %w", err)
		}
		return item.Value(func(val []byte) error {
			decoded, err := gobDecodeVectors(val)
			if err != nil {
				// Undecodable entry (layout drift): treat as a miss and
				// let the TTL reap it.
				s.logger.Warn("phrase store: dropping undecodable entry",
					slog.String("corpus_hash", shortHash(corpusHash)),
					slog.String("error", err.Error()),
				)
				return nil
			}
			vectors = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if len(vectors) > 0 {
		s.logger.Debug("phrase store: cache hit",
			slog.String("corpus_hash", shortHash(corpusHash)),
			slog.Int("phrase_count", len(vectors)),
		)
	}
	return vectors, nil
}

// SaveVectors implements PhraseStore.
func (s *BadgerPhraseStore) SaveVectors(ctx context.Context, corpusHash string, vectors map[string][]float32) error {
	encoded, err := gobEncodeVectors(vectors)
	if err != nil {
		return fmt.Errorf("encode phrase vectors: %w", err)
	}

	key := []byte(phraseKeyPrefix + corpusHash)
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, encoded).WithTTL(phraseEntryTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("persist phrase vectors: %w", err)
	}

	s.logger.Debug("phrase store: persisted vectors",
		slog.String("corpus_hash", shortHash(corpusHash)),
		slog.Int("phrase_count", len(vectors)),
		slog.Int("bytes", len(encoded)),
	)
	return nil
}

// =============================================================================
// Encoding Helpers
// =============================================================================

func gobEncodeVectors(vectors map[string][]float32) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectors); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecodeVectors(data []byte) (map[string][]float32, error) {
	var vectors map[string][]float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// computeCorpusHash derives a stable identity for a phrase corpus and the
// model that embedded it. Phrases are sorted first so the hash is
// insensitive to traversal order.
func computeCorpusHash(phrases []string, model string) string {
	sorted := append([]string(nil), phrases...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	for _, p := range sorted {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// shortHash truncates a hash for log lines.
func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
