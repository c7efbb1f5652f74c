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
	"context"
	"reflect"
	"testing"

	"github.com/AleutianAI/mandibot/services/mandi/storage/badger"
)

func newTestStore(t *testing.T) *BadgerPhraseStore {
	t.Helper()
	db, err := badger.OpenDB(badger.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close badger: %v", err)
		}
	})
	return NewBadgerPhraseStore(db, nil)
}

func TestSaveAndLoadVectors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	vectors := map[string][]float32{
		"Tomato price today": {0.6, 0.8},
		"Onion price today":  {1, 0},
	}
	hash := computeCorpusHash([]string{"Tomato price today", "Onion price today"}, "test-model")

	if err := store.SaveVectors(ctx, hash, vectors); err != nil {
		t.Fatalf("SaveVectors failed: %v", err)
	}

	loaded, err := store.LoadVectors(ctx, hash)
	if err != nil {
		t.Fatalf("LoadVectors failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, vectors) {
		t.Errorf("loaded vectors %v, want %v", loaded, vectors)
	}
}

func TestLoadVectorsMissReturnsEmpty(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.LoadVectors(context.Background(), "no-such-corpus")
	if err != nil {
		t.Fatalf("LoadVectors miss errored: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty map on miss, got %v", loaded)
	}
}

func TestWarmLoadsFromStoreWithoutBackend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	phrases := []string{"Tomato price today", "Onion price today"}
	hash := computeCorpusHash(phrases, "test-model")
	vectors := map[string][]float32{
		"Tomato price today": {1, 0},
		"Onion price today":  {0, 1},
	}
	if err := store.SaveVectors(ctx, hash, vectors); err != nil {
		t.Fatalf("seed SaveVectors failed: %v", err)
	}

	// Point the cache at an unreachable backend: a store hit must make
	// the Ollama warm-up unnecessary.
	t.Setenv("EMBEDDING_SERVICE_URL", "http://127.0.0.1:0")
	t.Setenv("EMBEDDING_MODEL", "test-model")
	cache := NewPhraseCache(nil, store)

	if err := cache.Warm(ctx, phrases); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if !cache.IsWarmed() {
		t.Fatal("expected cache warmed from store")
	}
}

func TestComputeCorpusHash(t *testing.T) {
	a := computeCorpusHash([]string{"b", "a"}, "m")
	b := computeCorpusHash([]string{"a", "b"}, "m")
	if a != b {
		t.Error("corpus hash is order-sensitive; expected sorted-phrase stability")
	}

	c := computeCorpusHash([]string{"a", "b"}, "other-model")
	if a == c {
		t.Error("corpus hash ignores the model name")
	}

	d := computeCorpusHash([]string{"a"}, "m")
	if a == d {
		t.Error("corpus hash ignores the phrase set")
	}
}

func TestShortHash(t *testing.T) {
	if got := shortHash("abcdef"); got != "abcdef" {
		t.Errorf("shortHash(short) = %q, want unchanged", got)
	}
	if got := shortHash("0123456789abcdefgh"); got != "0123456789ab" {
		t.Errorf("shortHash(long) = %q, want first 12", got)
	}
}
