// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance with context-aware transaction
// helpers. It is service infrastructure for small warm caches (phrase
// embedding vectors), not a general data store.
package badger

import (
	"context"
	"fmt"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// Config configures the database location and mode.
type Config struct {
	// Path is the directory for the BadgerDB files. Ignored when
	// InMemory is set.
	Path string

	// InMemory runs the database without any files. Used in tests.
	InMemory bool
}

// DefaultConfig returns a Config that must have Path set before OpenDB.
func DefaultConfig() Config {
	return Config{}
}

// DB wraps an open BadgerDB handle.
//
// Thread Safety: Safe for concurrent use; BadgerDB transactions are
// per-goroutine.
type DB struct {
	db *dgbadger.DB
}

// OpenDB opens (creating if necessary) the database described by cfg.
//
// Outputs:
//
//	*DB   - The opened database. Nil on error.
//	error - Non-nil if the directory cannot be opened or is locked by
//	        another process.
func OpenDB(cfg Config) (*DB, error) {
	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: config path is empty")
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	// BadgerDB's internal logger is noisy at INFO; the callers log what
	// matters (open, close, hit, miss) through slog.
	opts = opts.WithLogger(nil)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}
	return &DB{db: db}, nil
}

// Close releases the database. Safe to call once.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	return nil
}

// WithTxn runs fn inside a read-write transaction, committing on nil
// return. The context is checked before starting; BadgerDB itself does
// not support mid-transaction cancellation.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}
