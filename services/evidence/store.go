// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/regulus-hq/regulus/services/storage/badgerstore"
)

// ErrNotFound indicates the requested evidence does not exist.
var ErrNotFound = errors.New("evidence not found")

// errAlreadyStored signals a lost dedup race inside an append transaction.
var errAlreadyStored = errors.New("evidence already stored")

// Store persists immutable evidence snapshots, keyed by content hash.
//
// Implementations must be insert-only for snapshot content: appending
// content that hashes to an existing snapshot returns the existing record
// rather than writing a duplicate.
type Store interface {
	// Append stores a snapshot. When a snapshot with the same content
	// hash already exists, the existing record is returned and created
	// is false.
	Append(ctx context.Context, ev Evidence) (stored Evidence, created bool, err error)

	// Get returns a snapshot by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Evidence, error)

	// GetByHash returns a snapshot by content hash, or ErrNotFound.
	GetByHash(ctx context.Context, contentHash string) (Evidence, error)

	// LatestByURL returns the most recently appended snapshot for a URL,
	// or ErrNotFound. Evidence for a URL can be superseded over time; the
	// publication gate verifies against this record.
	LatestByURL(ctx context.Context, url string) (Evidence, error)

	// PendingExtraction lists snapshot ids appended but not yet handed to
	// the extractor.
	PendingExtraction(ctx context.Context) ([]string, error)

	// MarkExtracted removes a snapshot from the pending-extraction set.
	// The snapshot itself is untouched.
	MarkExtracted(ctx context.Context, id string) error
}

// Badger key layout. Snapshot records are immutable; the url index points
// at the latest snapshot and the pending set is bookkeeping outside the
// records themselves.
const (
	keyPrefixEvidence = "ev:"
	keyPrefixHash     = "evhash:"
	keyPrefixURL      = "evurl:"
	keyPrefixPending  = "evpending:"
)

// BadgerStore is the badger-backed Store adapter.
type BadgerStore struct {
	db *badgerstore.DB
}

// NewBadgerStore creates a Store over an open database.
func NewBadgerStore(db *badgerstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

var _ Store = (*BadgerStore)(nil)

// Append stores a snapshot, deduplicating on content hash.
func (s *BadgerStore) Append(ctx context.Context, ev Evidence) (Evidence, bool, error) {
	if err := ctx.Err(); err != nil {
		return Evidence{}, false, err
	}
	if ev.ContentHash == "" {
		return Evidence{}, false, errors.New("append evidence: content hash is required")
	}

	// Fast path: content already snapshotted.
	existing, err := s.GetByHash(ctx, ev.ContentHash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Evidence{}, false, err
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.FetchedAt.IsZero() {
		ev.FetchedAt = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return Evidence{}, false, fmt.Errorf("marshal evidence %s: %w", ev.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		// Re-check inside the transaction; a concurrent append of the
		// same content must still yield a single snapshot.
		if _, err := txn.Get([]byte(keyPrefixHash + ev.ContentHash)); err == nil {
			return errAlreadyStored
		}
		if err := txn.Set([]byte(keyPrefixEvidence+ev.ID), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyPrefixHash+ev.ContentHash), []byte(ev.ID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyPrefixURL+ev.URL), []byte(ev.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(keyPrefixPending+ev.ID), []byte{1})
	})
	if errors.Is(err, errAlreadyStored) {
		existing, getErr := s.GetByHash(ctx, ev.ContentHash)
		if getErr != nil {
			return Evidence{}, false, fmt.Errorf("append evidence: lost race and lookup failed: %w", getErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return Evidence{}, false, fmt.Errorf("append evidence %s: %w", ev.ID, err)
	}
	return ev, true, nil
}

// Get returns a snapshot by id.
func (s *BadgerStore) Get(ctx context.Context, id string) (Evidence, error) {
	if err := ctx.Err(); err != nil {
		return Evidence{}, err
	}

	var ev Evidence
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixEvidence + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ev)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Evidence{}, fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Evidence{}, fmt.Errorf("get evidence %s: %w", id, err)
	}
	return ev, nil
}

// GetByHash returns a snapshot by content hash.
func (s *BadgerStore) GetByHash(ctx context.Context, contentHash string) (Evidence, error) {
	id, err := s.lookupIndex(ctx, keyPrefixHash+contentHash)
	if err != nil {
		return Evidence{}, err
	}
	return s.Get(ctx, id)
}

// LatestByURL returns the most recently appended snapshot for a URL.
func (s *BadgerStore) LatestByURL(ctx context.Context, url string) (Evidence, error) {
	id, err := s.lookupIndex(ctx, keyPrefixURL+url)
	if err != nil {
		return Evidence{}, err
	}
	return s.Get(ctx, id)
}

// PendingExtraction lists snapshot ids awaiting extraction.
func (s *BadgerStore) PendingExtraction(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefixPending)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, key[len(keyPrefixPending):])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending extraction: %w", err)
	}
	return ids, nil
}

// MarkExtracted removes a snapshot from the pending set.
func (s *BadgerStore) MarkExtracted(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefixPending + id))
	})
	if err != nil {
		return fmt.Errorf("mark extracted %s: %w", id, err)
	}
	return nil
}

func (s *BadgerStore) lookupIndex(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}
	return id, nil
}
