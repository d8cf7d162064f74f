// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/regulus-hq/regulus/services/storage/badgerstore"
)

// ErrNotFound indicates the requested source or item does not exist.
var ErrNotFound = errors.New("not found")

// Store persists monitored sources and discovered items. This is the
// monitoring side of the durable store; rule data lives behind a separate
// interface and the two are never unioned.
type Store interface {
	UpsertSource(ctx context.Context, src RegulatorySource) error
	GetSource(ctx context.Context, id string) (RegulatorySource, error)
	ListActiveSources(ctx context.Context) ([]RegulatorySource, error)

	// TouchSourceFetched records a successful fetch time. The only source
	// field the pipeline mutates.
	TouchSourceFetched(ctx context.Context, id string, at time.Time) error

	// SaveItem creates or updates a discovered item, assigning an id on
	// first save.
	SaveItem(ctx context.Context, item DiscoveredItem) (DiscoveredItem, error)
	GetItem(ctx context.Context, id string) (DiscoveredItem, error)
	ItemByURL(ctx context.Context, url string) (DiscoveredItem, error)

	// DueItems returns items with NextScanDue <= now, ordered
	// oldest-LastFetchedAt-first so starved items get attention first.
	DueItems(ctx context.Context, now time.Time) ([]DiscoveredItem, error)
}

const (
	keyPrefixSource  = "src:"
	keyPrefixItem    = "item:"
	keyPrefixItemURL = "itemurl:"
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

// UpsertSource writes a source record.
func (s *BadgerStore) UpsertSource(ctx context.Context, src RegulatorySource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if src.ID == "" {
		return errors.New("upsert source: id is required")
	}
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal source %s: %w", src.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefixSource+src.ID), data)
	})
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", src.ID, err)
	}
	return nil
}

// GetSource returns a source by id.
func (s *BadgerStore) GetSource(ctx context.Context, id string) (RegulatorySource, error) {
	var src RegulatorySource
	err := s.getJSON(ctx, keyPrefixSource+id, &src)
	if err != nil {
		return RegulatorySource{}, fmt.Errorf("source %s: %w", id, err)
	}
	return src, nil
}

// ListActiveSources returns all sources with Active set.
func (s *BadgerStore) ListActiveSources(ctx context.Context) ([]RegulatorySource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sources []RegulatorySource
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixSource)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var src RegulatorySource
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &src)
			})
			if err != nil {
				return err
			}
			if src.Active {
				sources = append(sources, src)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

// TouchSourceFetched updates LastFetchedAt on a source.
func (s *BadgerStore) TouchSourceFetched(ctx context.Context, id string, at time.Time) error {
	src, err := s.GetSource(ctx, id)
	if err != nil {
		return err
	}
	src.LastFetchedAt = &at
	return s.UpsertSource(ctx, src)
}

// SaveItem creates or updates a discovered item.
func (s *BadgerStore) SaveItem(ctx context.Context, item DiscoveredItem) (DiscoveredItem, error) {
	if err := ctx.Err(); err != nil {
		return DiscoveredItem{}, err
	}
	if item.URL == "" {
		return DiscoveredItem{}, errors.New("save item: url is required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	data, err := json.Marshal(item)
	if err != nil {
		return DiscoveredItem{}, fmt.Errorf("marshal item %s: %w", item.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(keyPrefixItem+item.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(keyPrefixItemURL+item.URL), []byte(item.ID))
	})
	if err != nil {
		return DiscoveredItem{}, fmt.Errorf("save item %s: %w", item.ID, err)
	}
	return item, nil
}

// GetItem returns an item by id.
func (s *BadgerStore) GetItem(ctx context.Context, id string) (DiscoveredItem, error) {
	var item DiscoveredItem
	err := s.getJSON(ctx, keyPrefixItem+id, &item)
	if err != nil {
		return DiscoveredItem{}, fmt.Errorf("item %s: %w", id, err)
	}
	return item, nil
}

// ItemByURL returns an item by its URL, for discovery dedup.
func (s *BadgerStore) ItemByURL(ctx context.Context, url string) (DiscoveredItem, error) {
	if err := ctx.Err(); err != nil {
		return DiscoveredItem{}, err
	}

	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixItemURL + url))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return DiscoveredItem{}, fmt.Errorf("item for url %s: %w", url, ErrNotFound)
	}
	if err != nil {
		return DiscoveredItem{}, fmt.Errorf("item for url %s: %w", url, err)
	}
	return s.GetItem(ctx, id)
}

// DueItems lists items due for scanning, oldest fetch first.
func (s *BadgerStore) DueItems(ctx context.Context, now time.Time) ([]DiscoveredItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var due []DiscoveredItem
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixItem)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var item DiscoveredItem
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			})
			if err != nil {
				return err
			}
			if !item.NextScanDue.After(now) {
				due = append(due, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list due items: %w", err)
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].LastFetchedAt, due[j].LastFetchedAt
		switch {
		case a == nil && b == nil:
			return due[i].ID < due[j].ID
		case a == nil:
			return true // never fetched sorts first
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return due, nil
}

func (s *BadgerStore) getJSON(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
