// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulus-hq/regulus/services/storage/badgerstore"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func sample(hash, url string) Evidence {
	return Evidence{
		SourceID:    "src-1",
		URL:         url,
		ContentHash: hash,
		RawContent:  "Stopa PDV-a je 25%.",
		ContentType: "text/html",
	}
}

func TestAppendAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stored, created, err := store.Append(ctx, sample("h1", "https://nn.hr/pdv"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.FetchedAt.IsZero())

	got, err := store.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ContentHash, got.ContentHash)
	assert.Equal(t, stored.RawContent, got.RawContent)
}

func TestAppendDeduplicatesOnHash(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, created, err := store.Append(ctx, sample("h1", "https://nn.hr/pdv"))
	require.NoError(t, err)
	require.True(t, created)

	// Same content hash: must return the original record untouched.
	dup := sample("h1", "https://nn.hr/pdv")
	dup.RawContent = "attempted rewrite"
	second, created, err := store.Append(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Stopa PDV-a je 25%.", second.RawContent)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetByHash(context.Background(), "nohash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestByURLTracksSupersession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.Append(ctx, sample("h1", "https://nn.hr/pdv"))
	require.NoError(t, err)

	updated := sample("h2", "https://nn.hr/pdv")
	updated.RawContent = "Stopa PDV-a je 23%."
	second, _, err := store.Append(ctx, updated)
	require.NoError(t, err)

	latest, err := store.LatestByURL(ctx, "https://nn.hr/pdv")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "Stopa PDV-a je 23%.", latest.RawContent)
}

func TestPendingExtractionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, _, err := store.Append(ctx, sample("h1", "https://nn.hr/a"))
	require.NoError(t, err)
	b, _, err := store.Append(ctx, sample("h2", "https://nn.hr/b"))
	require.NoError(t, err)

	pending, err := store.PendingExtraction(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, pending)

	require.NoError(t, store.MarkExtracted(ctx, a.ID))

	pending, err = store.PendingExtraction(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, pending)

	// The snapshot itself is untouched.
	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "h1", got.ContentHash)
}
