// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/services/storage/badgerstore"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDetectValueMismatchOverlappingWindows(t *testing.T) {
	store := newTestStore(t)
	detector := NewDetector(store, quietLogger())
	ctx := context.Background()

	existing, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug:   "pdv-standard-rate",
		Value:         "25",
		ValueType:     "percentage",
		Authority:     AuthorityLaw,
		EffectiveFrom: datePtr(2023, time.January, 1),
		// open-ended: no EffectiveUntil
	})
	require.NoError(t, err)

	incoming, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug:    "pdv-standard-rate",
		Value:          "21",
		ValueType:      "percentage",
		Authority:      AuthorityLaw,
		EffectiveFrom:  datePtr(2023, time.January, 1),
		EffectiveUntil: datePtr(2023, time.June, 30),
	})
	require.NoError(t, err)

	filed, err := detector.Detect(ctx, incoming)
	require.NoError(t, err)
	require.Len(t, filed, 1)
	assert.Equal(t, ConflictValueMismatch, filed[0].Type)
	assert.Equal(t, ConflictOpen, filed[0].Status)

	ids := []string{filed[0].ItemAID, filed[0].ItemBID}
	assert.Contains(t, ids, existing.ID)
	assert.Contains(t, ids, incoming.ID)
}

func TestDetectNoConflictWhenWindowsDisjoint(t *testing.T) {
	store := newTestStore(t)
	detector := NewDetector(store, quietLogger())
	ctx := context.Background()

	_, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug:    "pdv-standard-rate",
		Value:          "22",
		Authority:      AuthorityLaw,
		EffectiveUntil: datePtr(2022, time.December, 31),
	})
	require.NoError(t, err)

	incoming, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug:   "pdv-standard-rate",
		Value:         "25",
		Authority:     AuthorityLaw,
		EffectiveFrom: datePtr(2023, time.January, 1),
	})
	require.NoError(t, err)

	filed, err := detector.Detect(ctx, incoming)
	require.NoError(t, err)
	assert.Empty(t, filed, "sequential rate change is history, not a conflict")
}

func TestDetectNilWindowsOverlapEverything(t *testing.T) {
	store := newTestStore(t)
	detector := NewDetector(store, quietLogger())
	ctx := context.Background()

	_, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pausalni-limit",
		Value:       "40000",
		Authority:   AuthorityLaw,
	})
	require.NoError(t, err)

	incoming, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug:   "pausalni-limit",
		Value:         "60000",
		Authority:     AuthorityLaw,
		EffectiveFrom: datePtr(2025, time.January, 1),
	})
	require.NoError(t, err)

	filed, err := detector.Detect(ctx, incoming)
	require.NoError(t, err)
	require.Len(t, filed, 1)
	assert.Equal(t, ConflictValueMismatch, filed[0].Type)
}

func TestDetectValueMismatchAcrossSlugsCitingSameArticle(t *testing.T) {
	store := newTestStore(t)
	detector := NewDetector(store, quietLogger())
	ctx := context.Background()

	// Two extractions of the same provision landed under different slugs;
	// the shared article number is what ties them together.
	existing, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-standard-rate",
		Value:       "25",
		Authority:   AuthorityLaw,
		SourcePointers: []SourcePointer{
			{EvidenceID: "ev-1", ExactQuote: "Stopa PDV-a je 25%.", ArticleNumber: "38"},
		},
	})
	require.NoError(t, err)

	incoming, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-opca-stopa",
		Value:       "21",
		Authority:   AuthorityLaw,
		SourcePointers: []SourcePointer{
			{EvidenceID: "ev-2", ExactQuote: "Stopa PDV-a je 21%.", ArticleNumber: "38"},
		},
	})
	require.NoError(t, err)

	filed, err := detector.Detect(ctx, incoming)
	require.NoError(t, err)
	require.Len(t, filed, 1, "same article under different slugs still contradicts")
	assert.Equal(t, ConflictValueMismatch, filed[0].Type)
	assert.Contains(t, filed[0].Description, "article 38")

	ids := []string{filed[0].ItemAID, filed[0].ItemBID}
	assert.Contains(t, ids, existing.ID)
	assert.Contains(t, ids, incoming.ID)
}

func TestDetectDifferentSlugsWithoutSharedArticleStaySeparate(t *testing.T) {
	store := newTestStore(t)
	detector := NewDetector(store, quietLogger())
	ctx := context.Background()

	_, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-standard-rate",
		Value:       "25",
		Authority:   AuthorityLaw,
		SourcePointers: []SourcePointer{
			{EvidenceID: "ev-1", ExactQuote: "Stopa PDV-a je 25%.", ArticleNumber: "38"},
		},
	})
	require.NoError(t, err)

	incoming, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-reduced-rate",
		Value:       "13",
		Authority:   AuthorityLaw,
		SourcePointers: []SourcePointer{
			{EvidenceID: "ev-2", ExactQuote: "Snižena stopa PDV-a je 13%.", ArticleNumber: "38a"},
		},
	})
	require.NoError(t, err)

	filed, err := detector.Detect(ctx, incoming)
	require.NoError(t, err)
	assert.Empty(t, filed, "different concepts under different articles are unrelated")
}

func TestDetectAuthoritySupersede(t *testing.T) {
	store := newTestStore(t)
	detector := NewDetector(store, quietLogger())
	ctx := context.Background()

	lower, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-registration-threshold",
		Value:       "40000",
		Authority:   AuthorityGuidance,
	})
	require.NoError(t, err)

	higher, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-registration-threshold",
		Value:       "40000",
		Authority:   AuthorityLaw,
	})
	require.NoError(t, err)

	filed, err := detector.Detect(ctx, higher)
	require.NoError(t, err)
	require.Len(t, filed, 1)
	assert.Equal(t, ConflictAuthoritySupersede, filed[0].Type)
	assert.Equal(t, higher.ID, filed[0].ItemAID, "higher authority listed first")
	assert.Equal(t, lower.ID, filed[0].ItemBID)
}

func TestDetectIgnoresRejectedPeers(t *testing.T) {
	store := newTestStore(t)
	detector := NewDetector(store, quietLogger())
	ctx := context.Background()

	_, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-standard-rate",
		Value:       "23",
		Authority:   AuthorityLaw,
		Status:      StatusRejected,
	})
	require.NoError(t, err)

	incoming, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-standard-rate",
		Value:       "25",
		Authority:   AuthorityLaw,
	})
	require.NoError(t, err)

	filed, err := detector.Detect(ctx, incoming)
	require.NoError(t, err)
	assert.Empty(t, filed)
}

func TestDetectIsIdempotentPerPair(t *testing.T) {
	store := newTestStore(t)
	detector := NewDetector(store, quietLogger())
	ctx := context.Background()

	_, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-standard-rate", Value: "25", Authority: AuthorityLaw,
	})
	require.NoError(t, err)
	incoming, err := store.SaveRule(ctx, RegulatoryRule{
		ConceptSlug: "pdv-standard-rate", Value: "21", Authority: AuthorityLaw,
	})
	require.NoError(t, err)

	first, err := detector.Detect(ctx, incoming)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := detector.Detect(ctx, incoming)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "re-detection reuses the open conflict")

	open, err := store.OpenConflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
