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
)

// fileConflict saves two rules and an open conflict between them.
func fileConflict(t *testing.T, store *BadgerStore, a, b RegulatoryRule) (RegulatoryRule, RegulatoryRule, RegulatoryConflict) {
	t.Helper()
	ctx := context.Background()

	savedA, err := store.SaveRule(ctx, a)
	require.NoError(t, err)
	savedB, err := store.SaveRule(ctx, b)
	require.NoError(t, err)

	c, err := store.SaveConflict(ctx, RegulatoryConflict{
		Type:    ConflictValueMismatch,
		ItemAID: savedA.ID,
		ItemBID: savedB.ID,
	})
	require.NoError(t, err)
	return savedA, savedB, c
}

func TestArbitrateAuthorityOutranksConfidence(t *testing.T) {
	store := newTestStore(t)
	arbiter := NewArbiter(store, quietLogger())

	// A shaky LAW extraction still beats a confident GUIDANCE one.
	law, _, c := fileConflict(t, store,
		RegulatoryRule{ConceptSlug: "pdv-standard-rate", Value: "25", Authority: AuthorityLaw, Confidence: 0.55},
		RegulatoryRule{ConceptSlug: "pdv-standard-rate", Value: "21", Authority: AuthorityGuidance, Confidence: 0.99},
	)

	verdict, err := arbiter.Arbitrate(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, verdict.Decided)
	assert.Equal(t, law.ID, verdict.WinnerID)
	assert.Equal(t, "authority", verdict.Basis)

	resolved, err := store.GetConflict(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, ConflictResolved, resolved.Status)
	assert.Equal(t, law.ID, resolved.WinnerRuleID)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestArbitrateConfidenceBreaksAuthorityTie(t *testing.T) {
	store := newTestStore(t)
	arbiter := NewArbiter(store, quietLogger())

	confident, _, c := fileConflict(t, store,
		RegulatoryRule{ConceptSlug: "pdv-standard-rate", Value: "25", Authority: AuthorityLaw, Confidence: 0.92},
		RegulatoryRule{ConceptSlug: "pdv-standard-rate", Value: "23", Authority: AuthorityLaw, Confidence: 0.61},
	)

	verdict, err := arbiter.Arbitrate(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, verdict.Decided)
	assert.Equal(t, confident.ID, verdict.WinnerID)
	assert.Equal(t, "confidence", verdict.Basis)
}

func TestArbitrateRecencyBreaksFullValueTie(t *testing.T) {
	store := newTestStore(t)
	arbiter := NewArbiter(store, quietLogger())

	older := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	_, recent, c := fileConflict(t, store,
		RegulatoryRule{ConceptSlug: "pdv-standard-rate", Value: "25", Authority: AuthorityLaw, Confidence: 0.9, EffectiveFrom: &older},
		RegulatoryRule{ConceptSlug: "pdv-standard-rate", Value: "21", Authority: AuthorityLaw, Confidence: 0.9, EffectiveFrom: &newer},
	)

	verdict, err := arbiter.Arbitrate(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, verdict.Decided)
	assert.Equal(t, recent.ID, verdict.WinnerID)
	assert.Equal(t, "recency", verdict.Basis)
}

func TestArbitrateFullTieStaysOpen(t *testing.T) {
	store := newTestStore(t)
	arbiter := NewArbiter(store, quietLogger())

	from := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	_, _, c := fileConflict(t, store,
		RegulatoryRule{ConceptSlug: "pdv-standard-rate", Value: "25", Authority: AuthorityLaw, Confidence: 0.9, EffectiveFrom: &from},
		RegulatoryRule{ConceptSlug: "pdv-standard-rate", Value: "21", Authority: AuthorityLaw, Confidence: 0.9, EffectiveFrom: &from},
	)

	verdict, err := arbiter.Arbitrate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, verdict.Decided, "a full tie is a human decision")
	assert.Empty(t, verdict.Basis)

	still, err := store.GetConflict(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, ConflictOpen, still.Status)
}

func TestArbitrateRejectsNonOpenConflict(t *testing.T) {
	store := newTestStore(t)
	arbiter := NewArbiter(store, quietLogger())

	winner, _, c := fileConflict(t, store,
		RegulatoryRule{ConceptSlug: "x", Value: "1", Authority: AuthorityLaw},
		RegulatoryRule{ConceptSlug: "x", Value: "2", Authority: AuthorityGuidance},
	)
	_, err := store.ResolveConflict(context.Background(), c.ID, winner.ID)
	require.NoError(t, err)

	_, err = arbiter.Arbitrate(context.Background(), c.ID)
	assert.Error(t, err)
}
