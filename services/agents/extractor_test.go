// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/services/evidence"
	"github.com/regulus-hq/regulus/services/rules"
	"github.com/regulus-hq/regulus/services/storage/badgerstore"
)

type agentFixture struct {
	evStore   *evidence.BadgerStore
	ruleStore *rules.BadgerStore
	hasher    *evidence.Hasher
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &agentFixture{
		evStore:   evidence.NewBadgerStore(db),
		ruleStore: rules.NewBadgerStore(db),
		hasher:    evidence.NewHasher(),
	}
}

func (fx *agentFixture) appendEvidence(t *testing.T, url, content string) evidence.Evidence {
	t.Helper()
	ev, _, err := fx.evStore.Append(context.Background(), evidence.Evidence{
		SourceID:    "src-1",
		URL:         url,
		ContentHash: fx.hasher.Hash(content, "text/html"),
		RawContent:  content,
		ContentType: "text/html",
		FetchedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return ev
}

func quiet() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

// lyingProvider claims a quote that is not in the evidence.
type lyingProvider struct{}

func (lyingProvider) Name() string { return "lying" }

func (lyingProvider) Extract(ctx context.Context, req ExtractRequest) ([]rules.CandidateFact, error) {
	return []rules.CandidateFact{
		{
			Value:         "19",
			SuggestedSlug: "pdv-standard-rate",
			ValueType:     "percentage",
			Confidence:    0.99,
			Quotes: []rules.Grounding{
				{EvidenceID: req.EvidenceID, ExactQuote: "Stopa PDV-a je 19%."},
			},
		},
	}, nil
}

func (lyingProvider) Compose(ctx context.Context, req ComposeRequest) (Draft, error) {
	return Draft{}, ErrEmptyResponse
}

func TestExtractEvidenceVerifiedFactsPersisted(t *testing.T) {
	fx := newAgentFixture(t)
	ctx := context.Background()

	ev := fx.appendEvidence(t, "https://porezna-uprava.hr/porezne-stope",
		"Opća stopa PDV-a je 25%. Snižena stopa PDV-a je 13%.")

	extractor := NewExtractor(NewStaticProvider(), fx.evStore, fx.ruleStore, evidence.NewValidator(), quiet())
	outcome, err := extractor.ExtractEvidence(ctx, ev.ID, "LAW")
	require.NoError(t, err)

	require.Len(t, outcome.FactIDs, 2)
	assert.Zero(t, outcome.DroppedFacts)
	require.NotEmpty(t, outcome.AgentRunID)

	fact, err := fx.ruleStore.GetFact(ctx, outcome.FactIDs[0])
	require.NoError(t, err)
	assert.Equal(t, outcome.AgentRunID, fact.AgentRunID)
	require.Len(t, fact.Quotes, 1)
	assert.Equal(t, ev.ID, fact.Quotes[0].EvidenceID)
	assert.Equal(t, evidence.MatchExact, fact.Quotes[0].MatchType, "verification result stamped on the grounding")

	run, err := fx.ruleStore.GetAgentRun(ctx, outcome.AgentRunID)
	require.NoError(t, err)
	assert.Equal(t, "extract", run.Kind)
	assert.NotNil(t, run.CompletedAt)
	assert.Empty(t, run.Error)

	pending, err := fx.evStore.PendingExtraction(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "extracted snapshot left the pending set")
}

func TestExtractEvidenceDropsUnverifiableQuotes(t *testing.T) {
	fx := newAgentFixture(t)
	ctx := context.Background()

	ev := fx.appendEvidence(t, "https://porezna-uprava.hr/porezne-stope",
		"Opća stopa PDV-a je 25%.")

	extractor := NewExtractor(lyingProvider{}, fx.evStore, fx.ruleStore, evidence.NewValidator(), quiet())
	outcome, err := extractor.ExtractEvidence(ctx, ev.ID, "LAW")
	require.NoError(t, err)

	assert.Empty(t, outcome.FactIDs, "a fact with no verifiable quote never persists")
	assert.Equal(t, 1, outcome.DroppedFacts)

	pending, err := fx.evStore.PendingExtraction(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "zero surviving facts still counts as extracted")
}

func TestExtractEvidenceMissingSnapshot(t *testing.T) {
	fx := newAgentFixture(t)

	extractor := NewExtractor(NewStaticProvider(), fx.evStore, fx.ruleStore, evidence.NewValidator(), quiet())
	_, err := extractor.ExtractEvidence(context.Background(), "no-such-id", "LAW")
	require.ErrorIs(t, err, evidence.ErrNotFound)
}
