// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agents is the language-model boundary of the pipeline.
//
// Providers are opaque: callers hand over evidence text and receive typed
// candidate facts or draft rules. Prompt construction, model choice and
// response parsing stay behind the Provider interface, so the rest of the
// pipeline never sees a chat message.
//
// Nothing a provider returns is trusted. The extractor re-verifies every
// claimed quote against the evidence snapshot before a fact is persisted,
// and drafts composed from facts go through the rule lifecycle's
// provenance gate before they can publish.
package agents

import (
	"context"
	"errors"

	"github.com/regulus-hq/regulus/services/rules"
)

// ErrEmptyResponse indicates the model returned no usable output.
var ErrEmptyResponse = errors.New("provider returned empty response")

// ExtractRequest asks a provider to pull regulatory claims out of one
// evidence snapshot.
type ExtractRequest struct {
	// EvidenceID identifies the snapshot; stamped onto every returned
	// fact's groundings.
	EvidenceID string

	// Text is the snapshot's raw extractable text.
	Text string

	// SourceAuthority hints the legal weight of the source, e.g. "LAW".
	SourceAuthority string
}

// ComposeRequest asks a provider to fold verified facts for one concept
// into a single draft rule.
type ComposeRequest struct {
	ConceptSlug string
	Facts       []rules.CandidateFact
}

// Draft is a provider-composed rule before persistence. The composer maps
// it onto a rules.RegulatoryRule in DRAFT status; the provider has no say
// in lifecycle.
type Draft struct {
	ConceptSlug    string  `json:"conceptSlug" validate:"required"`
	Value          string  `json:"value" validate:"required"`
	ValueType      string  `json:"valueType"`
	AuthorityLevel string  `json:"authorityLevel" validate:"required,oneof=LAW REGULATION GUIDANCE PROCEDURE PRACTICE"`
	EffectiveFrom  string  `json:"effectiveFrom,omitempty"` // YYYY-MM-DD
	EffectiveUntil string  `json:"effectiveUntil,omitempty"`
	Confidence     float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// Provider is an extraction and composition backend.
type Provider interface {
	// Name identifies the backend for agent-run lineage ("openai", "static").
	Name() string

	// Extract returns candidate facts claimed to be grounded in the
	// request text. Quotes are unverified at this point.
	Extract(ctx context.Context, req ExtractRequest) ([]rules.CandidateFact, error)

	// Compose folds facts for one concept into a draft rule.
	Compose(ctx context.Context, req ComposeRequest) (Draft, error)
}
