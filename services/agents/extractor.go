// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/services/evidence"
	"github.com/regulus-hq/regulus/services/rules"
)

// Extractor turns one evidence snapshot into verified candidate facts.
//
// # Description
//
// The provider's output is treated as claims, not truth: every quote is
// re-verified against the snapshot's raw content, failed quotes are
// dropped, and a fact with no surviving quote is discarded entirely. Only
// verified facts are persisted. Every invocation writes an AgentRun
// record whether it succeeds or not.
type Extractor struct {
	provider  Provider
	evidence  evidence.Store
	store     rules.Store
	validator *evidence.Validator
	logger    *logging.Logger

	now func() time.Time
}

// NewExtractor creates an Extractor.
func NewExtractor(provider Provider, evStore evidence.Store, store rules.Store, validator *evidence.Validator, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{
		provider:  provider,
		evidence:  evStore,
		store:     store,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// ExtractionOutcome summarizes one extraction pass.
type ExtractionOutcome struct {
	EvidenceID   string
	AgentRunID   string
	FactIDs      []string
	DroppedFacts int
}

// ExtractEvidence runs extraction over one snapshot and persists the
// verified facts. The snapshot is marked extracted even when zero facts
// survive; an empty result is an answer, not a failure.
func (e *Extractor) ExtractEvidence(ctx context.Context, evidenceID, sourceAuthority string) (ExtractionOutcome, error) {
	log := e.logger.WithTrace(ctx)

	ev, err := e.evidence.Get(ctx, evidenceID)
	if err != nil {
		return ExtractionOutcome{}, fmt.Errorf("extract evidence %s: %w", evidenceID, err)
	}

	run, err := e.store.SaveAgentRun(ctx, rules.AgentRun{
		Kind:        "extract",
		Model:       e.provider.Name(),
		EvidenceIDs: []string{ev.ID},
		InputDigest: ev.ContentHash,
		StartedAt:   e.now().UTC(),
	})
	if err != nil {
		return ExtractionOutcome{}, fmt.Errorf("extract evidence %s: open agent run: %w", evidenceID, err)
	}

	facts, err := e.provider.Extract(ctx, ExtractRequest{
		EvidenceID:      ev.ID,
		Text:            ev.RawContent,
		SourceAuthority: sourceAuthority,
	})
	if err != nil {
		e.closeRun(ctx, run, "", err)
		return ExtractionOutcome{AgentRunID: run.ID}, fmt.Errorf("extract evidence %s: %w", evidenceID, err)
	}

	outcome := ExtractionOutcome{EvidenceID: ev.ID, AgentRunID: run.ID}
	for _, fact := range facts {
		verified := fact.Quotes[:0:0]
		for _, q := range fact.Quotes {
			res := e.validator.VerifyQuote(ev.RawContent, q.ExactQuote)
			if !res.Found {
				log.Warn("quote failed verification, dropped",
					"evidence_id", ev.ID,
					"suggested_slug", fact.SuggestedSlug,
				)
				continue
			}
			q.MatchType = res.MatchType
			verified = append(verified, q)
		}
		if len(verified) == 0 {
			outcome.DroppedFacts++
			continue
		}
		fact.Quotes = verified
		fact.AgentRunID = run.ID

		saved, err := e.store.SaveFact(ctx, fact)
		if err != nil {
			e.closeRun(ctx, run, "", err)
			return outcome, fmt.Errorf("extract evidence %s: save fact: %w", evidenceID, err)
		}
		outcome.FactIDs = append(outcome.FactIDs, saved.ID)
	}

	if err := e.evidence.MarkExtracted(ctx, ev.ID); err != nil {
		e.closeRun(ctx, run, "", err)
		return outcome, fmt.Errorf("extract evidence %s: mark extracted: %w", evidenceID, err)
	}

	note := fmt.Sprintf("facts=%d dropped=%d", len(outcome.FactIDs), outcome.DroppedFacts)
	e.closeRun(ctx, run, note, nil)
	log.Info("evidence extracted",
		"evidence_id", ev.ID,
		"agent_run_id", run.ID,
		"facts", len(outcome.FactIDs),
		"dropped", outcome.DroppedFacts,
	)
	return outcome, nil
}

// closeRun stamps completion on an agent run. Lineage bookkeeping is
// best-effort; a write failure is logged, not propagated.
func (e *Extractor) closeRun(ctx context.Context, run rules.AgentRun, note string, cause error) {
	done := e.now().UTC()
	run.CompletedAt = &done
	run.OutputNote = note
	if cause != nil {
		run.Error = cause.Error()
	}
	if _, err := e.store.SaveAgentRun(ctx, run); err != nil {
		e.logger.Warn("agent run not finalized", "agent_run_id", run.ID, "error", err.Error())
	}
}
