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

	"github.com/go-playground/validator/v10"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/services/rules"
)

// Composer folds verified candidate facts into draft rules.
//
// # Description
//
// The provider proposes the canonical value and effective window; the
// composer enforces structure. The draft is schema-validated, its source
// pointers are copied from the facts' verified groundings (never from the
// provider), and the stored rule always starts in DRAFT regardless of
// anything the provider says. When the source's authority level is known
// it overrides the provider's claim.
type Composer struct {
	provider Provider
	store    rules.Store
	validate *validator.Validate
	logger   *logging.Logger

	now func() time.Time
}

// NewComposer creates a Composer.
func NewComposer(provider Provider, store rules.Store, logger *logging.Logger) *Composer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Composer{
		provider: provider,
		store:    store,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// ComposeConcept builds one draft rule out of the given facts.
func (c *Composer) ComposeConcept(ctx context.Context, conceptSlug string, factIDs []string, sourceAuthority rules.AuthorityLevel) (rules.RegulatoryRule, error) {
	if len(factIDs) == 0 {
		return rules.RegulatoryRule{}, fmt.Errorf("compose %s: no facts given", conceptSlug)
	}

	facts := make([]rules.CandidateFact, 0, len(factIDs))
	runIDs := make(map[string]bool)
	for _, id := range factIDs {
		fact, err := c.store.GetFact(ctx, id)
		if err != nil {
			return rules.RegulatoryRule{}, fmt.Errorf("compose %s: %w", conceptSlug, err)
		}
		facts = append(facts, fact)
		if fact.AgentRunID != "" {
			runIDs[fact.AgentRunID] = true
		}
	}

	run, err := c.store.SaveAgentRun(ctx, rules.AgentRun{
		Kind:      "compose",
		Model:     c.provider.Name(),
		StartedAt: c.now().UTC(),
	})
	if err != nil {
		return rules.RegulatoryRule{}, fmt.Errorf("compose %s: open agent run: %w", conceptSlug, err)
	}

	draft, err := c.provider.Compose(ctx, ComposeRequest{ConceptSlug: conceptSlug, Facts: facts})
	if err != nil {
		c.closeRun(ctx, run, "", err)
		return rules.RegulatoryRule{}, fmt.Errorf("compose %s: %w", conceptSlug, err)
	}
	draft.ConceptSlug = conceptSlug
	if sourceAuthority != "" {
		draft.AuthorityLevel = string(sourceAuthority)
	}

	if err := c.validate.Struct(draft); err != nil {
		c.closeRun(ctx, run, "", err)
		return rules.RegulatoryRule{}, fmt.Errorf("compose %s: draft rejected: %w", conceptSlug, err)
	}

	from, err := parseDate(draft.EffectiveFrom)
	if err != nil {
		c.closeRun(ctx, run, "", err)
		return rules.RegulatoryRule{}, fmt.Errorf("compose %s: effectiveFrom: %w", conceptSlug, err)
	}
	until, err := parseDate(draft.EffectiveUntil)
	if err != nil {
		c.closeRun(ctx, run, "", err)
		return rules.RegulatoryRule{}, fmt.Errorf("compose %s: effectiveUntil: %w", conceptSlug, err)
	}

	rule := rules.RegulatoryRule{
		ConceptSlug:            conceptSlug,
		Value:                  draft.Value,
		ValueType:              draft.ValueType,
		Authority:              rules.AuthorityLevel(draft.AuthorityLevel),
		EffectiveFrom:          from,
		EffectiveUntil:         until,
		Status:                 rules.StatusDraft,
		Confidence:             draft.Confidence,
		OriginatingAgentRunIDs: append(keys(runIDs), run.ID),
	}
	for _, fact := range facts {
		rule.OriginatingCandidateFactIDs = append(rule.OriginatingCandidateFactIDs, fact.ID)
		for _, q := range fact.Quotes {
			rule.SourcePointers = append(rule.SourcePointers, rules.SourcePointer{
				EvidenceID:    q.EvidenceID,
				ExactQuote:    q.ExactQuote,
				ArticleNumber: q.ArticleNumber,
				LawReference:  q.LawReference,
				MatchType:     q.MatchType,
			})
		}
	}

	saved, err := c.store.SaveRule(ctx, rule)
	if err != nil {
		c.closeRun(ctx, run, "", err)
		return rules.RegulatoryRule{}, fmt.Errorf("compose %s: save draft: %w", conceptSlug, err)
	}

	c.closeRun(ctx, run, "rule="+saved.ID, nil)
	c.logger.WithTrace(ctx).Info("draft rule composed",
		"rule_id", saved.ID,
		"concept_slug", conceptSlug,
		"facts", len(facts),
		"pointers", len(saved.SourcePointers),
	)
	return saved, nil
}

func (c *Composer) closeRun(ctx context.Context, run rules.AgentRun, note string, cause error) {
	done := c.now().UTC()
	run.CompletedAt = &done
	run.OutputNote = note
	if cause != nil {
		run.Error = cause.Error()
	}
	if _, err := c.store.SaveAgentRun(ctx, run); err != nil {
		c.logger.Warn("agent run not finalized", "agent_run_id", run.ID, "error", err.Error())
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
