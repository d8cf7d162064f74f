// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"context"
	"fmt"

	"github.com/regulus-hq/regulus/pkg/logging"
)

// Detector finds structural contradictions between a rule and the
// existing rules for the same concept or the same legal article.
//
// # Description
//
// Detection is purely structural: values, windows and authority ranks.
// No language model is consulted and no rule content is modified; the
// detector only files conflict records and flags the incoming rule.
//
// Rejected rules never participate: a rejection is a statement that the
// rule was wrong, so contradicting it is not a conflict.
type Detector struct {
	store  Store
	logger *logging.Logger
}

// NewDetector creates a Detector.
func NewDetector(store Store, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{store: store, logger: logger}
}

// Detect checks rule against every other non-rejected rule sharing its
// concept slug or citing the same legal article, and files one conflict
// record per contradicting pair. Article matching catches the case where
// two extractions named the same provision under different slugs.
// Re-running detection over an unchanged rule set files nothing new: open
// conflicts are deduplicated per unordered pair and type.
func (d *Detector) Detect(ctx context.Context, rule RegulatoryRule) ([]RegulatoryConflict, error) {
	log := d.logger.WithTrace(ctx)

	peers, err := d.store.RulesByConcept(ctx, rule.ConceptSlug)
	if err != nil {
		return nil, fmt.Errorf("detect conflicts for %s: %w", rule.ID, err)
	}
	seen := make(map[string]bool, len(peers))
	for _, p := range peers {
		seen[p.ID] = true
	}
	for _, article := range citedArticles(rule) {
		byArticle, err := d.store.RulesByArticle(ctx, article)
		if err != nil {
			return nil, fmt.Errorf("detect conflicts for %s: article %s: %w", rule.ID, article, err)
		}
		for _, p := range byArticle {
			if !seen[p.ID] {
				seen[p.ID] = true
				peers = append(peers, p)
			}
		}
	}

	var filed []RegulatoryConflict
	for _, peer := range peers {
		if peer.ID == rule.ID || peer.Status == StatusRejected {
			continue
		}

		if c, ok := valueMismatch(rule, peer); ok {
			saved, err := d.store.SaveConflict(ctx, c)
			if err != nil {
				return filed, fmt.Errorf("file conflict %s/%s: %w", rule.ID, peer.ID, err)
			}
			filed = append(filed, saved)
		}
		if c, ok := authoritySupersede(rule, peer); ok {
			saved, err := d.store.SaveConflict(ctx, c)
			if err != nil {
				return filed, fmt.Errorf("file conflict %s/%s: %w", rule.ID, peer.ID, err)
			}
			filed = append(filed, saved)
		}
	}

	if len(filed) > 0 {
		log.Warn("conflicts detected",
			"rule_id", rule.ID,
			"concept_slug", rule.ConceptSlug,
			"count", len(filed),
		)
	}
	return filed, nil
}

// valueMismatch files when two rules claim different values for the same
// concept, or the same legal article, over intersecting effective windows.
// An open-ended window (nil bound) intersects everything on that side.
func valueMismatch(a, b RegulatoryRule) (RegulatoryConflict, bool) {
	if a.Value == b.Value {
		return RegulatoryConflict{}, false
	}
	if !windowsOverlap(a.EffectiveFrom, a.EffectiveUntil, b.EffectiveFrom, b.EffectiveUntil) {
		return RegulatoryConflict{}, false
	}
	desc := fmt.Sprintf("concept %q: value %q contradicts %q over overlapping effective windows",
		a.ConceptSlug, a.Value, b.Value)
	if a.ConceptSlug != b.ConceptSlug {
		desc = fmt.Sprintf("article %s: value %q (%s) contradicts %q (%s) over overlapping effective windows",
			sharedArticle(a, b), a.Value, a.ConceptSlug, b.Value, b.ConceptSlug)
	}
	return RegulatoryConflict{
		Type:        ConflictValueMismatch,
		ItemAID:     a.ID,
		ItemBID:     b.ID,
		Description: desc,
		Status:      ConflictOpen,
	}, true
}

// citedArticles collects the distinct article numbers on a rule's pointers.
func citedArticles(r RegulatoryRule) []string {
	var articles []string
	seen := make(map[string]bool)
	for _, p := range r.SourcePointers {
		if p.ArticleNumber != "" && !seen[p.ArticleNumber] {
			seen[p.ArticleNumber] = true
			articles = append(articles, p.ArticleNumber)
		}
	}
	return articles
}

// sharedArticle returns the first article number cited by both rules.
func sharedArticle(a, b RegulatoryRule) string {
	cited := make(map[string]bool)
	for _, p := range a.SourcePointers {
		if p.ArticleNumber != "" {
			cited[p.ArticleNumber] = true
		}
	}
	for _, p := range b.SourcePointers {
		if cited[p.ArticleNumber] {
			return p.ArticleNumber
		}
	}
	return ""
}

// authoritySupersede files when a strictly higher-authority rule covers a
// concept already held by a lower-authority one, regardless of value. The
// lower rule may simply be an older restatement, so this surfaces for
// review rather than auto-rejecting.
func authoritySupersede(a, b RegulatoryRule) (RegulatoryConflict, bool) {
	if a.Authority.Rank() == b.Authority.Rank() {
		return RegulatoryConflict{}, false
	}
	if !windowsOverlap(a.EffectiveFrom, a.EffectiveUntil, b.EffectiveFrom, b.EffectiveUntil) {
		return RegulatoryConflict{}, false
	}
	higher, lower := a, b
	if b.Authority.Rank() < a.Authority.Rank() {
		higher, lower = b, a
	}
	return RegulatoryConflict{
		Type:    ConflictAuthoritySupersede,
		ItemAID: higher.ID,
		ItemBID: lower.ID,
		Description: fmt.Sprintf("concept %q: %s-level rule supersedes %s-level rule",
			higher.ConceptSlug, higher.Authority, lower.Authority),
		Status: ConflictOpen,
	}, true
}
