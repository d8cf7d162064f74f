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

// Arbiter resolves open conflicts by fixed precedence:
//
//  1. authority rank: law beats regulation beats guidance and so on
//  2. extraction confidence, higher wins
//  3. effective-from recency, newer wins
//
// A pair still tied after all three stays OPEN for a human; arbitration
// never guesses.
type Arbiter struct {
	store  Store
	logger *logging.Logger
}

// NewArbiter creates an Arbiter.
func NewArbiter(store Store, logger *logging.Logger) *Arbiter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Arbiter{store: store, logger: logger}
}

// Verdict is the outcome of arbitrating one conflict.
type Verdict struct {
	ConflictID string
	Decided    bool
	WinnerID   string
	LoserID    string

	// Basis names the precedence level that decided: "authority",
	// "confidence" or "recency". Empty when undecided.
	Basis string
}

// Arbitrate decides one conflict and, when decided, marks it RESOLVED.
// The losing rule is left untouched: demoting or rejecting it is a
// lifecycle decision made by the caller, not a side effect of precedence.
func (a *Arbiter) Arbitrate(ctx context.Context, conflictID string) (Verdict, error) {
	c, err := a.store.GetConflict(ctx, conflictID)
	if err != nil {
		return Verdict{}, fmt.Errorf("arbitrate %s: %w", conflictID, err)
	}
	if c.Status != ConflictOpen {
		return Verdict{}, fmt.Errorf("arbitrate %s: conflict is %s, not OPEN", conflictID, c.Status)
	}

	ruleA, err := a.store.GetRule(ctx, c.ItemAID)
	if err != nil {
		return Verdict{}, fmt.Errorf("arbitrate %s: %w", conflictID, err)
	}
	ruleB, err := a.store.GetRule(ctx, c.ItemBID)
	if err != nil {
		return Verdict{}, fmt.Errorf("arbitrate %s: %w", conflictID, err)
	}

	winner, loser, basis := precedence(ruleA, ruleB)
	verdict := Verdict{ConflictID: c.ID, Basis: basis}
	if basis == "" {
		a.logger.WithTrace(ctx).Warn("conflict undecidable, left open",
			"conflict_id", c.ID,
			"rule_a", ruleA.ID,
			"rule_b", ruleB.ID,
		)
		return verdict, nil
	}

	if _, err := a.store.ResolveConflict(ctx, c.ID, winner.ID); err != nil {
		return Verdict{}, fmt.Errorf("arbitrate %s: resolve: %w", conflictID, err)
	}

	verdict.Decided = true
	verdict.WinnerID = winner.ID
	verdict.LoserID = loser.ID
	a.logger.WithTrace(ctx).Info("conflict arbitrated",
		"conflict_id", c.ID,
		"winner", winner.ID,
		"loser", loser.ID,
		"basis", basis,
	)
	return verdict, nil
}

// precedence orders two rules by the arbitration ladder. An empty basis
// means a full tie.
func precedence(a, b RegulatoryRule) (winner, loser RegulatoryRule, basis string) {
	if a.Authority.Rank() != b.Authority.Rank() {
		if a.Authority.Rank() < b.Authority.Rank() {
			return a, b, "authority"
		}
		return b, a, "authority"
	}
	if a.Confidence != b.Confidence {
		if a.Confidence > b.Confidence {
			return a, b, "confidence"
		}
		return b, a, "confidence"
	}
	switch {
	case a.EffectiveFrom == nil && b.EffectiveFrom == nil:
		return a, b, ""
	case a.EffectiveFrom == nil:
		return b, a, "recency"
	case b.EffectiveFrom == nil:
		return a, b, "recency"
	case a.EffectiveFrom.After(*b.EffectiveFrom):
		return a, b, "recency"
	case b.EffectiveFrom.After(*a.EffectiveFrom):
		return b, a, "recency"
	default:
		return a, b, ""
	}
}
