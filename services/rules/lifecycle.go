// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/services/evidence"
)

// ErrIllegalTransition indicates the requested status move is not in the
// state machine.
var ErrIllegalTransition = errors.New("illegal status transition")

// ErrGateFailed indicates the provenance gate rejected promotion to
// APPROVED or PUBLISHED.
var ErrGateFailed = errors.New("provenance gate failed")

// allowedTransitions is the rule status state machine. Forward moves may
// skip intermediate review states; REJECTED is terminal.
var allowedTransitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusPendingReview: true,
		StatusApproved:      true,
		StatusPublished:     true,
		StatusRejected:      true,
		StatusConflict:      true,
	},
	StatusPendingReview: {
		StatusApproved:  true,
		StatusPublished: true,
		StatusRejected:  true,
		StatusConflict:  true,
	},
	StatusApproved: {
		StatusPublished: true,
		StatusRejected:  true,
		StatusConflict:  true,
	},
	StatusPublished: {
		StatusRejected: true,
	},
	StatusConflict: {
		StatusPendingReview: true,
		StatusRejected:      true,
	},
	StatusRejected: {},
}

// Lifecycle applies guarded status transitions to rules.
//
// # Description
//
// Every status change goes through Transition, which enforces the state
// machine and, for promotion to APPROVED or PUBLISHED, re-runs the
// provenance gate: each source pointer must resolve to a stored evidence
// snapshot and its exact quote must still verify against that snapshot's
// content. When a newer snapshot exists for the same URL the quote must
// also survive in it, otherwise the rule is promoting on stale ground.
//
// A failed gate leaves the rule in its current status with the reason
// recorded; nothing is deleted and the operator decides whether to
// re-extract.
//
// # Thread Safety
//
// Transitions on the same rule are serialized by a per-rule mutex, so two
// concurrent promotions cannot interleave the read-gate-write sequence.
type Lifecycle struct {
	store     Store
	evidence  evidence.Store
	validator *evidence.Validator
	logger    *logging.Logger

	locks sync.Map // rule id -> *sync.Mutex
}

// NewLifecycle creates a Lifecycle manager.
func NewLifecycle(store Store, evStore evidence.Store, validator *evidence.Validator, logger *logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Default()
	}
	return &Lifecycle{
		store:     store,
		evidence:  evStore,
		validator: validator,
		logger:    logger,
	}
}

func (l *Lifecycle) lockRule(id string) func() {
	mu, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Transition moves a rule to target status, enforcing the state machine
// and the provenance gate. The returned rule reflects the stored outcome;
// on a gate failure the error wraps ErrGateFailed and the stored rule
// keeps its prior status with StatusReason set.
func (l *Lifecycle) Transition(ctx context.Context, ruleID string, target Status, reason string) (RegulatoryRule, error) {
	unlock := l.lockRule(ruleID)
	defer unlock()

	rule, err := l.store.GetRule(ctx, ruleID)
	if err != nil {
		return RegulatoryRule{}, err
	}

	if rule.Status == target {
		return rule, nil
	}
	if !allowedTransitions[rule.Status][target] {
		return rule, fmt.Errorf("rule %s: %s -> %s: %w", ruleID, rule.Status, target, ErrIllegalTransition)
	}

	if target == StatusApproved || target == StatusPublished {
		if gateErr := l.runGate(ctx, &rule); gateErr != nil {
			rule.StatusReason = gateErr.Error()
			if _, saveErr := l.store.SaveRule(ctx, rule); saveErr != nil {
				return rule, fmt.Errorf("rule %s: record gate failure: %w", ruleID, saveErr)
			}
			l.logger.WithTrace(ctx).Warn("promotion blocked by provenance gate",
				"rule_id", ruleID,
				"target", target,
				"reason", gateErr.Error(),
			)
			return rule, fmt.Errorf("rule %s -> %s: %w", ruleID, target, gateErr)
		}
	}

	from := rule.Status
	rule.Status = target
	rule.StatusReason = reason
	saved, err := l.store.SaveRule(ctx, rule)
	if err != nil {
		return rule, fmt.Errorf("rule %s: save transition: %w", ruleID, err)
	}

	l.logger.WithTrace(ctx).Info("rule status changed",
		"rule_id", ruleID,
		"concept_slug", saved.ConceptSlug,
		"from", from,
		"to", target,
	)
	return saved, nil
}

// MarkConflict flags a rule as CONFLICT with a description of the clash.
func (l *Lifecycle) MarkConflict(ctx context.Context, ruleID, description string) (RegulatoryRule, error) {
	return l.Transition(ctx, ruleID, StatusConflict, description)
}

// runGate verifies every source pointer against stored evidence, updating
// the pointers' match types in place. Wraps ErrGateFailed on any miss.
func (l *Lifecycle) runGate(ctx context.Context, rule *RegulatoryRule) error {
	if len(rule.SourcePointers) == 0 {
		return fmt.Errorf("%w: rule has no source pointers", ErrGateFailed)
	}

	for i := range rule.SourcePointers {
		ptr := &rule.SourcePointers[i]

		ev, err := l.evidence.Get(ctx, ptr.EvidenceID)
		if err != nil {
			if errors.Is(err, evidence.ErrNotFound) {
				return fmt.Errorf("%w: pointer %s references missing evidence %s", ErrGateFailed, ptr.ID, ptr.EvidenceID)
			}
			return fmt.Errorf("gate: load evidence %s: %w", ptr.EvidenceID, err)
		}

		res := l.validator.VerifyQuote(ev.RawContent, ptr.ExactQuote)
		if !res.Found {
			return fmt.Errorf("%w: quote not found in evidence %s (pointer %s)", ErrGateFailed, ev.ID, ptr.ID)
		}
		ptr.MatchType = res.MatchType

		// Evidence for a URL can be superseded between composition and
		// publication; a quote gone from the latest snapshot means the
		// rule would publish on stale ground.
		latest, err := l.evidence.LatestByURL(ctx, ev.URL)
		if err != nil && !errors.Is(err, evidence.ErrNotFound) {
			return fmt.Errorf("gate: latest evidence for %s: %w", ev.URL, err)
		}
		if err == nil && latest.ID != ev.ID {
			if res := l.validator.VerifyQuote(latest.RawContent, ptr.ExactQuote); !res.Found {
				return fmt.Errorf("%w: quote superseded, absent from latest snapshot %s of %s", ErrGateFailed, latest.ID, ev.URL)
			}
		}
	}
	return nil
}

// PublishOutcome is the per-rule result of a publish batch.
type PublishOutcome struct {
	RuleID string
	OK     bool
	Status Status
	Reason string
}

// PublishRules promotes each rule to PUBLISHED independently. One failed
// gate never blocks the rest of the batch; each outcome carries its own
// status and reason.
func (l *Lifecycle) PublishRules(ctx context.Context, ruleIDs []string) []PublishOutcome {
	outcomes := make([]PublishOutcome, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rule, err := l.Transition(ctx, id, StatusPublished, "published")
		outcome := PublishOutcome{RuleID: id, Status: rule.Status}
		if err != nil {
			outcome.Reason = err.Error()
		} else {
			outcome.OK = true
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
