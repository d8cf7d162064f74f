// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/regulus-hq/regulus/pkg/softfail"
	"github.com/regulus-hq/regulus/services/storage/badgerstore"
)

// ErrNotFound indicates the requested rule, fact, run or conflict does not
// exist.
var ErrNotFound = errors.New("not found")

// Store persists rules, candidate facts, conflicts, agent runs and soft
// failure records. This is the rule side of the durable store, separate
// from the monitoring-side interface; the two are never unioned.
type Store interface {
	// SaveRule creates or updates a rule, assigning an id and CreatedAt on
	// first save and refreshing UpdatedAt on every save.
	SaveRule(ctx context.Context, rule RegulatoryRule) (RegulatoryRule, error)
	GetRule(ctx context.Context, id string) (RegulatoryRule, error)
	ListRules(ctx context.Context) ([]RegulatoryRule, error)
	RulesByConcept(ctx context.Context, conceptSlug string) ([]RegulatoryRule, error)
	RulesByStatus(ctx context.Context, statuses ...Status) ([]RegulatoryRule, error)

	// RulesByEvidence returns rules carrying a source pointer into the
	// given evidence snapshot. Used for impact analysis when a snapshot is
	// superseded.
	RulesByEvidence(ctx context.Context, evidenceID string) ([]RegulatoryRule, error)

	// RulesByArticle returns rules citing the given legal article number in
	// any source pointer. Concept slugs are extractor vocabulary; the
	// article number is the legal identity, so conflict detection matches
	// on both.
	RulesByArticle(ctx context.Context, articleNumber string) ([]RegulatoryRule, error)

	// SaveConflict persists a conflict. For a given unordered rule pair and
	// conflict type, at most one OPEN conflict exists: re-detection of the
	// same pair returns the existing record instead of duplicating it.
	SaveConflict(ctx context.Context, c RegulatoryConflict) (RegulatoryConflict, error)
	GetConflict(ctx context.Context, id string) (RegulatoryConflict, error)
	OpenConflicts(ctx context.Context) ([]RegulatoryConflict, error)
	ResolveConflict(ctx context.Context, id, winnerRuleID string) (RegulatoryConflict, error)

	SaveFact(ctx context.Context, fact CandidateFact) (CandidateFact, error)
	GetFact(ctx context.Context, id string) (CandidateFact, error)

	SaveAgentRun(ctx context.Context, run AgentRun) (AgentRun, error)
	GetAgentRun(ctx context.Context, id string) (AgentRun, error)

	// RecordFailure satisfies softfail.FailureSink so pipeline soft
	// failures land next to the entities they concern.
	RecordFailure(ctx context.Context, rec softfail.FailureRecord) error
	ListFailures(ctx context.Context) ([]softfail.FailureRecord, error)
}

const (
	keyPrefixRule     = "rule:"
	keyPrefixConflict = "conf:"
	keyPrefixConfPair = "confpair:"
	keyPrefixFact     = "fact:"
	keyPrefixAgentRun = "arun:"
	keyPrefixFailure  = "fail:"
)

// BadgerStore is the badger-backed Store adapter.
type BadgerStore struct {
	db *badgerstore.DB

	// now is swappable for tests.
	now func() time.Time
}

// NewBadgerStore creates a Store over an open database.
func NewBadgerStore(db *badgerstore.DB) *BadgerStore {
	return &BadgerStore{db: db, now: time.Now}
}

var _ Store = (*BadgerStore)(nil)
var _ softfail.FailureSink = (*BadgerStore)(nil)

// SaveRule creates or updates a rule.
func (s *BadgerStore) SaveRule(ctx context.Context, rule RegulatoryRule) (RegulatoryRule, error) {
	if err := ctx.Err(); err != nil {
		return RegulatoryRule{}, err
	}
	if rule.ConceptSlug == "" {
		return RegulatoryRule{}, errors.New("save rule: concept slug is required")
	}
	now := s.now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
		rule.CreatedAt = now
	}
	if rule.Status == "" {
		rule.Status = StatusDraft
	}
	rule.UpdatedAt = now
	for i := range rule.SourcePointers {
		if rule.SourcePointers[i].ID == "" {
			rule.SourcePointers[i].ID = uuid.NewString()
		}
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return RegulatoryRule{}, fmt.Errorf("marshal rule %s: %w", rule.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefixRule+rule.ID), data)
	})
	if err != nil {
		return RegulatoryRule{}, fmt.Errorf("save rule %s: %w", rule.ID, err)
	}
	return rule, nil
}

// GetRule returns a rule by id.
func (s *BadgerStore) GetRule(ctx context.Context, id string) (RegulatoryRule, error) {
	var rule RegulatoryRule
	if err := s.getJSON(ctx, keyPrefixRule+id, &rule); err != nil {
		return RegulatoryRule{}, fmt.Errorf("rule %s: %w", id, err)
	}
	return rule, nil
}

// ListRules returns every stored rule, ordered by id.
func (s *BadgerStore) ListRules(ctx context.Context) ([]RegulatoryRule, error) {
	return s.scanRules(ctx, func(RegulatoryRule) bool { return true })
}

// RulesByConcept returns all rules for one concept slug.
func (s *BadgerStore) RulesByConcept(ctx context.Context, conceptSlug string) ([]RegulatoryRule, error) {
	return s.scanRules(ctx, func(r RegulatoryRule) bool { return r.ConceptSlug == conceptSlug })
}

// RulesByStatus returns rules in any of the given statuses.
func (s *BadgerStore) RulesByStatus(ctx context.Context, statuses ...Status) ([]RegulatoryRule, error) {
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return s.scanRules(ctx, func(r RegulatoryRule) bool { return want[r.Status] })
}

// RulesByEvidence returns rules with at least one pointer into the given
// evidence snapshot.
func (s *BadgerStore) RulesByEvidence(ctx context.Context, evidenceID string) ([]RegulatoryRule, error) {
	return s.scanRules(ctx, func(r RegulatoryRule) bool {
		for _, p := range r.SourcePointers {
			if p.EvidenceID == evidenceID {
				return true
			}
		}
		return false
	})
}

// RulesByArticle returns rules citing the given article number.
func (s *BadgerStore) RulesByArticle(ctx context.Context, articleNumber string) ([]RegulatoryRule, error) {
	return s.scanRules(ctx, func(r RegulatoryRule) bool {
		for _, p := range r.SourcePointers {
			if p.ArticleNumber == articleNumber {
				return true
			}
		}
		return false
	})
}

func (s *BadgerStore) scanRules(ctx context.Context, keep func(RegulatoryRule) bool) ([]RegulatoryRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rules []RegulatoryRule
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixRule)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rule RegulatoryRule
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rule)
			})
			if err != nil {
				return err
			}
			if keep(rule) {
				rules = append(rules, rule)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan rules: %w", err)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// pairKey builds the unordered-pair index key for open-conflict dedup.
func pairKey(conflictType ConflictType, a, b string) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return keyPrefixConfPair + string(conflictType) + ":" + lo + ":" + hi
}

// SaveConflict persists a conflict, deduplicating open conflicts per
// unordered rule pair and type.
func (s *BadgerStore) SaveConflict(ctx context.Context, c RegulatoryConflict) (RegulatoryConflict, error) {
	if err := ctx.Err(); err != nil {
		return RegulatoryConflict{}, err
	}
	if c.ItemAID == "" || c.ItemBID == "" {
		return RegulatoryConflict{}, errors.New("save conflict: both rule ids are required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = s.now().UTC()
	}
	if c.Status == "" {
		c.Status = ConflictOpen
	}

	pair := pairKey(c.Type, c.ItemAID, c.ItemBID)
	var existing *RegulatoryConflict

	err := s.db.Update(func(txn *badger.Txn) error {
		existing = nil
		if c.Status == ConflictOpen {
			item, err := txn.Get([]byte(pair))
			if err == nil {
				var existingID string
				if err := item.Value(func(val []byte) error {
					existingID = string(val)
					return nil
				}); err != nil {
					return err
				}
				if existingID != c.ID {
					found, err := txn.Get([]byte(keyPrefixConflict + existingID))
					if err == nil {
						var prior RegulatoryConflict
						if err := found.Value(func(val []byte) error {
							return json.Unmarshal(val, &prior)
						}); err != nil {
							return err
						}
						if prior.Status == ConflictOpen {
							existing = &prior
							return nil
						}
					} else if !errors.Is(err, badger.ErrKeyNotFound) {
						return err
					}
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(keyPrefixConflict+c.ID), data); err != nil {
			return err
		}
		if c.Status == ConflictOpen {
			return txn.Set([]byte(pair), []byte(c.ID))
		}
		return txn.Delete([]byte(pair))
	})
	if err != nil {
		return RegulatoryConflict{}, fmt.Errorf("save conflict %s/%s: %w", c.ItemAID, c.ItemBID, err)
	}
	if existing != nil {
		return *existing, nil
	}
	return c, nil
}

// GetConflict returns a conflict by id.
func (s *BadgerStore) GetConflict(ctx context.Context, id string) (RegulatoryConflict, error) {
	var c RegulatoryConflict
	if err := s.getJSON(ctx, keyPrefixConflict+id, &c); err != nil {
		return RegulatoryConflict{}, fmt.Errorf("conflict %s: %w", id, err)
	}
	return c, nil
}

// OpenConflicts returns all conflicts still awaiting resolution.
func (s *BadgerStore) OpenConflicts(ctx context.Context) ([]RegulatoryConflict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var open []RegulatoryConflict
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixConflict)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var c RegulatoryConflict
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			if c.Status == ConflictOpen {
				open = append(open, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list open conflicts: %w", err)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open, nil
}

// ResolveConflict marks a conflict RESOLVED with the arbitration winner.
func (s *BadgerStore) ResolveConflict(ctx context.Context, id, winnerRuleID string) (RegulatoryConflict, error) {
	c, err := s.GetConflict(ctx, id)
	if err != nil {
		return RegulatoryConflict{}, err
	}
	now := s.now().UTC()
	c.Status = ConflictResolved
	c.WinnerRuleID = winnerRuleID
	c.ResolvedAt = &now
	return s.SaveConflict(ctx, c)
}

// SaveFact persists a candidate fact.
func (s *BadgerStore) SaveFact(ctx context.Context, fact CandidateFact) (CandidateFact, error) {
	if err := ctx.Err(); err != nil {
		return CandidateFact{}, err
	}
	if fact.ID == "" {
		fact.ID = uuid.NewString()
		fact.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(fact)
	if err != nil {
		return CandidateFact{}, fmt.Errorf("marshal fact %s: %w", fact.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefixFact+fact.ID), data)
	})
	if err != nil {
		return CandidateFact{}, fmt.Errorf("save fact %s: %w", fact.ID, err)
	}
	return fact, nil
}

// GetFact returns a candidate fact by id.
func (s *BadgerStore) GetFact(ctx context.Context, id string) (CandidateFact, error) {
	var fact CandidateFact
	if err := s.getJSON(ctx, keyPrefixFact+id, &fact); err != nil {
		return CandidateFact{}, fmt.Errorf("fact %s: %w", id, err)
	}
	return fact, nil
}

// SaveAgentRun persists an agent run record.
func (s *BadgerStore) SaveAgentRun(ctx context.Context, run AgentRun) (AgentRun, error) {
	if err := ctx.Err(); err != nil {
		return AgentRun{}, err
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	data, err := json.Marshal(run)
	if err != nil {
		return AgentRun{}, fmt.Errorf("marshal agent run %s: %w", run.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefixAgentRun+run.ID), data)
	})
	if err != nil {
		return AgentRun{}, fmt.Errorf("save agent run %s: %w", run.ID, err)
	}
	return run, nil
}

// GetAgentRun returns an agent run by id.
func (s *BadgerStore) GetAgentRun(ctx context.Context, id string) (AgentRun, error) {
	var run AgentRun
	if err := s.getJSON(ctx, keyPrefixAgentRun+id, &run); err != nil {
		return AgentRun{}, fmt.Errorf("agent run %s: %w", id, err)
	}
	return run, nil
}

// RecordFailure persists a soft-failure record.
func (s *BadgerStore) RecordFailure(ctx context.Context, rec softfail.FailureRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal failure record %s: %w", rec.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefixFailure+rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("record failure %s: %w", rec.ID, err)
	}
	return nil
}

// ListFailures returns all recorded soft failures, oldest first.
func (s *BadgerStore) ListFailures(ctx context.Context) ([]softfail.FailureRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var recs []softfail.FailureRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixFailure)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec softfail.FailureRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].OccurredAt.Before(recs[j].OccurredAt) })
	return recs, nil
}

func (s *BadgerStore) getJSON(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
