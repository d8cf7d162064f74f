// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rules owns the regulatory rule data model, the rule status
// state machine, structural conflict detection and precedence arbitration.
//
// A rule is the unit of published truth. It can only be created as a
// draft, only moves status through the lifecycle manager's guarded
// transitions, and can only reach APPROVED or PUBLISHED while every one of
// its source pointers still verifies against stored evidence.
package rules

import (
	"time"

	"github.com/regulus-hq/regulus/services/evidence"
)

// AuthorityLevel is the legal weight of a rule's source.
type AuthorityLevel string

const (
	AuthorityLaw        AuthorityLevel = "LAW"
	AuthorityRegulation AuthorityLevel = "REGULATION"
	AuthorityGuidance   AuthorityLevel = "GUIDANCE"
	AuthorityProcedure  AuthorityLevel = "PROCEDURE"
	AuthorityPractice   AuthorityLevel = "PRACTICE"
)

// Rank returns the numeric authority rank; lower is higher authority
// (LAW=1 … PRACTICE=5). Unknown levels rank below PRACTICE so malformed
// data never outranks real law.
func (a AuthorityLevel) Rank() int {
	switch a {
	case AuthorityLaw:
		return 1
	case AuthorityRegulation:
		return 2
	case AuthorityGuidance:
		return 3
	case AuthorityProcedure:
		return 4
	case AuthorityPractice:
		return 5
	default:
		return 6
	}
}

// Status is a rule's lifecycle state.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusApproved      Status = "APPROVED"
	StatusPublished     Status = "PUBLISHED"
	StatusRejected      Status = "REJECTED"
	StatusConflict      Status = "CONFLICT"
)

// SourcePointer locates a quoted claim inside an evidence snapshot.
// Immutable once a rule depending on it is published: the quote text must
// not drift from what was verified.
type SourcePointer struct {
	ID            string             `json:"id"`
	EvidenceID    string             `json:"evidenceId"`
	ExactQuote    string             `json:"exactQuote"`
	ArticleNumber string             `json:"articleNumber,omitempty"`
	LawReference  string             `json:"lawReference,omitempty"`
	MatchType     evidence.MatchType `json:"matchType"`
}

// RegulatoryRule is a versioned, status-gated unit of regulatory truth.
type RegulatoryRule struct {
	ID          string `json:"id"`
	ConceptSlug string `json:"conceptSlug" validate:"required"`
	Value       string `json:"value" validate:"required"`

	// ValueType describes Value's shape: "percentage", "amount",
	// "threshold", "date", "text".
	ValueType string `json:"valueType"`

	Authority      AuthorityLevel `json:"authorityLevel" validate:"required,oneof=LAW REGULATION GUIDANCE PROCEDURE PRACTICE"`
	EffectiveFrom  *time.Time     `json:"effectiveFrom,omitempty"`
	EffectiveUntil *time.Time     `json:"effectiveUntil,omitempty"`

	Status Status `json:"status"`

	// StatusReason is the human-readable reason attached by the last
	// guarded transition or guard rejection.
	StatusReason string `json:"statusReason,omitempty"`

	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`

	// Lineage.
	OriginatingCandidateFactIDs []string `json:"originatingCandidateFactIds,omitempty"`
	OriginatingAgentRunIDs      []string `json:"originatingAgentRunIds,omitempty"`

	SourcePointers []SourcePointer `json:"sourcePointers"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConflictType classifies a detected contradiction.
type ConflictType string

const (
	// ConflictValueMismatch: two non-rejected rules for the same concept
	// carry different values over overlapping effective windows.
	ConflictValueMismatch ConflictType = "VALUE_MISMATCH"

	// ConflictAuthoritySupersede: a higher-authority rule arrived for a
	// concept already covered by a lower-authority one.
	ConflictAuthoritySupersede ConflictType = "AUTHORITY_SUPERSEDE"
)

// ConflictStatus is a conflict's resolution state.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "OPEN"
	ConflictResolved ConflictStatus = "RESOLVED"
)

// RegulatoryConflict records a detected contradiction between two rules.
type RegulatoryConflict struct {
	ID          string         `json:"id"`
	Type        ConflictType   `json:"conflictType"`
	ItemAID     string         `json:"itemAId"`
	ItemBID     string         `json:"itemBId"`
	Description string         `json:"description"`
	Status      ConflictStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`

	// WinnerRuleID is set when the arbiter resolved the conflict.
	WinnerRuleID string `json:"winnerRuleId,omitempty"`
}

// CandidateFact is an unvetted extraction awaiting composition. Never
// exposed to rule consumers.
type CandidateFact struct {
	ID              string      `json:"id"`
	Value           string      `json:"value"`
	SuggestedSlug   string      `json:"suggestedSlug"`
	SuggestedDomain string      `json:"suggestedDomain,omitempty"`
	ValueType       string      `json:"valueType,omitempty"`
	Confidence      float64     `json:"confidence"`
	Quotes          []Grounding `json:"quotes"`
	AgentRunID      string      `json:"agentRunId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// Grounding ties a candidate fact to a quote in an evidence snapshot.
// MatchType records how the quote verified at extraction time; the
// publication gate re-verifies and re-stamps before any promotion.
type Grounding struct {
	EvidenceID    string             `json:"evidenceId"`
	ExactQuote    string             `json:"exactQuote"`
	ArticleNumber string             `json:"articleNumber,omitempty"`
	LawReference  string             `json:"lawReference,omitempty"`
	MatchType     evidence.MatchType `json:"matchType,omitempty"`
}

// AgentRun correlates one extraction or composition invocation to its
// inputs and outputs. Pure lineage; business logic never reads it.
type AgentRun struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"` // "extract" or "compose"
	Model       string     `json:"model,omitempty"`
	EvidenceIDs []string   `json:"evidenceIds,omitempty"`
	InputDigest string     `json:"inputDigest,omitempty"`
	OutputNote  string     `json:"outputNote,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// windowsOverlap reports whether two effective-date windows intersect,
// treating nil bounds as −∞/+∞.
func windowsOverlap(start1, end1, start2, end2 *time.Time) bool {
	startsBeforeEnds := func(start, end *time.Time) bool {
		if start == nil || end == nil {
			return true
		}
		return !start.After(*end)
	}
	return startsBeforeEnds(start1, end2) && startsBeforeEnds(start2, end1)
}
