// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package evidence owns immutable fetched snapshots and the provenance
// machinery that proves a quoted claim is present in one of them.
//
// Evidence is the pipeline's source of truth: once a snapshot is written,
// its raw content and content hash are never rewritten. Everything a
// published rule asserts must trace back, quote by quote, to a snapshot in
// this store.
package evidence

import "time"

// Evidence is an immutable snapshot of fetched content, addressed by
// content hash.
//
// Invariant: RawContent and ContentHash are never rewritten after creation.
// Duplicate-merge operations are an administrative concern outside the
// pipeline.
type Evidence struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId"`
	URL         string    `json:"url"`
	ContentHash string    `json:"contentHash"`
	RawContent  string    `json:"rawContent"`
	ContentType string    `json:"contentType"`
	FetchedAt   time.Time `json:"fetchedAt"`

	// ParsedArtifactID optionally references a derived artifact (parsed
	// table, OCR output). Empty for plain text/HTML snapshots.
	ParsedArtifactID string `json:"parsedArtifactId,omitempty"`
}

// MatchType classifies how a quote was located in evidence text.
type MatchType string

const (
	// MatchExact means the normalized quote is a substring of the
	// normalized evidence text.
	MatchExact MatchType = "exact"

	// MatchNormalized means only a prefix of the normalized quote was
	// found; the quote drifted but is still anchored.
	MatchNormalized MatchType = "normalized"

	// MatchNone means the quote could not be located.
	MatchNone MatchType = "none"
)

// VerificationResult is the outcome of a provenance check.
type VerificationResult struct {
	Found     bool      `json:"found"`
	MatchType MatchType `json:"matchType"`
}
