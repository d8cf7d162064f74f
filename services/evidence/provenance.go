// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"regexp"
	"strings"
)

// normalizedPrefixLen is how many normalized characters of a quote must
// match for a near-match classification when the full quote is absent.
const normalizedPrefixLen = 64

// Validator proves that a claimed quote is present inside an evidence
// snapshot's extractable text.
//
// # Description
//
// Both sides are normalized (case-folded, whitespace collapsed) before
// matching. An exact substring hit classifies as MatchExact. Failing that,
// a hit on the quote's first normalizedPrefixLen characters classifies as
// MatchNormalized: the quote drifted slightly (trailing punctuation,
// amended tail) but its anchor is still present. Anything else is
// MatchNone.
//
// Invoked at extraction time to stamp SourcePointer match types, and
// re-invoked by the rule lifecycle manager as the publication gate, because
// evidence for a URL can be superseded between extraction and approval.
//
// # Thread Safety
//
// Validator is stateless and safe for concurrent use.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

var quoteWhitespaceRe = regexp.MustCompile(`\s+`)

// VerifyQuote checks whether exactQuote is present in evidenceText.
func (v *Validator) VerifyQuote(evidenceText, exactQuote string) VerificationResult {
	quote := normalizeQuote(exactQuote)
	if quote == "" {
		return VerificationResult{Found: false, MatchType: MatchNone}
	}
	text := normalizeQuote(evidenceText)

	if strings.Contains(text, quote) {
		return VerificationResult{Found: true, MatchType: MatchExact}
	}

	if len(quote) > normalizedPrefixLen {
		prefix := quote[:normalizedPrefixLen]
		if strings.Contains(text, prefix) {
			return VerificationResult{Found: true, MatchType: MatchNormalized}
		}
	}

	return VerificationResult{Found: false, MatchType: MatchNone}
}

// normalizeQuote case-folds and collapses whitespace.
func normalizeQuote(s string) string {
	s = strings.ToLower(s)
	s = quoteWhitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
