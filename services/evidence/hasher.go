// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Hasher computes change-detection and immutability hashes for fetched
// content.
//
// # Policy
//
// Structured content (JSON payloads, API responses) is hashed over its raw
// bytes: an audit snapshot must be sensitive to every byte. HTML and plain
// text are normalized first (comments, script/style blocks, session-like
// hex runs and timestamps stripped, whitespace collapsed) so cosmetic
// page churn does not look like a regulatory change to the scheduler.
//
// # Thread Safety
//
// Hasher is stateless and safe for concurrent use.
type Hasher struct{}

// NewHasher creates a Hasher.
func NewHasher() *Hasher {
	return &Hasher{}
}

var (
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptRe      = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleRe       = regexp.MustCompile(`(?is)<style\b.*?</style>`)

	// Session tokens, cache busters, CSRF nonces: long hex runs churn on
	// every page load and carry no regulatory meaning.
	hexRunRe = regexp.MustCompile(`[0-9a-fA-F]{32,}`)

	// ISO-ish timestamps ("2024-06-01T12:00:00", "2024-06-01 12:00") and
	// European-format dates with times ("01.06.2024 12:00").
	timestampRe = regexp.MustCompile(
		`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?` +
			`|\d{1,2}\.\d{1,2}\.\d{4}\.?\s+\d{1,2}:\d{2}(:\d{2})?`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Hash computes the hex digest for content under the hashing policy.
//
// # Inputs
//
//   - content: fetched body.
//   - contentTypeHint: the response Content-Type, may be empty.
//
// # Outputs
//
//   - string: lowercase sha256 hex digest.
func (h *Hasher) Hash(content, contentTypeHint string) string {
	if isStructured(content, contentTypeHint) {
		return digest(content)
	}
	return digest(h.normalize(content))
}

// DetectChange reports whether content differs from a previously stored
// hash, returning the new hash either way. Any difference is significant;
// there is no partial-change scoring.
func (h *Hasher) DetectChange(newContent, contentTypeHint, previousHash string) (bool, string) {
	newHash := h.Hash(newContent, contentTypeHint)
	return newHash != previousHash, newHash
}

// normalize strips cosmetic churn from HTML/text content.
func (h *Hasher) normalize(content string) string {
	s := htmlCommentRe.ReplaceAllString(content, " ")
	s = scriptRe.ReplaceAllString(s, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = hexRunRe.ReplaceAllString(s, " ")
	s = timestampRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// isStructured reports whether content should be hashed raw.
func isStructured(content, contentTypeHint string) bool {
	hint := strings.ToLower(contentTypeHint)
	if strings.Contains(hint, "json") || strings.Contains(hint, "xml") {
		return true
	}
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
