// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashIsDeterministic(t *testing.T) {
	h := NewHasher()

	inputs := []struct {
		content string
		hint    string
	}{
		{`{"rate": 25}`, "application/json"},
		{"<html><body>Stopa PDV-a je 25%.</body></html>", "text/html"},
		{"plain regulation text", ""},
	}
	for _, in := range inputs {
		assert.Equal(t, h.Hash(in.content, in.hint), h.Hash(in.content, in.hint))
	}
}

func TestStructuredContentIsByteSensitive(t *testing.T) {
	h := NewHasher()

	a := h.Hash(`{"rate": 25}`, "application/json")
	b := h.Hash(`{"rate": 26}`, "application/json")
	assert.NotEqual(t, a, b, "single byte change must change the hash")

	// JSON-shaped content without a hint is still hashed raw.
	c := h.Hash(`{"rate": 25} `, "")
	assert.NotEqual(t, a, c, "whitespace in structured content is significant")
}

func TestHTMLNormalizationAbsorbsScriptChurn(t *testing.T) {
	h := NewHasher()

	base := "<html><body><p>Stopa PDV-a je 25%.</p></body></html>"
	withScript := "<html><body><script>var session='xyz';</script><p>Stopa PDV-a je 25%.</p></body></html>"
	withStyle := "<html><body><style>.x{color:red}</style><p>Stopa  PDV-a je\n25%.</p></body></html>"
	withComment := "<html><body><!-- build 2049 --><p>Stopa PDV-a je 25%.</p></body></html>"

	want := h.Hash(base, "text/html")
	assert.Equal(t, want, h.Hash(withScript, "text/html"))
	assert.Equal(t, want, h.Hash(withStyle, "text/html"))
	assert.Equal(t, want, h.Hash(withComment, "text/html"))
}

func TestHTMLNormalizationStripsSessionTokensAndTimestamps(t *testing.T) {
	h := NewHasher()

	a := "<p>Objavljeno: 2024-06-01T10:00:00Z token=0123456789abcdef0123456789abcdef</p><p>Stopa je 25%.</p>"
	b := "<p>Objavljeno: 2024-06-02T11:30:00Z token=fedcba9876543210fedcba9876543210</p><p>Stopa je 25%.</p>"
	assert.Equal(t, h.Hash(a, "text/html"), h.Hash(b, "text/html"))

	// A substantive change must still be visible.
	c := "<p>Objavljeno: 2024-06-02T11:30:00Z</p><p>Stopa je 23%.</p>"
	assert.NotEqual(t, h.Hash(a, "text/html"), h.Hash(c, "text/html"))
}

func TestDetectChange(t *testing.T) {
	h := NewHasher()

	content := "<p>Stopa PDV-a je 25%.</p>"
	_, hash := h.DetectChange(content, "text/html", "")

	changed, again := h.DetectChange(content, "text/html", hash)
	assert.False(t, changed)
	assert.Equal(t, hash, again)

	changed, newHash := h.DetectChange("<p>Stopa PDV-a je 23%.</p>", "text/html", hash)
	assert.True(t, changed)
	assert.NotEqual(t, hash, newHash)
}
