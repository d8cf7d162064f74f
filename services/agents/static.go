// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"regexp"
	"strings"

	"github.com/regulus-hq/regulus/services/rules"
)

// StaticProvider is a deterministic, model-free Provider. It recognizes
// simple percentage statements by pattern and composes by majority value.
// Used in tests and in offline runs where no API key is configured; its
// output goes through exactly the same verification and gating as a real
// model's.
type StaticProvider struct{}

// NewStaticProvider creates a StaticProvider.
func NewStaticProvider() *StaticProvider { return &StaticProvider{} }

// Name identifies the backend.
func (*StaticProvider) Name() string { return "static" }

var _ Provider = (*StaticProvider)(nil)

// rateSentenceRe matches sentences like "Stopa PDV-a je 25%." capturing
// the numeric value.
var rateSentenceRe = regexp.MustCompile(`(?i)[^.!?]*\bstopa\b[^.!?]*?\bje\s+(\d+(?:,\d+)?)\s*%[^.!?]*[.!?]`)

// Extract finds percentage statements in the text.
func (*StaticProvider) Extract(ctx context.Context, req ExtractRequest) ([]rules.CandidateFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var facts []rules.CandidateFact
	for _, m := range rateSentenceRe.FindAllStringSubmatch(req.Text, -1) {
		sentence := strings.TrimSpace(m[0])
		facts = append(facts, rules.CandidateFact{
			Value:         m[1],
			SuggestedSlug: "pdv-standard-rate",
			ValueType:     "percentage",
			Confidence:    0.9,
			Quotes: []rules.Grounding{
				{EvidenceID: req.EvidenceID, ExactQuote: sentence},
			},
		})
	}
	return facts, nil
}

// Compose picks the most common value among the facts, averaging the
// confidence of the facts that carry it.
func (*StaticProvider) Compose(ctx context.Context, req ComposeRequest) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	if len(req.Facts) == 0 {
		return Draft{}, ErrEmptyResponse
	}

	counts := make(map[string]int)
	confSum := make(map[string]float64)
	for _, f := range req.Facts {
		counts[f.Value]++
		confSum[f.Value] += f.Confidence
	}

	best := ""
	for value, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && value < best) {
			best = value
		}
	}

	return Draft{
		ConceptSlug:    req.ConceptSlug,
		Value:          best,
		ValueType:      req.Facts[0].ValueType,
		AuthorityLevel: string(rules.AuthorityPractice),
		Confidence:     confSum[best] / float64(counts[best]),
	}, nil
}
