// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sentinel

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Classification is the result of first-scan URL classification. It is
// computed once and stable thereafter.
type Classification struct {
	NodeType      NodeType
	NodeRole      string
	FreshnessRisk FreshnessRisk
}

// Keyword groups for path classification. Croatian and English terms are
// mixed because the monitored registries publish under both.
var (
	rateKeywords = []string{"stopa", "stope", "rate", "rates", "tarif", "vat-rate", "porezne-stope"}
	hubKeywords  = []string{"vijesti", "news", "objave", "pretraga", "search", "sitemap", "rss", "feed", "index", "popis", "list"}
	lawKeywords  = []string{"zakon", "act", "law", "statute", "uredba", "regulation", "pravilnik", "ordinance", "direktiva", "directive"}
	guideKeyword = []string{"misljenje", "misljenja", "guidance", "uputa", "upute", "tumacenje", "circular", "faq"}
	archKeywords = []string{"arhiv", "archive", "povijest", "history", "stari", "old"}

	// Gazette issues and consolidated texts from clearly past years.
	oldYearRe = regexp.MustCompile(`/(19\d{2}|200\d|201\d)/`)
)

// Classify assigns structural type, role and freshness risk from URL
// path/keyword heuristics.
//
// # Description
//
// Rate tables are the values downstream tax logic actually consumes, so
// anything that smells like a rate page is CRITICAL. Hubs (listing/news
// pages) are HIGH because new documents surface there first. Statute and
// guidance leaves are MEDIUM; archived or visibly dated material is STATIC.
// Everything else lands on LOW until velocity says otherwise.
func Classify(rawURL string) Classification {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Classification{NodeType: NodeLeaf, NodeRole: "document", FreshnessRisk: RiskLow}
	}
	path := strings.ToLower(parsed.Path)

	switch {
	case containsAny(path, archKeywords) || oldYearRe.MatchString(path):
		return Classification{NodeType: NodeLeaf, NodeRole: "archive", FreshnessRisk: RiskStatic}

	case containsAny(path, rateKeywords):
		return Classification{NodeType: NodeLeaf, NodeRole: "rate-table", FreshnessRisk: RiskCritical}

	case containsAny(path, hubKeywords) || path == "" || path == "/":
		return Classification{NodeType: NodeHub, NodeRole: "index", FreshnessRisk: RiskHigh}

	case containsAny(path, lawKeywords):
		return Classification{NodeType: NodeLeaf, NodeRole: "statute", FreshnessRisk: RiskMedium}

	case containsAny(path, guideKeyword):
		return Classification{NodeType: NodeLeaf, NodeRole: "guidance", FreshnessRisk: RiskMedium}

	default:
		return Classification{NodeType: NodeLeaf, NodeRole: "document", FreshnessRisk: RiskLow}
	}
}

// Base re-scan intervals per freshness tier. Velocity modulates within a
// tier but tiers dominate: a volatile STATIC item still waits far longer
// than a quiet CRITICAL one.
var riskBaseInterval = map[FreshnessRisk]time.Duration{
	RiskCritical: 6 * time.Hour,
	RiskHigh:     24 * time.Hour,
	RiskMedium:   72 * time.Hour,
	RiskLow:      7 * 24 * time.Hour,
	RiskStatic:   30 * 24 * time.Hour,
}

// NextScanDue computes when an item should be scanned again.
//
// # Description
//
// The tier's base interval is scaled by (1.5 − changeFrequency), so a
// fully volatile item scans at roughly half its tier interval and a frozen
// one at roughly 1.5×. With frequencies clamped to [0.01, 0.99] the scale
// stays within [0.51, 1.49], which keeps tier ordering absolute.
func NextScanDue(changeFrequency float64, risk FreshnessRisk, now time.Time) time.Time {
	base, ok := riskBaseInterval[risk]
	if !ok {
		base = riskBaseInterval[RiskLow]
	}
	scale := 1.5 - clampVelocity(changeFrequency)
	return now.Add(time.Duration(float64(base) * scale))
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
