// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sentinel is the adaptive source monitor: it classifies discovered
// URLs, tracks how fast each one changes, and decides when to look again.
//
// The scheduling loop is deliberately boring (fetch, hash, compare,
// reschedule) because everything downstream (extraction, rules,
// publication) depends on the evidence it captures being complete and
// honestly timestamped.
package sentinel

import "time"

// NodeType classifies a discovered URL's structural role.
type NodeType string

const (
	// NodeLeaf is a terminal document: a statute, rate table, or ruling.
	NodeLeaf NodeType = "leaf"

	// NodeHub is a listing or index page that links to leaves.
	NodeHub NodeType = "hub"
)

// FreshnessRisk tiers how urgently a resource must be re-scanned. The tier
// is assigned once, on first scan, from URL heuristics; velocity then
// modulates within the tier.
type FreshnessRisk string

const (
	RiskCritical FreshnessRisk = "CRITICAL"
	RiskHigh     FreshnessRisk = "HIGH"
	RiskMedium   FreshnessRisk = "MEDIUM"
	RiskLow      FreshnessRisk = "LOW"
	RiskStatic   FreshnessRisk = "STATIC"
)

// RegulatorySource is a monitored origin, seeded by configuration. The
// pipeline never mutates it except for LastFetchedAt.
type RegulatorySource struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name" yaml:"name" validate:"required"`

	// BaseURL is the origin to monitor.
	BaseURL string `json:"baseUrl" yaml:"base_url" validate:"required,url"`

	// Authority is the source's place in the legal hierarchy
	// (LAW, REGULATION, GUIDANCE, PROCEDURE, PRACTICE).
	Authority string `json:"authority" yaml:"authority" validate:"required,oneof=LAW REGULATION GUIDANCE PROCEDURE PRACTICE"`

	// FetchInterval is the baseline interval hint for newly discovered
	// items under this source.
	FetchInterval time.Duration `json:"fetchInterval" yaml:"fetch_interval"`

	Active        bool       `json:"active" yaml:"active"`
	LastFetchedAt *time.Time `json:"lastFetchedAt,omitempty" yaml:"-"`
}

// DiscoveredItem is a specific URL found under a source. Mutated on every
// scan by the scheduler; never deleted by the pipeline.
type DiscoveredItem struct {
	ID       string `json:"id"`
	SourceID string `json:"sourceId"`
	URL      string `json:"url"`

	// Classification, stable after the first scan.
	NodeType      NodeType      `json:"nodeType"`
	NodeRole      string        `json:"nodeRole"`
	FreshnessRisk FreshnessRisk `json:"freshnessRisk"`

	// ChangeFrequency is the EWMA velocity estimate in [0.01, 0.99].
	ChangeFrequency float64 `json:"changeFrequency"`

	ScanCount       int        `json:"scanCount"`
	LastContentHash string     `json:"lastContentHash,omitempty"`
	LastChangedAt   *time.Time `json:"lastChangedAt,omitempty"`
	LastFetchedAt   *time.Time `json:"lastFetchedAt,omitempty"`
	NextScanDue     time.Time  `json:"nextScanDue"`
}

// ScanOutcome summarizes one completed scan of one item.
type ScanOutcome struct {
	ItemID     string    `json:"itemId"`
	URL        string    `json:"url"`
	Changed    bool      `json:"changed"`
	EvidenceID string    `json:"evidenceId,omitempty"`
	NewHash    string    `json:"newHash"`
	NextScanAt time.Time `json:"nextScanAt"`

	// Discovered counts new items registered from this scan's links;
	// only hub pages crawl.
	Discovered int `json:"discovered,omitempty"`
}
