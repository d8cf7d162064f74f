// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sentinel

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/services/evidence"
	"github.com/regulus-hq/regulus/services/fetch"
)

// Fetcher retrieves a URL through the rate-limited outbound layer.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Result, error)
}

// Scheduler runs the adaptive scan loop over discovered items.
//
// # Description
//
// For each due item: classify on first scan, fetch through the rate
// limiter, hash-compare against the stored content hash, fold the
// observation into the velocity estimate, and compute the next scan time
// from velocity and freshness risk. A changed hash appends an immutable
// evidence snapshot for the extraction stage.
//
// The scheduler never aborts a wider run on a single item failure: errors
// return to the caller, which wraps each item in soft-fail isolation.
//
// # Thread Safety
//
// Safe for concurrent use across different items; per-domain request
// serialization is delegated to the rate limiter inside the fetcher.
type Scheduler struct {
	store    Store
	evidence evidence.Store
	fetcher  Fetcher
	hasher   *evidence.Hasher
	logger   *logging.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, evStore evidence.Store, fetcher Fetcher, hasher *evidence.Hasher, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		store:    store,
		evidence: evStore,
		fetcher:  fetcher,
		hasher:   hasher,
		logger:   logger,
		now:      time.Now,
	}
}

// DueItems returns items whose NextScanDue has passed, oldest fetch first.
func (s *Scheduler) DueItems(ctx context.Context) ([]DiscoveredItem, error) {
	return s.store.DueItems(ctx, s.now())
}

// Discover registers a URL under a source, returning the existing item if
// the URL is already monitored. New items are due immediately.
func (s *Scheduler) Discover(ctx context.Context, sourceID, url string) (DiscoveredItem, error) {
	existing, err := s.store.ItemByURL(ctx, url)
	if err == nil {
		return existing, nil
	}

	item := DiscoveredItem{
		SourceID:        sourceID,
		URL:             url,
		ChangeFrequency: 0.5, // neutral until warm-up completes
		NextScanDue:     s.now(),
	}
	saved, err := s.store.SaveItem(ctx, item)
	if err != nil {
		return DiscoveredItem{}, fmt.Errorf("discover %s: %w", url, err)
	}
	s.logger.Info("item discovered", "item_id", saved.ID, "url", url, "source_id", sourceID)
	return saved, nil
}

// ScanItem performs one scan of one item.
//
// # Description
//
// Fetch failures are returned to the caller after the limiter has recorded
// them; the item's schedule is still advanced a tier-appropriate amount so
// a dead URL does not spin hot. On success the item's classification
// (first scan only), velocity, hash and schedule are updated, and changed
// content is appended to the evidence store.
func (s *Scheduler) ScanItem(ctx context.Context, item DiscoveredItem) (ScanOutcome, error) {
	log := s.logger.WithTrace(ctx)
	now := s.now()

	if item.ScanCount == 0 && item.NodeRole == "" {
		cls := Classify(item.URL)
		item.NodeType = cls.NodeType
		item.NodeRole = cls.NodeRole
		item.FreshnessRisk = cls.FreshnessRisk
		log.Info("item classified",
			"item_id", item.ID,
			"node_type", item.NodeType,
			"node_role", item.NodeRole,
			"freshness_risk", item.FreshnessRisk,
		)
	}

	res, err := s.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		// Push the next attempt out before surfacing the failure, so the
		// item doesn't stay permanently at the front of the due queue.
		item.NextScanDue = NextScanDue(item.ChangeFrequency, item.FreshnessRisk, now)
		if _, saveErr := s.store.SaveItem(ctx, item); saveErr != nil {
			log.Warn("reschedule after fetch failure not saved", "item_id", item.ID, "error", saveErr.Error())
		}
		return ScanOutcome{}, fmt.Errorf("scan item %s: %w", item.ID, err)
	}

	changed, newHash := s.hasher.DetectChange(res.Body, res.ContentType, item.LastContentHash)

	item.ChangeFrequency = UpdateVelocity(item.ChangeFrequency, item.ScanCount, changed)
	item.ScanCount++
	item.LastFetchedAt = &now
	if changed {
		item.LastChangedAt = &now
		item.LastContentHash = newHash
	}
	item.NextScanDue = NextScanDue(item.ChangeFrequency, item.FreshnessRisk, now)

	outcome := ScanOutcome{
		ItemID:     item.ID,
		URL:        item.URL,
		Changed:    changed,
		NewHash:    newHash,
		NextScanAt: item.NextScanDue,
	}

	if changed {
		ev, created, err := s.evidence.Append(ctx, evidence.Evidence{
			SourceID:    item.SourceID,
			URL:         item.URL,
			ContentHash: newHash,
			RawContent:  res.Body,
			ContentType: res.ContentType,
			FetchedAt:   now,
		})
		if err != nil {
			return ScanOutcome{}, fmt.Errorf("scan item %s: append evidence: %w", item.ID, err)
		}
		outcome.EvidenceID = ev.ID
		log.Info("content changed",
			"item_id", item.ID,
			"url", item.URL,
			"evidence_id", ev.ID,
			"new_snapshot", created,
			"velocity", DescribeVelocity(item.ChangeFrequency),
		)

		// A changed hub page is where new documents surface; crawl its
		// links so the leaves enter the scan rotation.
		if item.NodeType == NodeHub {
			outcome.Discovered = s.discoverLinks(ctx, item, res.Body)
		}
	}

	if _, err := s.store.SaveItem(ctx, item); err != nil {
		return ScanOutcome{}, fmt.Errorf("scan item %s: save: %w", item.ID, err)
	}
	if outcome.Discovered > 0 {
		log.Info("hub links registered", "item_id", item.ID, "discovered", outcome.Discovered)
	}
	if err := s.store.TouchSourceFetched(ctx, item.SourceID, now); err != nil {
		// Source bookkeeping is advisory; the scan itself succeeded.
		log.Warn("source fetch time not updated", "source_id", item.SourceID, "error", err.Error())
	}

	return outcome, nil
}

var hrefRe = regexp.MustCompile(`(?i)href\s*=\s*"([^"#]+)"`)

// discoverLinks registers same-host links found on a hub page under the
// hub's source, returning how many were new. Cross-host links are ignored:
// a source never vouches for another origin.
func (s *Scheduler) discoverLinks(ctx context.Context, item DiscoveredItem, body string) int {
	base, err := url.Parse(item.URL)
	if err != nil {
		return 0
	}

	var discovered int
	seen := map[string]bool{item.URL: true}
	for _, m := range hrefRe.FindAllStringSubmatch(body, -1) {
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}
		if resolved.Hostname() != base.Hostname() {
			continue
		}
		resolved.Fragment = ""
		target := resolved.String()
		if seen[target] {
			continue
		}
		seen[target] = true

		if _, err := s.store.ItemByURL(ctx, target); err == nil {
			continue // already monitored
		}
		if _, err := s.Discover(ctx, item.SourceID, target); err != nil {
			s.logger.Warn("hub link not registered", "url", target, "error", err.Error())
			continue
		}
		discovered++
	}
	return discovered
}
