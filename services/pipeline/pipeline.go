// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline wires the stages together: scan, extract, compose,
// detect, publish.
//
// Every stage runs under soft-fail isolation, so a single bad document,
// hallucinated quote or blocked gate degrades the run instead of killing
// it. Stage outcomes feed the watchdog: total scan failure is CRITICAL,
// everything recoverable lands in the daily digest.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/pkg/softfail"
	"github.com/regulus-hq/regulus/services/agents"
	"github.com/regulus-hq/regulus/services/evidence"
	"github.com/regulus-hq/regulus/services/rules"
	"github.com/regulus-hq/regulus/services/sentinel"
	"github.com/regulus-hq/regulus/services/watchdog"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulus_pipeline_scans_total",
		Help: "Item scans by result",
	}, []string{"result"})

	snapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulus_pipeline_snapshots_total",
		Help: "Evidence snapshots appended by scan runs",
	})

	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulus_pipeline_extractions_total",
		Help: "Evidence extractions by result",
	}, []string{"result"})

	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulus_pipeline_publish_total",
		Help: "Publish attempts by result",
	}, []string{"result"})
)

var tracer = otel.Tracer("github.com/regulus-hq/regulus/services/pipeline")

// lowConfidenceThreshold flags composed rules for digest review.
const lowConfidenceThreshold = 0.5

// Pipeline orchestrates the stages over shared storage.
type Pipeline struct {
	scheduler *sentinel.Scheduler
	sources   sentinel.Store
	evidence  evidence.Store
	extractor *agents.Extractor
	composer  *agents.Composer
	ruleStore rules.Store
	detector  *rules.Detector
	lifecycle *rules.Lifecycle
	watchdog  *watchdog.Watchdog
	runner    *softfail.Runner
	logger    *logging.Logger

	// scanWorkers bounds concurrent per-domain scan groups.
	scanWorkers int
}

// Config collects the pipeline's dependencies.
type Config struct {
	Scheduler *sentinel.Scheduler
	Sources   sentinel.Store
	Evidence  evidence.Store
	Extractor *agents.Extractor
	Composer  *agents.Composer
	RuleStore rules.Store
	Detector  *rules.Detector
	Lifecycle *rules.Lifecycle
	Watchdog  *watchdog.Watchdog
	Runner    *softfail.Runner
	Logger    *logging.Logger

	// ScanWorkers bounds concurrent domains during a scan run. Zero means 4.
	ScanWorkers int
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	workers := cfg.ScanWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		scheduler:   cfg.Scheduler,
		sources:     cfg.Sources,
		evidence:    cfg.Evidence,
		extractor:   cfg.Extractor,
		composer:    cfg.Composer,
		ruleStore:   cfg.RuleStore,
		detector:    cfg.Detector,
		lifecycle:   cfg.Lifecycle,
		watchdog:    cfg.Watchdog,
		runner:      cfg.Runner,
		logger:      logger,
		scanWorkers: workers,
	}
}

// ScanReport aggregates one scan run.
type ScanReport struct {
	Scanned     int
	Changed     int
	Failed      int
	Discovered  int
	EvidenceIDs []string
}

// RunScans scans every due item. Items are partitioned by domain and
// domains run concurrently; within a domain items run serially so the
// per-domain rate limit is never contended from two goroutines.
func (p *Pipeline) RunScans(ctx context.Context) (ScanReport, error) {
	ctx, span := tracer.Start(ctx, "pipeline.RunScans")
	defer span.End()

	due, err := p.scheduler.DueItems(ctx)
	if err != nil {
		return ScanReport{}, fmt.Errorf("run scans: %w", err)
	}
	span.SetAttributes(attribute.Int("due_items", len(due)))
	if len(due) == 0 {
		return ScanReport{}, nil
	}

	byDomain := make(map[string][]sentinel.DiscoveredItem)
	for _, item := range due {
		byDomain[domainOf(item.URL)] = append(byDomain[domainOf(item.URL)], item)
	}
	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	results := make([]softfail.BatchResult[sentinel.ScanOutcome], len(domains))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.scanWorkers)
	for i, domain := range domains {
		i, domain := i, domain
		g.Go(func() error {
			results[i] = softfail.Batch(gctx, p.runner, byDomain[domain],
				func(item sentinel.DiscoveredItem) softfail.Op {
					return softfail.Op{Operation: "sentinel.scan", EntityType: "discovered_item", EntityID: item.ID}
				},
				sentinel.ScanOutcome{},
				func(ctx context.Context, item sentinel.DiscoveredItem) (sentinel.ScanOutcome, error) {
					return p.scheduler.ScanItem(ctx, item)
				},
			)
			return nil
		})
	}
	// Group goroutines only record results; the only error path is ctx.
	_ = g.Wait()

	var report ScanReport
	for _, batch := range results {
		report.Scanned += batch.Total
		report.Failed += batch.Failed
		for _, res := range batch.Results {
			if !res.OK {
				scansTotal.WithLabelValues("failed").Inc()
				continue
			}
			scansTotal.WithLabelValues("ok").Inc()
			report.Discovered += res.Value.Discovered
			if res.Value.Changed {
				report.Changed++
				snapshotsTotal.Inc()
				report.EvidenceIDs = append(report.EvidenceIDs, res.Value.EvidenceID)
			}
		}
	}

	sources := make(map[string]bool)
	for _, item := range due {
		sources[item.SourceID] = true
	}
	p.watchdog.RecordScanActivity(len(sources), report.Discovered)

	p.reportScanHealth(ctx, report)
	p.logger.WithTrace(ctx).Info("scan run complete",
		"scanned", report.Scanned,
		"changed", report.Changed,
		"failed", report.Failed,
	)
	return report, nil
}

// reportScanHealth raises watchdog alerts for a finished scan run. Total
// failure pages someone now; partial failure waits for the digest.
func (p *Pipeline) reportScanHealth(ctx context.Context, report ScanReport) {
	if report.Failed == 0 {
		return
	}
	alert := watchdog.Alert{
		Kind:     "scan_failures",
		Message:  fmt.Sprintf("%d of %d scans failed", report.Failed, report.Scanned),
		Severity: watchdog.SeverityWarning,
	}
	if report.Failed == report.Scanned {
		alert.Severity = watchdog.SeverityCritical
		alert.Message = fmt.Sprintf("all %d scans failed", report.Scanned)
	}
	p.watchdog.Raise(ctx, alert)
}

// ExtractionReport aggregates one extraction and composition run.
type ExtractionReport struct {
	Snapshots     int
	Failed        int
	Facts         int
	ComposedRules []string
	Conflicted    []string
}

// RunExtraction extracts every pending snapshot, composes draft rules per
// suggested concept, and runs structural conflict detection over each new
// draft. Drafts that conflict are flagged CONFLICT before anyone reviews
// them; drafts below the confidence threshold go to the digest.
func (p *Pipeline) RunExtraction(ctx context.Context) (ExtractionReport, error) {
	ctx, span := tracer.Start(ctx, "pipeline.RunExtraction")
	defer span.End()

	pending, err := p.evidence.PendingExtraction(ctx)
	if err != nil {
		return ExtractionReport{}, fmt.Errorf("run extraction: %w", err)
	}
	span.SetAttributes(attribute.Int("pending_snapshots", len(pending)))

	report := ExtractionReport{Snapshots: len(pending)}

	batch := softfail.Batch(ctx, p.runner, pending,
		func(id string) softfail.Op {
			return softfail.Op{Operation: "agents.extract", EntityType: "evidence", EntityID: id}
		},
		agents.ExtractionOutcome{},
		func(ctx context.Context, id string) (agents.ExtractionOutcome, error) {
			return p.extractor.ExtractEvidence(ctx, id, p.sourceAuthority(ctx, id))
		},
	)
	report.Failed = batch.Failed

	factsBySlug := make(map[string][]string)
	authorityBySlug := make(map[string]rules.AuthorityLevel)
	for _, res := range batch.Results {
		if !res.OK {
			extractionsTotal.WithLabelValues("failed").Inc()
			continue
		}
		extractionsTotal.WithLabelValues("ok").Inc()
		report.Facts += len(res.Value.FactIDs)
		for _, factID := range res.Value.FactIDs {
			fact, err := p.ruleStore.GetFact(ctx, factID)
			if err != nil {
				p.logger.Warn("extracted fact unreadable", "fact_id", factID, "error", err.Error())
				continue
			}
			factsBySlug[fact.SuggestedSlug] = append(factsBySlug[fact.SuggestedSlug], fact.ID)
			if _, ok := authorityBySlug[fact.SuggestedSlug]; !ok {
				authorityBySlug[fact.SuggestedSlug] = p.authorityOfFact(ctx, fact)
			}
		}
	}

	slugs := make([]string, 0, len(factsBySlug))
	for slug := range factsBySlug {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	for _, slug := range slugs {
		res := softfail.Run(ctx, p.runner,
			softfail.Op{Operation: "agents.compose", EntityType: "concept", EntityID: slug},
			rules.RegulatoryRule{},
			func(ctx context.Context) (rules.RegulatoryRule, error) {
				return p.composer.ComposeConcept(ctx, slug, factsBySlug[slug], authorityBySlug[slug])
			},
		)
		if !res.OK {
			report.Failed++
			continue
		}
		rule := res.Value
		report.ComposedRules = append(report.ComposedRules, rule.ID)
		p.watchdog.RecordRuleCreated(rule.Confidence)

		if rule.Confidence < lowConfidenceThreshold {
			conf := rule.Confidence
			p.watchdog.Raise(ctx, watchdog.Alert{
				Severity:   watchdog.SeverityWarning,
				Kind:       "low_confidence",
				Message:    fmt.Sprintf("rule %s (%s) composed at confidence %.2f", rule.ID, slug, conf),
				EntityType: "rule",
				EntityID:   rule.ID,
				Confidence: &conf,
			})
		}

		conflicts, err := p.detector.Detect(ctx, rule)
		if err != nil {
			p.logger.Warn("conflict detection failed", "rule_id", rule.ID, "error", err.Error())
			continue
		}
		if len(conflicts) > 0 {
			if _, err := p.lifecycle.MarkConflict(ctx, rule.ID, conflicts[0].Description); err != nil {
				p.logger.Warn("rule not flagged as conflicted", "rule_id", rule.ID, "error", err.Error())
			}
			report.Conflicted = append(report.Conflicted, rule.ID)
			p.watchdog.Raise(ctx, watchdog.Alert{
				Severity:   watchdog.SeverityWarning,
				Kind:       "conflict_detected",
				Message:    conflicts[0].Description,
				EntityType: "rule",
				EntityID:   rule.ID,
			})
		}
	}

	p.logger.WithTrace(ctx).Info("extraction run complete",
		"snapshots", report.Snapshots,
		"failed", report.Failed,
		"facts", report.Facts,
		"composed", len(report.ComposedRules),
		"conflicted", len(report.Conflicted),
	)
	return report, nil
}

// ExtractOne extracts a single snapshot without composition, for operator
// re-extraction after a gate failure.
func (p *Pipeline) ExtractOne(ctx context.Context, evidenceID string) (agents.ExtractionOutcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ExtractOne")
	defer span.End()
	return p.extractor.ExtractEvidence(ctx, evidenceID, p.sourceAuthority(ctx, evidenceID))
}

// PublishBatch promotes rules to PUBLISHED. Gate failures become digest
// warnings; the batch itself always completes.
func (p *Pipeline) PublishBatch(ctx context.Context, ruleIDs []string) []rules.PublishOutcome {
	ctx, span := tracer.Start(ctx, "pipeline.PublishBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("rules", len(ruleIDs)))

	outcomes := p.lifecycle.PublishRules(ctx, ruleIDs)
	for _, outcome := range outcomes {
		if outcome.OK {
			publishTotal.WithLabelValues("ok").Inc()
			continue
		}
		publishTotal.WithLabelValues("blocked").Inc()
		p.watchdog.Raise(ctx, watchdog.Alert{
			Severity:   watchdog.SeverityWarning,
			Kind:       "gate_failed",
			Message:    fmt.Sprintf("rule %s not published: %s", outcome.RuleID, outcome.Reason),
			EntityType: "rule",
			EntityID:   outcome.RuleID,
		})
	}
	return outcomes
}

// sourceAuthority resolves the authority level of the source behind a
// snapshot. Unknown sources extract as PRACTICE, the lowest rank.
func (p *Pipeline) sourceAuthority(ctx context.Context, evidenceID string) string {
	ev, err := p.evidence.Get(ctx, evidenceID)
	if err != nil {
		return string(rules.AuthorityPractice)
	}
	src, err := p.sources.GetSource(ctx, ev.SourceID)
	if err != nil || src.Authority == "" {
		return string(rules.AuthorityPractice)
	}
	return src.Authority
}

// authorityOfFact resolves authority through the fact's first grounding.
func (p *Pipeline) authorityOfFact(ctx context.Context, fact rules.CandidateFact) rules.AuthorityLevel {
	if len(fact.Quotes) == 0 {
		return rules.AuthorityPractice
	}
	return rules.AuthorityLevel(p.sourceAuthority(ctx, fact.Quotes[0].EvidenceID))
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
