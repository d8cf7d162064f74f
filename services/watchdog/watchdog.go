// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watchdog routes pipeline health signals to operators.
//
// Severity decides the path: CRITICAL alerts go out immediately through
// every configured sink, WARNING alerts accumulate into a daily digest,
// and INFO is logged only. Sinks are best-effort; an unreachable webhook
// never fails the pipeline work that raised the alert.
package watchdog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/regulus-hq/regulus/pkg/logging"
)

var (
	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulus_watchdog_alerts_total",
		Help: "Alerts raised, by severity and kind",
	}, []string{"severity", "kind"})

	sinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regulus_watchdog_sink_errors_total",
		Help: "Alert deliveries that failed, by sink",
	}, []string{"sink"})

	digestFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regulus_watchdog_digest_flushes_total",
		Help: "Daily digest flushes",
	})
)

// Severity orders alert urgency.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Alert is one health signal.
type Alert struct {
	Severity Severity `json:"severity"`

	// Kind groups alerts in the digest: "circuit_open", "gate_failed",
	// "low_confidence", "conflict_detected", "scan_failures".
	Kind string `json:"kind"`

	Message    string `json:"message"`
	EntityType string `json:"entityType,omitempty"`
	EntityID   string `json:"entityId,omitempty"`

	// Confidence is carried by low-confidence alerts so the digest can
	// report an average; nil otherwise.
	Confidence *float64 `json:"confidence,omitempty"`

	RaisedAt time.Time `json:"raisedAt"`
}

// Sink delivers alerts to an external channel.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	Send(ctx context.Context, subject, body string) error
}

// Watchdog fans alerts out to sinks by severity.
//
// # Thread Safety
//
// Safe for concurrent use; the digest buffer is mutex-guarded.
type Watchdog struct {
	sinks  []Sink
	logger *logging.Logger

	mu     sync.Mutex
	buffer []Alert
	stats  runStats

	now func() time.Time
}

// runStats accumulates pipeline activity between digest flushes.
type runStats struct {
	sourcesChecked  int
	itemsDiscovered int
	rulesCreated    int
	confidenceSum   float64
}

func (s runStats) empty() bool {
	return s.sourcesChecked == 0 && s.itemsDiscovered == 0 && s.rulesCreated == 0
}

// New creates a Watchdog over the given sinks.
func New(logger *logging.Logger, sinks ...Sink) *Watchdog {
	if logger == nil {
		logger = logging.Default()
	}
	return &Watchdog{sinks: sinks, logger: logger, now: time.Now}
}

// Raise routes one alert. CRITICAL delivers immediately; WARNING is
// buffered until FlushDigest; INFO only logs.
func (w *Watchdog) Raise(ctx context.Context, alert Alert) {
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = w.now().UTC()
	}
	alertsTotal.WithLabelValues(string(alert.Severity), alert.Kind).Inc()

	log := w.logger.WithTrace(ctx)
	switch alert.Severity {
	case SeverityCritical:
		log.Error("critical alert",
			"kind", alert.Kind,
			"entity_type", alert.EntityType,
			"entity_id", alert.EntityID,
			"message", alert.Message,
		)
		w.deliver(ctx, "[REGULUS CRITICAL] "+alert.Kind, alert.Message+entitySuffix(alert))
	case SeverityWarning:
		log.Warn("warning buffered for digest",
			"kind", alert.Kind,
			"entity_id", alert.EntityID,
			"message", alert.Message,
		)
		w.mu.Lock()
		w.buffer = append(w.buffer, alert)
		w.mu.Unlock()
	default:
		log.Info("alert",
			"kind", alert.Kind,
			"entity_id", alert.EntityID,
			"message", alert.Message,
		)
	}
}

// RecordScanActivity folds a finished scan run's counts into the next
// digest.
func (w *Watchdog) RecordScanActivity(sourcesChecked, itemsDiscovered int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.sourcesChecked += sourcesChecked
	w.stats.itemsDiscovered += itemsDiscovered
}

// RecordRuleCreated folds one composed rule into the next digest.
func (w *Watchdog) RecordRuleCreated(confidence float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.rulesCreated++
	w.stats.confidenceSum += confidence
}

// Pending returns how many warnings await the next digest.
func (w *Watchdog) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// FlushDigest sends one digest covering the run statistics recorded since
// the last flush plus every buffered warning, then clears both. A flush
// with nothing recorded and nothing buffered sends nothing.
func (w *Watchdog) FlushDigest(ctx context.Context) {
	w.mu.Lock()
	buffered := w.buffer
	stats := w.stats
	w.buffer = nil
	w.stats = runStats{}
	w.mu.Unlock()

	if len(buffered) == 0 && stats.empty() {
		return
	}
	digestFlushesTotal.Inc()

	w.deliver(ctx, fmt.Sprintf("[REGULUS] Daily digest: %d warnings", len(buffered)), formatDigest(stats, buffered))
	w.logger.Info("warning digest flushed",
		"warnings", len(buffered),
		"sources_checked", stats.sourcesChecked,
		"rules_created", stats.rulesCreated,
	)
}

// deliver sends to every sink, best-effort.
func (w *Watchdog) deliver(ctx context.Context, subject, body string) {
	for _, sink := range w.sinks {
		if err := sink.Send(ctx, subject, body); err != nil {
			sinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			w.logger.Error("alert delivery failed",
				"sink", sink.Name(),
				"subject", subject,
				"error", err.Error(),
			)
		}
	}
}

// formatDigest renders the run statistics followed by the warnings,
// aggregated per kind with counts and, where the alerts carry confidence,
// the average.
func formatDigest(stats runStats, alerts []Alert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "sources checked: %d\n", stats.sourcesChecked)
	fmt.Fprintf(&sb, "items discovered: %d\n", stats.itemsDiscovered)
	fmt.Fprintf(&sb, "rules created: %d", stats.rulesCreated)
	if stats.rulesCreated > 0 {
		fmt.Fprintf(&sb, " (avg confidence %.2f)", stats.confidenceSum/float64(stats.rulesCreated))
	}
	sb.WriteString("\n")

	if len(alerts) == 0 {
		sb.WriteString("no warnings\n")
		return sb.String()
	}

	type bucket struct {
		count   int
		confSum float64
		confN   int
		sample  string
	}
	buckets := make(map[string]*bucket)
	for _, a := range alerts {
		b := buckets[a.Kind]
		if b == nil {
			b = &bucket{sample: a.Message}
			buckets[a.Kind] = b
		}
		b.count++
		if a.Confidence != nil {
			b.confSum += *a.Confidence
			b.confN++
		}
	}

	kinds := make([]string, 0, len(buckets))
	for kind := range buckets {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		b := buckets[kind]
		fmt.Fprintf(&sb, "%s: %d", kind, b.count)
		if b.confN > 0 {
			fmt.Fprintf(&sb, " (avg confidence %.2f)", b.confSum/float64(b.confN))
		}
		fmt.Fprintf(&sb, " (e.g. %s)\n", b.sample)
	}
	return sb.String()
}

func entitySuffix(a Alert) string {
	if a.EntityID == "" {
		return ""
	}
	return fmt.Sprintf(" [%s %s]", a.EntityType, a.EntityID)
}
