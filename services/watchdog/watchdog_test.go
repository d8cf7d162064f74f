// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watchdog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulus-hq/regulus/pkg/logging"
)

type memorySink struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	fail     error
}

func (*memorySink) Name() string { return "memory" }

func (s *memorySink) Send(ctx context.Context, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, body)
	return nil
}

func quiet() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func TestCriticalDeliversImmediately(t *testing.T) {
	sink := &memorySink{}
	w := New(quiet(), sink)

	w.Raise(context.Background(), Alert{
		Severity:   SeverityCritical,
		Kind:       "circuit_open",
		Message:    "circuit opened for porezna-uprava.hr",
		EntityType: "domain",
		EntityID:   "porezna-uprava.hr",
	})

	require.Len(t, sink.subjects, 1)
	assert.Contains(t, sink.subjects[0], "CRITICAL")
	assert.Contains(t, sink.subjects[0], "circuit_open")
	assert.Contains(t, sink.bodies[0], "porezna-uprava.hr")
	assert.Zero(t, w.Pending())
}

func TestWarningsBufferUntilDigest(t *testing.T) {
	sink := &memorySink{}
	w := New(quiet(), sink)
	ctx := context.Background()

	conf1, conf2 := 0.42, 0.38
	w.Raise(ctx, Alert{Severity: SeverityWarning, Kind: "low_confidence", Message: "rule r1 below threshold", Confidence: &conf1})
	w.Raise(ctx, Alert{Severity: SeverityWarning, Kind: "low_confidence", Message: "rule r2 below threshold", Confidence: &conf2})
	w.Raise(ctx, Alert{Severity: SeverityWarning, Kind: "gate_failed", Message: "rule r3 quote superseded"})

	assert.Empty(t, sink.subjects, "warnings do not deliver immediately")
	assert.Equal(t, 3, w.Pending())

	w.FlushDigest(ctx)

	require.Len(t, sink.subjects, 1)
	assert.Contains(t, sink.subjects[0], "3 warnings")
	assert.Contains(t, sink.bodies[0], "low_confidence: 2")
	assert.Contains(t, sink.bodies[0], "avg confidence 0.40")
	assert.Contains(t, sink.bodies[0], "gate_failed: 1")
	assert.Zero(t, w.Pending(), "flush clears the buffer")
}

func TestDigestIncludesRunStatistics(t *testing.T) {
	sink := &memorySink{}
	w := New(quiet(), sink)
	ctx := context.Background()

	w.RecordScanActivity(2, 5)
	w.RecordScanActivity(1, 0)
	w.RecordRuleCreated(0.9)
	w.RecordRuleCreated(0.7)
	w.Raise(ctx, Alert{Severity: SeverityWarning, Kind: "gate_failed", Message: "rule r1 quote superseded"})

	w.FlushDigest(ctx)

	require.Len(t, sink.bodies, 1)
	assert.Contains(t, sink.bodies[0], "sources checked: 3")
	assert.Contains(t, sink.bodies[0], "items discovered: 5")
	assert.Contains(t, sink.bodies[0], "rules created: 2 (avg confidence 0.80)")
	assert.Contains(t, sink.bodies[0], "gate_failed: 1")
}

func TestDigestStatsOnlyStillSends(t *testing.T) {
	sink := &memorySink{}
	w := New(quiet(), sink)
	ctx := context.Background()

	w.RecordScanActivity(1, 0)
	w.FlushDigest(ctx)

	require.Len(t, sink.subjects, 1)
	assert.Contains(t, sink.subjects[0], "0 warnings")
	assert.Contains(t, sink.bodies[0], "no warnings")

	// The flush reset the accumulator.
	w.FlushDigest(ctx)
	assert.Len(t, sink.subjects, 1)
}

func TestFlushDigestEmptyBufferSendsNothing(t *testing.T) {
	sink := &memorySink{}
	w := New(quiet(), sink)

	w.FlushDigest(context.Background())
	assert.Empty(t, sink.subjects)
}

func TestSinkFailureDoesNotPanicOrBlock(t *testing.T) {
	broken := &memorySink{fail: errors.New("unreachable")}
	working := &memorySink{}
	w := New(quiet(), broken, working)

	w.Raise(context.Background(), Alert{Severity: SeverityCritical, Kind: "scan_failures", Message: "half the batch failed"})

	require.Len(t, working.subjects, 1, "remaining sinks still deliver")
}

func TestInfoOnlyLogs(t *testing.T) {
	sink := &memorySink{}
	w := New(quiet(), sink)

	w.Raise(context.Background(), Alert{Severity: SeverityInfo, Kind: "scan_complete", Message: "42 items scanned"})
	assert.Empty(t, sink.subjects)
	assert.Zero(t, w.Pending())
}

func TestWebhookSinkPosts(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		gotContentType = r.Header.Get("Content-Type")
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), "[REGULUS CRITICAL] circuit_open", "details")
	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.Contains(t, gotBody, "circuit_open")
}

func TestWebhookSinkNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), "subject", "body")
	assert.Error(t, err)
}

func TestSMTPSinkBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	sink := NewSMTPSink(SMTPConfig{
		Host: "mail.regulus-hq.com", Port: 587,
		From: "alerts@regulus-hq.com",
		To:   []string{"ops@regulus-hq.com"},
	})
	sink.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := sink.Send(context.Background(), "[REGULUS] Daily digest: 2 warnings", "low_confidence: 2")
	require.NoError(t, err)
	assert.Equal(t, "mail.regulus-hq.com:587", gotAddr)
	assert.Equal(t, "alerts@regulus-hq.com", gotFrom)
	assert.Equal(t, []string{"ops@regulus-hq.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [REGULUS] Daily digest: 2 warnings")
}
