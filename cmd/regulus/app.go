// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/pkg/ratelimit"
	"github.com/regulus-hq/regulus/pkg/softfail"
	"github.com/regulus-hq/regulus/services/agents"
	"github.com/regulus-hq/regulus/services/evidence"
	"github.com/regulus-hq/regulus/services/fetch"
	"github.com/regulus-hq/regulus/services/pipeline"
	"github.com/regulus-hq/regulus/services/rules"
	"github.com/regulus-hq/regulus/services/sentinel"
	"github.com/regulus-hq/regulus/services/storage/badgerstore"
	"github.com/regulus-hq/regulus/services/watchdog"
)

// app holds the wired service graph for one command invocation.
type app struct {
	cfg    Config
	logger *logging.Logger
	db     *badgerstore.DB

	limiter   *ratelimit.DomainLimiter
	scheduler *sentinel.Scheduler
	sentStore *sentinel.BadgerStore
	evStore   *evidence.BadgerStore
	ruleStore *rules.BadgerStore
	arbiter   *rules.Arbiter
	lifecycle *rules.Lifecycle
	dog       *watchdog.Watchdog
	pipeline  *pipeline.Pipeline
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// newApp wires the full service graph from configuration.
func newApp(cfg Config) (*app, error) {
	logger := logging.New(logging.Config{
		Level:   parseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "regulus",
		JSON:    cfg.JSONLogs,
	})

	db, err := badgerstore.Open(badgerstore.DefaultConfig(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}

	var sinks []watchdog.Sink
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, watchdog.NewWebhookSink(cfg.Alerts.WebhookURL))
	}
	if cfg.Alerts.SMTPHost != "" {
		sinks = append(sinks, watchdog.NewSMTPSink(watchdog.SMTPConfig{
			Host: cfg.Alerts.SMTPHost,
			Port: cfg.Alerts.SMTPPort,
			From: cfg.Alerts.SMTPFrom,
			To:   cfg.Alerts.SMTPTo,
		}))
	}
	dog := watchdog.New(logger, sinks...)

	limiter := ratelimit.New(ratelimit.Config{
		RequestDelay:     time.Duration(cfg.RateLimit.RequestDelaySeconds) * time.Second,
		FailureThreshold: cfg.RateLimit.FailureThreshold,
		ResetWindow:      time.Duration(cfg.RateLimit.ResetWindowMinutes) * time.Minute,
		OnStateChange: func(domain string, from, to ratelimit.State) {
			if to != ratelimit.StateOpen {
				return
			}
			dog.Raise(context.Background(), watchdog.Alert{
				Severity:   watchdog.SeverityCritical,
				Kind:       "circuit_open",
				Message:    fmt.Sprintf("circuit breaker opened for %s after repeated failures", domain),
				EntityType: "domain",
				EntityID:   domain,
			})
		},
	})

	sentStore := sentinel.NewBadgerStore(db)
	evStore := evidence.NewBadgerStore(db)
	ruleStore := rules.NewBadgerStore(db)
	validator := evidence.NewValidator()

	var provider agents.Provider
	switch cfg.Provider {
	case "openai":
		provider, err = agents.NewOpenAIProvider(logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	default:
		provider = agents.NewStaticProvider()
		logger.Warn("using static extraction provider; set provider: openai for model-backed extraction")
	}

	fetcher := fetch.NewClient(&http.Client{Timeout: 30 * time.Second}, limiter, logger)
	scheduler := sentinel.NewScheduler(sentStore, evStore, fetcher, evidence.NewHasher(), logger)
	lifecycle := rules.NewLifecycle(ruleStore, evStore, validator, logger)

	pipe := pipeline.New(pipeline.Config{
		Scheduler:   scheduler,
		Sources:     sentStore,
		Evidence:    evStore,
		Extractor:   agents.NewExtractor(provider, evStore, ruleStore, validator, logger),
		Composer:    agents.NewComposer(provider, ruleStore, logger),
		RuleStore:   ruleStore,
		Detector:    rules.NewDetector(ruleStore, logger),
		Lifecycle:   lifecycle,
		Watchdog:    dog,
		Runner:      softfail.NewRunner(logger, ruleStore),
		Logger:      logger,
		ScanWorkers: cfg.ScanWorkers,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		limiter:   limiter,
		scheduler: scheduler,
		sentStore: sentStore,
		evStore:   evStore,
		ruleStore: ruleStore,
		arbiter:   rules.NewArbiter(ruleStore, logger),
		lifecycle: lifecycle,
		dog:       dog,
		pipeline:  pipe,
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", "error", err.Error())
	}
	_ = a.logger.Close()
}
