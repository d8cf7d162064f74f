// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fetch is the outbound HTTP layer for evidence capture.
//
// Every request is routed through the per-domain rate limiter, so sources
// see at most one politely spaced request at a time regardless of how many
// pipeline workers are running.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/pkg/ratelimit"
)

// ErrTransient marks failures worth retrying on the next scheduled scan:
// network errors, 5xx responses and 429 throttling. These count toward the
// domain's circuit breaker.
var ErrTransient = errors.New("transient fetch error")

// maxBodyBytes caps snapshot size. Regulatory pages and gazettes are
// text; anything past this is almost certainly a misconfigured URL.
const maxBodyBytes = 10 << 20

// Result is a completed fetch.
type Result struct {
	Status      int
	Body        string
	ContentType string
}

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches source documents through the domain rate limiter.
//
// # Thread Safety
//
// Client is safe for concurrent use; per-domain serialization is the
// limiter's job.
type Client struct {
	http      HTTPClient
	limiter   *ratelimit.DomainLimiter
	userAgent string
	logger    *logging.Logger
}

// NewClient creates a fetch client. limiter must not be nil; httpClient
// defaults to a 30-second-timeout http.Client when nil.
func NewClient(httpClient HTTPClient, limiter *ratelimit.DomainLimiter, logger *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		http:      httpClient,
		limiter:   limiter,
		userAgent: "regulus-sentinel/1.0 (+https://regulus-hq.com/bot)",
		logger:    logger,
	}
}

// Fetch retrieves a URL, honouring the domain's rate slot and recording
// the outcome with the circuit breaker.
//
// # Outputs
//
//   - Result: status, body and content type on HTTP 200.
//   - error: ErrCircuitOpen (fail fast, no request made), ErrTransient
//     wrapped for network/5xx/429 failures, or a plain error for other
//     non-200 statuses.
func (c *Client) Fetch(ctx context.Context, rawURL string) (Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	domain := parsed.Hostname()

	if err := c.limiter.AcquireSlot(ctx, domain); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request for %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.limiter.RecordFailure(domain)
		return Result{}, fmt.Errorf("fetch %s: %v: %w", rawURL, err, ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.limiter.RecordFailure(domain)
		return Result{}, fmt.Errorf("read body of %s: %v: %w", rawURL, err, ErrTransient)
	}

	c.logger.Debug("fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusOK:
		c.limiter.RecordSuccess(domain)
		return Result{
			Status:      resp.StatusCode,
			Body:        string(body),
			ContentType: resp.Header.Get("Content-Type"),
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.limiter.RecordFailure(domain)
		return Result{}, fmt.Errorf("fetch %s: status %d: %w", rawURL, resp.StatusCode, ErrTransient)
	default:
		// 4xx other than 429: the source answered; don't punish the domain.
		return Result{}, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
}
