// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulus-hq/regulus/pkg/logging"
	"github.com/regulus-hq/regulus/pkg/ratelimit"
)

// stubHTTP returns canned responses per URL.
type stubHTTP struct {
	status      int
	body        string
	contentType string
	err         error
	calls       int
}

func (s *stubHTTP) Do(req *http.Request) (*http.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Header:     http.Header{"Content-Type": []string{s.contentType}},
	}, nil
}

func newTestClient(h HTTPClient) (*Client, *ratelimit.DomainLimiter) {
	limiter := ratelimit.New(ratelimit.Config{
		RequestDelay:     time.Millisecond,
		FailureThreshold: 5,
		ResetWindow:      time.Hour,
	})
	logger := logging.New(logging.Config{Quiet: true})
	return NewClient(h, limiter, logger), limiter
}

func TestFetchSuccess(t *testing.T) {
	stub := &stubHTTP{status: 200, body: "Stopa PDV-a je 25%.", contentType: "text/html; charset=utf-8"}
	client, limiter := newTestClient(stub)

	res, err := client.Fetch(context.Background(), "https://porezna-uprava.hr/pdv")
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "Stopa PDV-a je 25%.", res.Body)
	assert.Contains(t, res.ContentType, "text/html")
	assert.Equal(t, 0, limiter.Failures("porezna-uprava.hr"))
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	stub := &stubHTTP{status: 503}
	client, limiter := newTestClient(stub)

	_, err := client.Fetch(context.Background(), "https://nn.hr/gazette")
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 1, limiter.Failures("nn.hr"))
}

func TestFetchNetworkErrorIsTransient(t *testing.T) {
	stub := &stubHTTP{err: errors.New("connection refused")}
	client, limiter := newTestClient(stub)

	_, err := client.Fetch(context.Background(), "https://nn.hr/gazette")
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 1, limiter.Failures("nn.hr"))
}

func TestFetchNotFoundDoesNotCountAgainstBreaker(t *testing.T) {
	stub := &stubHTTP{status: 404}
	client, limiter := newTestClient(stub)

	_, err := client.Fetch(context.Background(), "https://nn.hr/missing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.Equal(t, 0, limiter.Failures("nn.hr"))
}

func TestFetchFailsFastWhenCircuitOpen(t *testing.T) {
	stub := &stubHTTP{status: 500}
	client, limiter := newTestClient(stub)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = client.Fetch(ctx, "https://broken.gov/x")
	}
	require.Equal(t, ratelimit.StateOpen, limiter.State("broken.gov"))

	before := stub.calls
	_, err := client.Fetch(ctx, "https://broken.gov/x")
	require.ErrorIs(t, err, ratelimit.ErrCircuitOpen)
	assert.Equal(t, before, stub.calls, "no request while the breaker is open")
}
