// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit throttles outbound fetches per network domain and
// protects misbehaving sources with a circuit breaker.
//
// Regulatory registries are not built for crawler traffic. The limiter
// enforces a minimum inter-request delay per hostname so one slow or
// hostile source never changes how politely we treat the others. After
// enough consecutive failures the domain's breaker opens and fetches fail
// fast until the reset window elapses.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned by AcquireSlot while a domain's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the breaker state of a single domain.
//
//	CLOSED ──[failure threshold]──► OPEN
//	   ▲                              │
//	   └────────[reset window]────────┘
type State int

const (
	// StateClosed is normal operation; requests flow through.
	StateClosed State = iota

	// StateOpen means the domain tripped and requests are rejected
	// until the reset window elapses.
	StateOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Config configures the per-domain limiter.
type Config struct {
	// RequestDelay is the minimum time between requests to one domain.
	// Default: 2 seconds.
	RequestDelay time.Duration

	// FailureThreshold is the consecutive-failure count that opens a
	// domain's breaker. Default: 5.
	FailureThreshold int

	// ResetWindow is how long an open breaker stays open before
	// auto-resetting on the next acquire. Default: 1 hour.
	ResetWindow time.Duration

	// OnStateChange is called when a domain's breaker transitions.
	// Called asynchronously to avoid blocking acquire paths.
	OnStateChange func(domain string, from, to State)
}

// DefaultConfig returns the production defaults (2s delay, 5 failures,
// 1 hour reset).
func DefaultConfig() Config {
	return Config{
		RequestDelay:     2 * time.Second,
		FailureThreshold: 5,
		ResetWindow:      time.Hour,
	}
}

// domainState holds the limiter and breaker for one hostname.
type domainState struct {
	limiter           *rate.Limiter
	consecutiveErrors int
	state             State
	brokenAt          time.Time
}

// DomainLimiter owns a concurrency-safe per-domain state map.
//
// # Description
//
// AcquireSlot blocks the caller until the domain's inter-request delay has
// elapsed, or fails fast with ErrCircuitOpen while the breaker is open.
// Different domains proceed independently; within one domain, requests are
// strictly spaced by the delay discipline.
//
// Construct one DomainLimiter and inject it into the scheduler and fetch
// layer. There is deliberately no package-level instance.
//
// # Thread Safety
//
// DomainLimiter is safe for concurrent use.
type DomainLimiter struct {
	config  Config
	domains map[string]*domainState
	mu      sync.Mutex

	// now is swappable for tests that simulate reset-window elapse.
	now func() time.Time
}

// New creates a DomainLimiter, applying defaults for zero config values.
func New(config Config) *DomainLimiter {
	if config.RequestDelay <= 0 {
		config.RequestDelay = 2 * time.Second
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetWindow <= 0 {
		config.ResetWindow = time.Hour
	}
	return &DomainLimiter{
		config:  config,
		domains: make(map[string]*domainState),
		now:     time.Now,
	}
}

// AcquireSlot blocks until a request to domain may proceed.
//
// # Description
//
// Checks the domain's breaker first: an open breaker fails fast with
// ErrCircuitOpen unless the reset window has elapsed, in which case the
// breaker auto-resets (closed, error counter zeroed) and the acquire
// continues. It then waits on the domain's rate limiter so that at least
// the configured delay separates consecutive requests.
//
// # Inputs
//
//   - ctx: cancels the wait; the limiter returns ctx.Err() on cancellation.
//   - domain: hostname key. Callers should pass url.Hostname() output.
//
// # Outputs
//
//   - error: nil when the slot is acquired, ErrCircuitOpen while broken,
//     or a context error.
func (dl *DomainLimiter) AcquireSlot(ctx context.Context, domain string) error {
	ds := dl.state(domain)

	dl.mu.Lock()
	if ds.state == StateOpen {
		if dl.now().Sub(ds.brokenAt) >= dl.config.ResetWindow {
			ds.consecutiveErrors = 0
			dl.transition(domain, ds, StateClosed)
		} else {
			dl.mu.Unlock()
			return fmt.Errorf("domain %s: %w", domain, ErrCircuitOpen)
		}
	}
	limiter := ds.limiter
	dl.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("acquire slot for %s: %w", domain, err)
	}
	return nil
}

// RecordSuccess resets the domain's consecutive-error counter.
func (dl *DomainLimiter) RecordSuccess(domain string) {
	ds := dl.state(domain)

	dl.mu.Lock()
	defer dl.mu.Unlock()
	ds.consecutiveErrors = 0
}

// RecordFailure increments the domain's consecutive-error counter and opens
// the breaker once the failure threshold is reached.
func (dl *DomainLimiter) RecordFailure(domain string) {
	ds := dl.state(domain)

	dl.mu.Lock()
	defer dl.mu.Unlock()

	ds.consecutiveErrors++
	if ds.state == StateClosed && ds.consecutiveErrors >= dl.config.FailureThreshold {
		ds.brokenAt = dl.now()
		dl.transition(domain, ds, StateOpen)
	}
}

// Failures returns the domain's current consecutive-error count.
func (dl *DomainLimiter) Failures(domain string) int {
	ds := dl.state(domain)

	dl.mu.Lock()
	defer dl.mu.Unlock()
	return ds.consecutiveErrors
}

// State returns the domain's current breaker state.
func (dl *DomainLimiter) State(domain string) State {
	ds := dl.state(domain)

	dl.mu.Lock()
	defer dl.mu.Unlock()
	return ds.state
}

// States returns a snapshot of every tracked domain's breaker state.
// Used by the status command and watchdog.
func (dl *DomainLimiter) States() map[string]State {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	result := make(map[string]State, len(dl.domains))
	for domain, ds := range dl.domains {
		result[domain] = ds.state
	}
	return result
}

// state returns the domain's state, creating it on first use.
func (dl *DomainLimiter) state(domain string) *domainState {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	ds, ok := dl.domains[domain]
	if !ok {
		ds = &domainState{
			// Burst 1: the first request is immediate, every later one
			// waits out the full delay.
			limiter: rate.NewLimiter(rate.Every(dl.config.RequestDelay), 1),
			state:   StateClosed,
		}
		dl.domains[domain] = ds
	}
	return ds
}

// transition changes a domain's breaker state. Caller must hold dl.mu.
func (dl *DomainLimiter) transition(domain string, ds *domainState, to State) {
	if ds.state == to {
		return
	}
	from := ds.state
	ds.state = to

	if dl.config.OnStateChange != nil {
		// Callback without the lock to prevent deadlocks.
		go dl.config.OnStateChange(domain, from, to)
	}
}
