// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package softfail converts stage failures into recorded, non-propagating
// results so one bad document never halts a pipeline run.
//
// Callers receive an explicit Result value, never a panic or a raw error
// escaping the batch. Failures are logged with operation context and
// persisted through an injected FailureSink for later analysis.
package softfail

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/regulus-hq/regulus/pkg/logging"
)

// Op identifies the wrapped operation for logging and failure records.
type Op struct {
	// Operation names the stage, e.g. "sentinel.scan" or "rules.publish".
	Operation string

	// EntityType is the kind of entity being processed ("discovered_item",
	// "evidence", "rule").
	EntityType string

	// EntityID is the specific entity, when known.
	EntityID string
}

// Result is the outcome of one wrapped operation.
type Result[T any] struct {
	// OK is true when the operation completed without error.
	OK bool

	// Value is the operation's output, or the fallback on failure.
	Value T

	// Err is the recovered error. Nil when OK.
	Err error

	// UsedFallback is true when Value is the caller-supplied fallback.
	UsedFallback bool

	// Duration is wall time spent in the operation.
	Duration time.Duration
}

// FailureRecord is the durable trace of a soft failure.
type FailureRecord struct {
	ID         string        `json:"id"`
	Operation  string        `json:"operation"`
	EntityType string        `json:"entityType"`
	EntityID   string        `json:"entityId"`
	Error      string        `json:"error"`
	Duration   time.Duration `json:"duration"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// FailureSink persists failure records. Implementations must tolerate
// being called concurrently. A sink error is logged, never propagated;
// failure persistence is itself best-effort.
type FailureSink interface {
	RecordFailure(ctx context.Context, rec FailureRecord) error
}

// NopSink discards failure records. Useful for tests.
type NopSink struct{}

// RecordFailure discards the record.
func (NopSink) RecordFailure(ctx context.Context, rec FailureRecord) error { return nil }

var _ FailureSink = NopSink{}

// Runner executes operations with soft-failure isolation.
//
// # Thread Safety
//
// Runner is stateless apart from its injected dependencies and is safe
// for concurrent use.
type Runner struct {
	logger *logging.Logger
	sink   FailureSink
}

// NewRunner creates a Runner. A nil logger falls back to logging.Default;
// a nil sink falls back to NopSink.
func NewRunner(logger *logging.Logger, sink FailureSink) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Runner{logger: logger, sink: sink}
}

// Run executes fn with soft-failure isolation.
//
// # Description
//
// On success, returns {OK: true, Value: output}. On error or panic, logs
// the failure with operation context and duration, records it through the
// sink, and returns {OK: false, Value: fallback, UsedFallback: true}.
// The caller never sees a panic.
//
// # Inputs
//
//   - ctx: passed through to fn and the sink.
//   - op: operation context for logs and the failure record.
//   - fallback: value returned when fn fails.
//   - fn: the operation. May return an error or panic.
func Run[T any](ctx context.Context, r *Runner, op Op, fallback T, fn func(ctx context.Context) (T, error)) Result[T] {
	start := time.Now()

	value, err := runRecovered(ctx, fn)
	duration := time.Since(start)

	if err == nil {
		return Result[T]{OK: true, Value: value, Duration: duration}
	}

	r.logger.Error("operation failed, using fallback",
		"operation", op.Operation,
		"entity_type", op.EntityType,
		"entity_id", op.EntityID,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)

	rec := FailureRecord{
		ID:         uuid.NewString(),
		Operation:  op.Operation,
		EntityType: op.EntityType,
		EntityID:   op.EntityID,
		Error:      err.Error(),
		Duration:   duration,
		OccurredAt: time.Now().UTC(),
	}
	if sinkErr := r.sink.RecordFailure(ctx, rec); sinkErr != nil {
		r.logger.Warn("failure record not persisted",
			"operation", op.Operation,
			"error", sinkErr.Error(),
		)
	}

	return Result[T]{
		Value:        fallback,
		Err:          err,
		UsedFallback: true,
		Duration:     duration,
	}
}

// runRecovered invokes fn, converting panics to errors.
func runRecovered[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic recovered: %v", rec)
		}
	}()
	return fn(ctx)
}

// BatchResult aggregates per-item outcomes of a batch run.
type BatchResult[T any] struct {
	// Results holds one entry per input item, in input order.
	Results []Result[T]

	// Succeeded, Failed and Total satisfy Succeeded+Failed == Total.
	Succeeded int
	Failed    int
	Total     int
}

// Batch applies fn to every item with per-item soft-failure isolation.
//
// # Description
//
// One bad item never halts the rest. Cancellation is cooperative and
// checked between items, not mid-operation: once ctx is done, remaining
// items are marked failed with the context error so the aggregate counts
// still cover every input.
//
// # Inputs
//
//   - items: inputs, processed in order.
//   - opFor: derives the operation context for an item (entity id etc.).
//   - fallback: per-item fallback value.
//   - fn: the per-item operation.
func Batch[I any, T any](
	ctx context.Context,
	r *Runner,
	items []I,
	opFor func(item I) Op,
	fallback T,
	fn func(ctx context.Context, item I) (T, error),
) BatchResult[T] {
	out := BatchResult[T]{
		Results: make([]Result[T], 0, len(items)),
		Total:   len(items),
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			out.Results = append(out.Results, Result[T]{
				Value:        fallback,
				Err:          err,
				UsedFallback: true,
			})
			out.Failed++
			continue
		}

		res := Run(ctx, r, opFor(item), fallback, func(ctx context.Context) (T, error) {
			return fn(ctx, item)
		})
		out.Results = append(out.Results, res)
		if res.OK {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}

	return out
}
