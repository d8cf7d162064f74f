// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package softfail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regulus-hq/regulus/pkg/logging"
)

// memorySink collects failure records for assertions.
type memorySink struct {
	mu      sync.Mutex
	records []FailureRecord
}

func (s *memorySink) RecordFailure(ctx context.Context, rec FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func quietRunner(sink FailureSink) *Runner {
	return NewRunner(logging.New(logging.Config{Quiet: true}), sink)
}

func TestRunSuccess(t *testing.T) {
	r := quietRunner(nil)

	res := Run(context.Background(), r, Op{Operation: "test.op"}, 0, func(ctx context.Context) (int, error) {
		return 42, nil
	})

	assert.True(t, res.OK)
	assert.Equal(t, 42, res.Value)
	assert.NoError(t, res.Err)
	assert.False(t, res.UsedFallback)
}

func TestRunFailureUsesFallbackAndRecords(t *testing.T) {
	sink := &memorySink{}
	r := quietRunner(sink)

	res := Run(context.Background(), r, Op{
		Operation:  "sentinel.scan",
		EntityType: "discovered_item",
		EntityID:   "it-5",
	}, -1, func(ctx context.Context) (int, error) {
		return 0, errors.New("fetch timeout")
	})

	assert.False(t, res.OK)
	assert.Equal(t, -1, res.Value)
	assert.True(t, res.UsedFallback)
	require.Error(t, res.Err)

	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, "sentinel.scan", rec.Operation)
	assert.Equal(t, "it-5", rec.EntityID)
	assert.Equal(t, "fetch timeout", rec.Error)
	assert.NotEmpty(t, rec.ID)
}

func TestRunRecoversPanic(t *testing.T) {
	r := quietRunner(nil)

	assert.NotPanics(t, func() {
		res := Run(context.Background(), r, Op{Operation: "test.panic"}, "", func(ctx context.Context) (string, error) {
			panic("boom")
		})
		assert.False(t, res.OK)
		assert.Contains(t, res.Err.Error(), "panic recovered")
	})
}

func TestBatchIsolatesOneBadItem(t *testing.T) {
	r := quietRunner(&memorySink{})

	items := make([]int, 10)
	for i := range items {
		items[i] = i + 1
	}

	out := Batch(context.Background(), r, items,
		func(item int) Op {
			return Op{Operation: "test.batch", EntityID: fmt.Sprintf("item-%d", item)}
		},
		0,
		func(ctx context.Context, item int) (int, error) {
			if item == 5 {
				return 0, errors.New("item 5 is poisoned")
			}
			return item * 2, nil
		},
	)

	assert.Equal(t, 9, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 10, out.Total)
	require.Len(t, out.Results, 10)
	assert.False(t, out.Results[4].OK)
	assert.True(t, out.Results[5].OK)
	assert.Equal(t, 12, out.Results[5].Value)
}

func TestBatchCancellationBetweenItems(t *testing.T) {
	r := quietRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())

	processed := 0
	out := Batch(ctx, r, []int{1, 2, 3, 4},
		func(item int) Op { return Op{Operation: "test.cancel"} },
		0,
		func(ctx context.Context, item int) (int, error) {
			processed++
			if item == 2 {
				cancel()
			}
			return item, nil
		},
	)

	assert.Equal(t, 2, processed, "items after cancellation must not run")
	assert.Equal(t, 4, out.Total)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 2, out.Failed)
	for _, res := range out.Results[2:] {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
}
