// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sentinel

const (
	// velocityFloor and velocityCeil clamp the estimate so no item is ever
	// treated as perfectly frozen or perfectly volatile.
	velocityFloor = 0.01
	velocityCeil  = 0.99

	// warmupScans is how many scans must complete before the EWMA starts
	// reacting; with fewer observations the input frequency passes through.
	warmupScans = 3

	// changeWeight is the EWMA weight of a detected change (fast reaction);
	// decayWeight is the weight of a no-change observation (slow decay).
	changeWeight = 0.3
	decayWeight  = 0.1
)

// UpdateVelocity folds one scan observation into an item's change
// frequency.
//
// # Description
//
// During warm-up (scanCount < 3) the input frequency is returned
// unchanged; there is not enough history to react to. Afterwards the
// estimate is exponentially weighted: a change pulls it 30% of the way
// toward 1.0, a quiet scan pulls it 10% of the way toward 0.0. The result
// is clamped to [0.01, 0.99].
func UpdateVelocity(current float64, scanCount int, changed bool) float64 {
	if scanCount < warmupScans {
		return current
	}

	var next float64
	if changed {
		next = changeWeight*1.0 + (1-changeWeight)*current
	} else {
		next = decayWeight*0.0 + (1-decayWeight)*current
	}
	return clampVelocity(next)
}

// DescribeVelocity renders a frequency as an operator-facing label. Purely
// informational; scheduling never branches on it.
func DescribeVelocity(freq float64) string {
	switch {
	case freq >= 0.8:
		return "volatile"
	case freq >= 0.5:
		return "active"
	case freq >= 0.2:
		return "moderate"
	default:
		return "static"
	}
}

func clampVelocity(f float64) float64 {
	if f < velocityFloor {
		return velocityFloor
	}
	if f > velocityCeil {
		return velocityCeil
	}
	return f
}
