// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"math"
	"sync"
	"time"
)

// AnimationDuration is how long a compass face takes to turn to a new heading.
const AnimationDuration = 250 * time.Millisecond

// Update is one emitted heading as consumed by a compass face. The face shows
// Display and animates its needle graphic from RotateFromDeg to RotateToDeg
// over DurationMs. Rotation is the negated heading so the graphic keeps
// pointing at north while the device turns.
type Update struct {
	Heading       float64 `json:"heading" csv:"heading"`
	Display       string  `json:"display" csv:"display"`
	RotateFromDeg float64 `json:"rotate_from" csv:"rotate_from"`
	RotateToDeg   float64 `json:"rotate_to" csv:"rotate_to"`
	DurationMs    int64   `json:"duration_ms" csv:"duration_ms"`
	TimestampMs   int64   `json:"ts_ms" csv:"timestamp_ms"`
}

// Indicator remembers where the needle graphic was left so that each Update
// turns it the short way round.
type Indicator struct {
	mu       sync.Mutex
	duration time.Duration
	rotation float64
}

// NewIndicator returns an Indicator at rest pointing north. A non-positive
// duration selects AnimationDuration.
func NewIndicator(duration time.Duration) *Indicator {
	if duration <= 0 {
		duration = AnimationDuration
	}
	return &Indicator{duration: duration}
}

// Update moves the needle to h and describes the animation. A heading that
// is not finite is refused and the needle stays where it was.
func (in *Indicator) Update(h Heading, tsMs int64) (Update, bool) {
	deg := h.Degrees()
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return Update{}, false
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	from := in.rotation
	to := from + shortestDelta(from, -deg)
	in.rotation = to

	return Update{
		Heading:       deg,
		Display:       h.String(),
		RotateFromDeg: from,
		RotateToDeg:   to,
		DurationMs:    in.duration.Milliseconds(),
		TimestampMs:   tsMs,
	}, true
}

// Rotation is the needle angle after the last Update.
func (in *Indicator) Rotation() float64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.rotation
}

// shortestDelta returns the signed turn in (-180, 180] that takes angle from
// to an angle equivalent to target.
func shortestDelta(from, target float64) float64 {
	d := math.Mod(target-from, 360)
	switch {
	case d > 180:
		d -= 360
	case d <= -180:
		d += 360
	}
	return d
}
