// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package heading fuses the latest accelerometer and magnetometer readings
// into a throttled compass heading.
package heading

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/inertial_compass/internal/orientation"
)

// DefaultThrottle is the minimum spacing between two emitted headings. It
// matches AnimationDuration so one indicator rotation finishes before the
// next one starts.
const DefaultThrottle = 250 * time.Millisecond

// Outcome tells why an Ingest call did or did not produce a heading.
type Outcome int

const (
	Emitted Outcome = iota
	Inactive
	Dropped
	InsufficientData
	Throttled
	DegenerateGeometry
)

var outcomeNames = [...]string{
	Emitted:            "emitted",
	Inactive:           "inactive",
	Dropped:            "dropped",
	InsufficientData:   "insufficient_data",
	Throttled:          "throttled",
	DegenerateGeometry: "degenerate_geometry",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Stats counts Ingest outcomes since the estimator was created.
type Stats struct {
	Emitted            uint64 `json:"emitted"`
	Inactive           uint64 `json:"inactive"`
	Dropped            uint64 `json:"dropped"`
	InsufficientData   uint64 `json:"insufficient_data"`
	Throttled          uint64 `json:"throttled"`
	DegenerateGeometry uint64 `json:"degenerate_geometry"`
}

func (s Stats) String() string {
	return fmt.Sprintf("emitted=%d throttled=%d waiting=%d degenerate=%d dropped=%d inactive=%d",
		s.Emitted, s.Throttled, s.InsufficientData, s.DegenerateGeometry, s.Dropped, s.Inactive)
}

func (s *Stats) count(o Outcome) {
	switch o {
	case Emitted:
		s.Emitted++
	case Inactive:
		s.Inactive++
	case Dropped:
		s.Dropped++
	case InsufficientData:
		s.InsufficientData++
	case Throttled:
		s.Throttled++
	case DegenerateGeometry:
		s.DegenerateGeometry++
	}
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithThrottle overrides DefaultThrottle. Zero disables rate limiting.
func WithThrottle(d time.Duration) Option {
	return func(e *Estimator) {
		if d >= 0 {
			e.throttleMs = d.Milliseconds()
		}
	}
}

// WithEpsilon overrides the parallel-vector tolerance used to reject
// degenerate geometry.
func WithEpsilon(eps float64) Option {
	return func(e *Estimator) {
		if eps > 0 {
			e.epsilon = eps
		}
	}
}

// Estimator holds the latest reading of each sensor and turns them into a
// heading at most once per throttle interval.
//
// All methods are safe for concurrent use; accelerometer and magnetometer
// samples may arrive from different goroutines.
type Estimator struct {
	throttleMs int64
	epsilon    float64

	mu             sync.Mutex
	active         bool
	lastAccel      Vector3
	lastMag        Vector3
	haveAccel      bool
	haveMag        bool
	emitted        bool
	lastEmitTimeMs int64
	current        Heading
	stats          Stats
}

// New returns an inactive Estimator. Call Activate before ingesting.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		throttleMs: DefaultThrottle.Milliseconds(),
		epsilon:    orientation.DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Activate starts a new session. Readings from a previous session are
// forgotten, and the next complete pair emits immediately.
func (e *Estimator) Activate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reset()
	e.active = true
}

// Deactivate makes the estimator inert until the next Activate. The caller
// should stop delivering samples; any that still arrive are ignored.
func (e *Estimator) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reset()
	e.active = false
}

func (e *Estimator) reset() {
	e.lastAccel = Vector3{}
	e.lastMag = Vector3{}
	e.haveAccel = false
	e.haveMag = false
	e.emitted = false
	e.lastEmitTimeMs = 0
}

// Ingest records s and returns a new heading when one is due. The second
// return value is false when the sample was ignored, when a reading of the
// other sensor is still missing, when the throttle interval has not elapsed,
// or when the two readings are too close to parallel to define north.
//
// The throttle compares |ts - last emission| with the interval, so a clock
// that steps back by more than the interval starts a new time base and
// emits, while a smaller step back is throttled.
func (e *Estimator) Ingest(s Sample) (Heading, bool) {
	h, o := e.IngestOutcome(s)
	return h, o == Emitted
}

// IngestOutcome is Ingest with the reason a heading was withheld.
func (e *Estimator) IngestOutcome(s Sample) (Heading, Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := e.ingest(s)
	e.stats.count(o)
	if o != Emitted {
		return 0, o
	}
	return e.current, o
}

func (e *Estimator) ingest(s Sample) Outcome {
	if !e.active {
		return Inactive
	}
	if !s.Vector.IsFinite() {
		return Dropped
	}

	switch s.Kind {
	case Accelerometer:
		e.lastAccel = s.Vector
		e.haveAccel = true
	case Magnetometer:
		e.lastMag = s.Vector
		e.haveMag = true
	default:
		return Dropped
	}

	if !e.haveAccel || !e.haveMag {
		return InsufficientData
	}

	if e.emitted && abs64(s.TimestampMs-e.lastEmitTimeMs) < e.throttleMs {
		return Throttled
	}

	r, ok := orientation.RotationMatrix(r3.Vec(e.lastAccel), r3.Vec(e.lastMag), e.epsilon)
	if !ok {
		return DegenerateGeometry
	}

	deg := orientation.NormalizeDegrees(orientation.Azimuth(r) * 180 / math.Pi)
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return DegenerateGeometry
	}

	e.lastEmitTimeMs = s.TimestampMs
	e.current = Heading(deg)
	e.emitted = true
	return Emitted
}

// Current returns the most recently emitted heading of this session.
func (e *Estimator) Current() (Heading, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.emitted
}

// Pose returns the full orientation of the latest readings, regardless of
// the throttle.
func (e *Estimator) Pose() (orientation.Pose, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active || !e.haveAccel || !e.haveMag {
		return orientation.Pose{}, false
	}
	r, ok := orientation.RotationMatrix(r3.Vec(e.lastAccel), r3.Vec(e.lastMag), e.epsilon)
	if !ok {
		return orientation.Pose{}, false
	}
	return orientation.FromRotation(r), true
}

// Tilt returns roll and pitch from the latest accelerometer reading alone.
// It is available before the first magnetometer sample arrives.
func (e *Estimator) Tilt() (orientation.Pose, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active || !e.haveAccel {
		return orientation.Pose{}, false
	}
	return orientation.ComputePoseFromAccel(e.lastAccel.X, e.lastAccel.Y, e.lastAccel.Z), true
}

// Stats returns a copy of the outcome counters.
func (e *Estimator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
