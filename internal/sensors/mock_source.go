// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/inertial_compass/internal/heading"
)

// Source is anything that can provide sensor samples over time:
// the mock source or a CSV replay.
type Source interface {
	Next() (heading.Sample, error)
}

// Field strength and dip of the synthetic earth field, roughly central Europe.
const (
	mockFieldMicroTesla = 48.0
	mockDipDeg          = 64.0
	mockGravity         = 9.81
)

type mockSource struct {
	start   time.Time
	rate    float64 // deg/s
	clock   func() time.Time
	nextMag bool
}

// NewMockSource creates a mock sample source for a device lying almost flat
// whose heading grows by rateDegPerSec, starting at north. It
// alternates accelerometer and magnetometer samples and wobbles the tilt a
// little so the rotation matrix is exercised off-axis.
func NewMockSource(start time.Time, rateDegPerSec float64) Source {
	return &mockSource{start: start, rate: rateDegPerSec, clock: time.Now}
}

func (m *mockSource) Next() (heading.Sample, error) {
	now := m.clock()
	elapsed := now.Sub(m.start).Seconds()
	s := MockSampleAt(elapsed, m.rate, m.nextMag)
	s.TimestampMs = now.UnixMilli()
	m.nextMag = !m.nextMag
	return s, nil
}

// MockSampleAt returns what a device turning at rate would read elapsed
// seconds after starting north. The true heading is rate*elapsed.
func MockSampleAt(elapsed, rate float64, magnetometer bool) heading.Sample {
	roll := 5 * math.Sin(elapsed) * math.Pi / 180
	pitch := 4 * math.Cos(elapsed*0.7) * math.Pi / 180
	yaw := rate * elapsed * math.Pi / 180

	// World frame: X east, Y north, Z up.
	world := [3]float64{0, 0, mockGravity}
	kind := heading.Accelerometer
	if magnetometer {
		dip := mockDipDeg * math.Pi / 180
		world = [3]float64{0, mockFieldMicroTesla * math.Cos(dip), -mockFieldMicroTesla * math.Sin(dip)}
		kind = heading.Magnetometer
	}

	return heading.Sample{Kind: kind, Vector: worldToDevice(world, roll, pitch, yaw)}
}

// worldToDevice expresses a world vector in the frame of a device rotated by
// yaw about up, then pitch about device X, then roll about device Y. Yaw has
// the sign that makes the field read (B·sin yaw, B·cos yaw) in the
// horizontal plane, which is what the estimator reports as heading yaw.
func worldToDevice(w [3]float64, roll, pitch, yaw float64) heading.Vector3 {
	sy, cy := math.Sincos(yaw)
	x := cy*w[0] + sy*w[1]
	y := -sy*w[0] + cy*w[1]
	z := w[2]

	sp, cp := math.Sincos(pitch)
	y, z = cp*y+sp*z, -sp*y+cp*z

	sr, cr := math.Sincos(roll)
	x, z = cr*x-sr*z, sr*x+cr*z

	return heading.Vector3{X: x, Y: y, Z: z}
}
