// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultEpsilon is the smallest sine of the angle between gravity and the
// magnetic field for which a heading basis is still considered defined.
const DefaultEpsilon = 1e-4

// Pose is the canonical representation of orientation for your app.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// RotationMatrix builds the device-to-world rotation from a gravity
// reference (accelerometer) and a magnetic north reference (magnetometer).
//
// Rows of the result, in order:
//
//	east  = unit(geomagnetic × gravity)
//	north = up × east
//	up    = unit(gravity)
//
// The second return value is false when either vector has no length or is
// not finite, or when the two are parallel within eps (device near a magnetic
// pole, or lying so that the field points straight through it).
func RotationMatrix(gravity, geomagnetic r3.Vec, eps float64) (*r3.Mat, bool) {
	up, ok := unit(gravity)
	if !ok {
		return nil, false
	}
	m, ok := unit(geomagnetic)
	if !ok {
		return nil, false
	}

	// |m × up| is the sine of the angle between the two; NaN fails the test.
	east := r3.Cross(m, up)
	eNorm := r3.Norm(east)
	if !(eNorm >= eps) {
		return nil, false
	}

	east = r3.Scale(1/eNorm, east)
	north := r3.Cross(up, east)

	return r3.NewMat([]float64{
		east.X, east.Y, east.Z,
		north.X, north.Y, north.Z,
		up.X, up.Y, up.Z,
	}), true
}

// unit scales v to length 1. Components are first divided by the largest
// magnitude so that neither huge nor tiny finite readings overflow or
// underflow. It reports false for zero or non-finite vectors.
func unit(v r3.Vec) (r3.Vec, bool) {
	m := math.Max(math.Abs(v.X), math.Max(math.Abs(v.Y), math.Abs(v.Z)))
	if m == 0 || math.IsInf(m, 0) || math.IsNaN(m) {
		return r3.Vec{}, false
	}
	v = r3.Vec{X: v.X / m, Y: v.Y / m, Z: v.Z / m}
	n := r3.Norm(v)
	return r3.Vec{X: v.X / n, Y: v.Y / n, Z: v.Z / n}, true
}

// Azimuth returns the heading in radians encoded by a rotation matrix from
// RotationMatrix: 0 when the device Y axis points to magnetic north,
// +π/2 when it points east.
func Azimuth(r *r3.Mat) float64 {
	return math.Atan2(-r.At(0, 1), r.At(1, 1))
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// -1e-15 + 360 rounds to exactly 360; -0 reads as "-0" in CSV and JSON.
	if deg >= 360 || deg == 0 {
		return 0
	}
	return deg
}

// FromRotation decomposes a rotation matrix into roll, pitch and yaw in
// degrees. Yaw is the compass heading in [0, 360).
func FromRotation(r *r3.Mat) Pose {
	pitchRad := math.Asin(clamp(-r.At(2, 1), -1, 1))
	rollRad := math.Atan2(-r.At(2, 0), r.At(2, 2))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   NormalizeDegrees(Azimuth(r) * 180.0 / math.Pi),
	}
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is left at 0; use FromRotation when a magnetometer reading is available.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
