// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package heading

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vector3 is a 3-axis reading in the device frame: acceleration including
// gravity, or magnetic field strength.
type Vector3 r3.Vec

// IsFinite reports whether no component is NaN or ±Inf.
func (v Vector3) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// SensorKind tags the origin of a Sample.
type SensorKind int

const (
	Accelerometer SensorKind = iota + 1
	Magnetometer
)

func (k SensorKind) String() string {
	switch k {
	case Accelerometer:
		return "accel"
	case Magnetometer:
		return "mag"
	default:
		return fmt.Sprintf("SensorKind(%d)", int(k))
	}
}

// ParseSensorKind accepts the names produced by SensorKind.String.
func ParseSensorKind(s string) (SensorKind, error) {
	switch s {
	case "accel", "accelerometer":
		return Accelerometer, nil
	case "mag", "magnetometer":
		return Magnetometer, nil
	}
	return 0, fmt.Errorf("unknown sensor kind %q", s)
}

// Sample is a single timestamped reading from one sensor.
type Sample struct {
	Kind        SensorKind
	Vector      Vector3
	TimestampMs int64
}

// Heading is a magnetic azimuth in degrees, clockwise from north, in [0, 360).
type Heading float64

func (h Heading) Degrees() float64 { return float64(h) }

// String renders the heading the way the compass face shows it: the
// integer-truncated value followed by a degree sign.
func (h Heading) String() string {
	return fmt.Sprintf("%d°", int(h))
}
