// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"github.com/relabs-tech/inertial_compass/internal/heading"
)

// IMURaw represents a single raw IMU+mag sample as published on
// inertial/imu/<side>.
type IMURaw struct {
	Source string `json:"source"` // "left" or "right"

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer
	My int16 `json:"my"`
	Mz int16 `json:"mz"`
}

// AccelSample returns the accelerometer part of r. Raw counts are fine: the
// heading only depends on the direction of gravity.
func (r IMURaw) AccelSample(tsMs int64) heading.Sample {
	return heading.Sample{
		Kind:        heading.Accelerometer,
		Vector:      heading.Vector3{X: float64(r.Ax), Y: float64(r.Ay), Z: float64(r.Az)},
		TimestampMs: tsMs,
	}
}

// MagSample returns the magnetometer part of r. An all-zero reading means
// the AK8963 had no fresh data and is reported as not ok.
func (r IMURaw) MagSample(tsMs int64) (heading.Sample, bool) {
	if r.Mx == 0 && r.My == 0 && r.Mz == 0 {
		return heading.Sample{}, false
	}
	return heading.Sample{
		Kind:        heading.Magnetometer,
		Vector:      heading.Vector3{X: float64(r.Mx), Y: float64(r.My), Z: float64(r.Mz)},
		TimestampMs: tsMs,
	}, true
}

// MagRaw is the HMC5983 payload published on inertial/mag/hmc.
// mx,my,mz are in µT×10; norm is the magnitude in µT; time is RFC3339.
type MagRaw struct {
	Mx   int16   `json:"mx"`
	My   int16   `json:"my"`
	Mz   int16   `json:"mz"`
	Norm float64 `json:"norm"`
	Time string  `json:"time"`
}

// Sample converts m to a magnetometer sample in µT. The payload time only has
// second resolution, so the caller supplies the receive time instead.
func (m MagRaw) Sample(tsMs int64) heading.Sample {
	return heading.Sample{
		Kind:        heading.Magnetometer,
		Vector:      heading.Vector3{X: float64(m.Mx) / 10, Y: float64(m.My) / 10, Z: float64(m.Mz) / 10},
		TimestampMs: tsMs,
	}
}
