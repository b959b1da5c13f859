// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration estimates and applies a hard-iron offset and a per-axis
// soft-iron scale for a magnetometer, using the min/max method over a
// recording of the device being rotated through as many orientations as
// possible.
//
// Corrected axis = (raw - offset) / scale. The result is dimensionless, which
// is all the heading estimator needs.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/relabs-tech/inertial_compass/internal/heading"
)

const (
	SchemaVersion = 1

	// Minimum half range per axis (µT) for the fit to be used.
	minHalfRange = 1.0

	// Sphericity needs enough points to be meaningful.
	minSphericitySamples = 50

	// Confidence floor; zero is reserved for errors.
	confFloor = 0.05
)

var ErrNoSamples = errors.New("calibration: no magnetometer samples")

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type PhaseStats struct {
	Samples int      `json:"samples"`
	Min     Vec3     `json:"min"`
	Max     Vec3     `json:"max"`
	Notes   []string `json:"notes,omitempty"`
}

// MagCalibration is the on-disk calibration record.
type MagCalibration struct {
	SchemaVersion int    `json:"schema_version"`
	CalibrationAt string `json:"calibration_at"` // RFC3339
	Source        string `json:"source"`

	// CorrectedMagAxis = (raw - offset) / scale
	MagOffset Vec3 `json:"mag_offset"`
	MagScale  Vec3 `json:"mag_scale"`

	Confidence struct {
		Coverage   float64 `json:"coverage"`
		Sphericity float64 `json:"sphericity"`
		Overall    float64 `json:"overall"`
	} `json:"confidence"`

	MagStats PhaseStats `json:"mag_stats"`
}

// ComputeMag fits offset and scale to the samples. With too little rotation
// on some axis the offset is still returned, the scale is left at 1 and a
// note is added to the stats.
func ComputeMag(samples []heading.Vector3, source string, at time.Time) (*MagCalibration, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	minV := Vec3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	maxV := Vec3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, s := range samples {
		minV.X = math.Min(minV.X, s.X)
		minV.Y = math.Min(minV.Y, s.Y)
		minV.Z = math.Min(minV.Z, s.Z)
		maxV.X = math.Max(maxV.X, s.X)
		maxV.Y = math.Max(maxV.Y, s.Y)
		maxV.Z = math.Max(maxV.Z, s.Z)
	}

	c := &MagCalibration{
		SchemaVersion: SchemaVersion,
		CalibrationAt: at.Format(time.RFC3339),
		Source:        source,
		MagOffset: Vec3{
			X: (maxV.X + minV.X) / 2,
			Y: (maxV.Y + minV.Y) / 2,
			Z: (maxV.Z + minV.Z) / 2,
		},
		MagStats: PhaseStats{Samples: len(samples), Min: minV, Max: maxV},
	}
	halfRange := Vec3{
		X: (maxV.X - minV.X) / 2,
		Y: (maxV.Y - minV.Y) / 2,
		Z: (maxV.Z - minV.Z) / 2,
	}

	if halfRange.X < minHalfRange || halfRange.Y < minHalfRange || halfRange.Z < minHalfRange {
		c.MagStats.Notes = append(c.MagStats.Notes, "insufficient_mag_excitation: rotate more in 3D / move away from metal")
		c.MagScale = Vec3{X: 1, Y: 1, Z: 1}
		c.Confidence.Coverage = confFloor
		c.Confidence.Sphericity = confFloor
		c.Confidence.Overall = confFloor
		return c, nil
	}

	c.MagScale = halfRange
	c.Confidence.Coverage = coverageConfidence(halfRange)
	c.Confidence.Sphericity = sphericityConfidence(samples, c)
	c.Confidence.Overall = math.Max(clamp01(0.55*c.Confidence.Coverage+0.45*c.Confidence.Sphericity), confFloor)
	return c, nil
}

// Apply returns the corrected reading.
func (c *MagCalibration) Apply(v heading.Vector3) heading.Vector3 {
	return heading.Vector3{
		X: (v.X - c.MagOffset.X) / safeDiv(c.MagScale.X),
		Y: (v.Y - c.MagOffset.Y) / safeDiv(c.MagScale.Y),
		Z: (v.Z - c.MagOffset.Z) / safeDiv(c.MagScale.Z),
	}
}

// Save writes c as indented JSON.
func (c *MagCalibration) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	return nil
}

// Load reads a calibration written by Save.
func Load(path string) (*MagCalibration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	var c MagCalibration
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if c.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("calibration %s: unsupported schema_version %d", path, c.SchemaVersion)
	}
	if c.MagScale.X == 0 || c.MagScale.Y == 0 || c.MagScale.Z == 0 {
		return nil, fmt.Errorf("calibration %s: mag_scale has a zero axis", path)
	}
	return &c, nil
}

// coverageConfidence favours balanced excitation across axes.
func coverageConfidence(halfRange Vec3) float64 {
	m := (halfRange.X + halfRange.Y + halfRange.Z) / 3
	if m <= 0 {
		return confFloor
	}
	cv := std3(halfRange.X, halfRange.Y, halfRange.Z) / m
	return clamp01(1.0 - (cv / 0.7))
}

// sphericityConfidence checks that corrected norms are near-constant, which
// they are when the rotation covered the whole sphere.
func sphericityConfidence(samples []heading.Vector3, c *MagCalibration) float64 {
	if len(samples) < minSphericitySamples {
		return confFloor
	}
	norms := make([]float64, 0, len(samples))
	for _, s := range samples {
		v := c.Apply(s)
		norms = append(norms, math.Sqrt(v.X*v.X+v.Y*v.Y+v.Z*v.Z))
	}
	mean, sd := meanStd(norms)
	if mean <= 0 {
		return confFloor
	}
	// cv 0.05 -> 0.9, cv 0.15 -> 0.7, cv 0.35 -> 0.3
	return clamp01(1.0 - (sd/mean)/0.5)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func safeDiv(x float64) float64 {
	if math.Abs(x) < 1e-9 {
		if x >= 0 {
			return 1e-9
		}
		return -1e-9
	}
	return x
}

func meanStd(xs []float64) (mean float64, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, v := range xs {
		mean += v
	}
	mean /= float64(len(xs))
	var s float64
	for _, v := range xs {
		d := v - mean
		s += d * d
	}
	return mean, math.Sqrt(s / float64(len(xs)))
}

func std3(a, b, c float64) float64 {
	m := (a + b + c) / 3
	return math.Sqrt(((a-m)*(a-m) + (b-m)*(b-m) + (c-m)*(c-m)) / 3)
}
