// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/relabs-tech/inertial_compass/internal/heading"
)

// SampleRecord is one row of a recorded sensor log:
//
//	timestamp_ms,sensor,x,y,z
//	1000,accel,0.12,-0.05,9.79
//	1004,mag,21.3,4.1,-43.9
type SampleRecord struct {
	TimestampMs int64   `csv:"timestamp_ms"`
	Sensor      string  `csv:"sensor"`
	X           float64 `csv:"x"`
	Y           float64 `csv:"y"`
	Z           float64 `csv:"z"`
}

type replaySource struct {
	samples []heading.Sample
	pos     int
}

// NewReplaySource reads a whole sample log from r. Next returns the rows in
// file order and io.EOF after the last one.
func NewReplaySource(r io.Reader) (Source, error) {
	var records []*SampleRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, fmt.Errorf("replay: parse csv: %w", err)
	}

	samples := make([]heading.Sample, 0, len(records))
	for i, rec := range records {
		kind, err := heading.ParseSensorKind(rec.Sensor)
		if err != nil {
			// Row 1 is the header.
			return nil, fmt.Errorf("replay: row %d: %w", i+2, err)
		}
		samples = append(samples, heading.Sample{
			Kind:        kind,
			Vector:      heading.Vector3{X: rec.X, Y: rec.Y, Z: rec.Z},
			TimestampMs: rec.TimestampMs,
		})
	}
	return &replaySource{samples: samples}, nil
}

func (s *replaySource) Next() (heading.Sample, error) {
	if s.pos >= len(s.samples) {
		return heading.Sample{}, io.EOF
	}
	sample := s.samples[s.pos]
	s.pos++
	return sample, nil
}

// WriteSamplesCSV records samples in the format NewReplaySource reads.
func WriteSamplesCSV(w io.Writer, samples []heading.Sample) error {
	records := make([]*SampleRecord, 0, len(samples))
	for _, s := range samples {
		records = append(records, &SampleRecord{
			TimestampMs: s.TimestampMs,
			Sensor:      s.Kind.String(),
			X:           s.Vector.X,
			Y:           s.Vector.Y,
			Z:           s.Vector.Z,
		})
	}
	return gocsv.Marshal(records, w)
}

// WriteUpdatesCSV writes emitted compass updates, one row each.
func WriteUpdatesCSV(w io.Writer, updates []heading.Update) error {
	records := make([]*heading.Update, 0, len(updates))
	for i := range updates {
		records = append(records, &updates[i])
	}
	return gocsv.Marshal(records, w)
}
