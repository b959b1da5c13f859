// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package nmeaout emits compass headings as NMEA 0183 HDM sentences so that
// chart plotters and autopilots can consume them over a serial line.
package nmeaout

import (
	"fmt"
	"io"
	"math"
	"sync"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/inertial_compass/internal/heading"
)

// DefaultTalker is the talker ID of a magnetic compass.
const DefaultTalker = "HC"

// FormatHDM renders h as "$<talker>HDM,<deg>,M*<checksum>".
func FormatHDM(talker string, h heading.Heading) string {
	deg := math.Round(h.Degrees()*10) / 10
	if deg >= 360 {
		deg = 0
	}
	body := fmt.Sprintf("%s%s,%.1f,M", talker, nmea.TypeHDM, deg)
	return fmt.Sprintf("$%s*%s", body, nmea.Checksum(body))
}

// Writer sends one HDM sentence per heading, CRLF terminated.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	talker string
}

// NewWriter wraps w, typically a serial port. An empty talker selects
// DefaultTalker.
func NewWriter(w io.Writer, talker string) *Writer {
	if talker == "" {
		talker = DefaultTalker
	}
	return &Writer{w: w, talker: talker}
}

func (w *Writer) WriteHeading(h heading.Heading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := io.WriteString(w.w, FormatHDM(w.talker, h)+"\r\n"); err != nil {
		return fmt.Errorf("nmea: write HDM: %w", err)
	}
	return nil
}
