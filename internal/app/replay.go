// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
	"github.com/relabs-tech/inertial_compass/internal/sensors"
)

// RunReplay feeds a recorded sample log through the estimator using the
// throttle, animation and mag calibration settings of cfg and writes the emitted updates to
// out as CSV.
func RunReplay(cfg *config.Config, in io.Reader, out io.Writer) error {
	src, err := sensors.NewReplaySource(in)
	if err != nil {
		return err
	}

	var updates []heading.Update
	p := NewPipeline(cfg, SinkFunc(func(u heading.Update) error {
		updates = append(updates, u)
		return nil
	}))
	if err := p.LoadMagCalibration(cfg); err != nil {
		return err
	}

	for {
		s, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		p.Feed(s)
	}

	log.Printf("replay: %d updates | %s", len(updates), p.Estimator.Stats())
	return sensors.WriteUpdatesCSV(out, updates)
}
