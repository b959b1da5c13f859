// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
	"github.com/relabs-tech/inertial_compass/internal/sensors"
)

// RunMockConsole runs the estimator on the synthetic source and prints every
// update. No broker or hardware is needed.
func RunMockConsole(out io.Writer) error {
	cfg := config.Default()
	p := NewPipeline(cfg, SinkFunc(func(u heading.Update) error {
		_, err := fmt.Fprintln(out, formatUpdate(u))
		return err
	}))

	src := sensors.NewMockSource(time.Now(), cfg.MockTurnRateDegPerSec)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		s, err := src.Next()
		if err != nil {
			return err
		}
		p.Feed(s)
	}
	return nil
}

func formatUpdate(u heading.Update) string {
	return fmt.Sprintf("[HDG] %5s  rotate %8.2f -> %8.2f in %dms",
		u.Display, u.RotateFromDeg, u.RotateToDeg, u.DurationMs)
}
