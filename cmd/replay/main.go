// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Replay runs a recorded sample log through the heading estimator offline.
//
// Run:
//
//	go run ./cmd/replay -in samples.csv -out headings.csv
//
// The input has the columns timestamp_ms,sensor,x,y,z with sensor "accel" or
// "mag". Output rows are the compass updates that would have been published.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/relabs-tech/inertial_compass/internal/app"
	"github.com/relabs-tech/inertial_compass/internal/config"
)

func main() {
	inPath := flag.String("in", "", "sample log (CSV)")
	outPath := flag.String("out", "", "output CSV (default stdout)")
	throttle := flag.Int("throttle", 250, "minimum milliseconds between headings")
	calib := flag.String("calibration", "", "mag calibration JSON from cmd/calibration")
	flag.Parse()

	if *inPath == "" {
		log.Fatal("-in is required")
	}

	in, err := os.Open(*inPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *inPath, err)
	}
	defer in.Close()

	out := os.Stdout
	if *outPath != "" {
		out, err = os.Create(*outPath)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *outPath, err)
		}
		defer out.Close()
	}

	cfg := config.Default()
	cfg.HeadingThrottleMs = *throttle
	cfg.MagCalibrationFile = *calib

	if err := app.RunReplay(cfg, in, out); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
