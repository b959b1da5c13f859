// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided magnetometer calibration: hard-iron offset + per-axis soft-iron
// scale by the min/max method.
//
// Run live (records from the magnetometer topic selected by HEADING_SOURCE):
//
//	go run ./cmd/calibration -config inertial_compass.txt
//
// or from a recorded sample log (same CSV as cmd/replay):
//
//	go run ./cmd/calibration -in figure8.csv
//
// Point MAG_CALIBRATION_FILE at the output to use it.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/relabs-tech/inertial_compass/internal/app"
	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
	"github.com/relabs-tech/inertial_compass/internal/sensors"
)

func main() {
	configPath := flag.String("config", "./inertial_compass.txt", "Path to configuration file")
	inPath := flag.String("in", "", "recorded sample log (CSV); records live over MQTT when empty")
	outPath := flag.String("out", "mag_calibration.json", "output JSON")
	maxDur := flag.Duration("duration", 60*time.Second, "maximum live recording time")
	flag.Parse()

	fmt.Println("=== Guided Magnetometer Calibration ===")

	var (
		samples []heading.Vector3
		source  string
		err     error
	)
	if *inPath != "" {
		samples, err = fromFile(*inPath)
		source = *inPath
	} else {
		if err := config.InitGlobal(*configPath); err != nil {
			fatal(fmt.Errorf("failed to load config from %s: %w", *configPath, err))
		}
		cfg := config.Get()
		source = cfg.HeadingSource

		fmt.Println("Slowly rotate the device through every orientation (figure-8s, roll it over, turn it around).")
		fmt.Println("Keep away from metal. Press ENTER when done.")

		stop := make(chan struct{})
		go func() {
			_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
			close(stop)
		}()
		samples, err = app.RecordMagSamples(cfg, stop, *maxDur)
	}
	if err != nil {
		fatal(err)
	}

	c, err := app.FitMagCalibration(samples, source, *outPath)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("\nConfidence: %.2f (coverage %.2f, sphericity %.2f)\n",
		c.Confidence.Overall, c.Confidence.Coverage, c.Confidence.Sphericity)
	fmt.Printf("Wrote: %s\n", *outPath)
}

func fromFile(path string) ([]heading.Vector3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := sensors.NewReplaySource(f)
	if err != nil {
		return nil, err
	}
	return app.CollectMagSamples(src)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
