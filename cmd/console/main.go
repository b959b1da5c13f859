// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"
	"os"

	"github.com/relabs-tech/inertial_compass/internal/app"
)

func main() {
	log.Println("starting inertial-compass mock console (no broker, synthetic sensors)")

	if err := app.RunMockConsole(os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
