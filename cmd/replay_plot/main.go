// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// replay_plot runs a recorded session through the filter offline and
// plots the resulting attitude and gyro bias.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/relabs-tech/ahrs_computer/internal/app"
	"github.com/relabs-tech/ahrs_computer/internal/config"
)

func main() {
	configPath := flag.String("config", "./inertial_config.txt", "path to configuration file")
	in := flag.String("in", "", "replay CSV to fuse (as written by RECORD_FILE)")
	out := flag.String("out", "attitude.png", "output image; the bias plot gets a _bias suffix")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.RunReplayPlot(ctx, *in, *out); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
