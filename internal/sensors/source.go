// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"

	"github.com/relabs-tech/ahrs_computer/internal/config"
	"github.com/relabs-tech/ahrs_computer/internal/imu"
)

// ErrEndOfReplay is returned by Next once a finite source is exhausted.
var ErrEndOfReplay = errors.New("sensors: end of replay")

// Source produces IMU samples in physical units, one per Next call.
// Live sources pace themselves at their configured rate; Next blocks until
// the next sample is due or ctx is done.
type Source interface {
	Next(ctx context.Context) (imu.Sample, error)
	Close() error
}

// Open builds the source selected by cfg.Source.
func Open(cfg *config.Config) (Source, error) {
	switch cfg.Source {
	case config.SourceMPU9250:
		return NewMPU9250Source(MPU9250Config{
			SPIDevice:  cfg.IMUSPIDevice,
			CSPin:      cfg.IMUCSPin,
			AccelRange: cfg.IMUAccelRange,
			GyroRange:  cfg.IMUGyroRange,
			SampleFreq: cfg.SampleFreqHz,
			MagEnabled: cfg.HMCEnabled,
			MagI2CBus:  cfg.HMCI2CBus,
			Mag: HMC5983Opts{
				Addr:       cfg.HMCI2CAddr,
				ODRHz:      cfg.HMCODRHz,
				AvgSamples: cfg.HMCAvgSamples,
				GainCode:   cfg.HMCGainCode,
				Continuous: cfg.HMCMode == "continuous",
			},
		})
	case config.SourceSim:
		sc := SimConfigFrom(cfg)
		sc.Realtime = true
		return NewSimSource(sc), nil
	case config.SourceReplay:
		return OpenReplay(cfg.ReplayFile, cfg.ReplayRealtime)
	default:
		return nil, fmt.Errorf("sensors: unknown source %q", cfg.Source)
	}
}
