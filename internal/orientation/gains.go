// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"
)

const (
	// DefaultSampleFreq is the nominal update rate in Hz.
	DefaultSampleFreq = 200.0

	// DefaultGyroMeasErrorDeg is the assumed gyroscope measurement error in °/s.
	DefaultGyroMeasErrorDeg = 4.0

	// DefaultGyroMeasDriftDeg is the assumed gyroscope drift in °/s/s.
	DefaultGyroMeasDriftDeg = 0.2

	deg = math.Pi / 180.0
)

// Gains holds the two filter gains.
//
//	Beta: proportional gain applied to the normalized gradient step.
//	Zeta: integral gain for the gyroscope bias estimate.
type Gains struct {
	Beta float64 `json:"beta"`
	Zeta float64 `json:"zeta"`
}

// GainsFromNoise derives Beta and Zeta from the expected gyroscope
// measurement error (rad/s) and drift (rad/s/s): √(3/4)·error, √(3/4)·drift.
func GainsFromNoise(measError, measDrift float64) Gains {
	k := math.Sqrt(3.0 / 4.0)
	return Gains{
		Beta: k * measError,
		Zeta: k * measDrift,
	}
}

// GainsFromNoiseDeg is GainsFromNoise with both arguments in degrees.
func GainsFromNoiseDeg(measErrorDeg, measDriftDeg float64) Gains {
	return GainsFromNoise(measErrorDeg*deg, measDriftDeg*deg)
}

func (g Gains) validate() error {
	if !finite(g.Beta) || g.Beta < 0 {
		return fmt.Errorf("beta must be finite and >= 0, got %v", g.Beta)
	}
	if !finite(g.Zeta) || g.Zeta < 0 {
		return fmt.Errorf("zeta must be finite and >= 0, got %v", g.Zeta)
	}
	return nil
}
