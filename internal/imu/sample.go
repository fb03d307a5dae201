package imu

import (
	"math"
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/orientation"
)

const degToRad = math.Pi / 180.0

// Sample is one fused-ready reading in physical units.
//
// Accel or Mag exactly zero means "not available this cycle".
type Sample struct {
	T     time.Time        `json:"t"`
	Gyro  orientation.Vec3 `json:"gyro"`  // rad/s
	Accel orientation.Vec3 `json:"accel"` // g (direction only matters)
	Mag   orientation.Vec3 `json:"mag"`   // µT (direction only matters)
}

// HasAccel reports whether the accelerometer produced a reading.
func (s Sample) HasAccel() bool { return !s.Accel.IsZero() }

// HasMag reports whether the magnetometer produced a reading.
func (s Sample) HasMag() bool { return !s.Mag.IsZero() }
