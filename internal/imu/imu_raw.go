package imu

import (
	"fmt"
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/orientation"
)

// IMURaw represents a single raw IMU+mag sample in sensor counts.
type IMURaw struct {
	Source string `json:"source"` // device name, e.g. "mpu9250"

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer, 0.1 µT per count
	My int16 `json:"my"`
	Mz int16 `json:"mz"`
}

// Full-scale selectors as written to the MPU9250 configuration registers.
var (
	accelRangeG   = [...]int{2, 4, 8, 16}
	gyroRangeDegS = [...]int{250, 500, 1000, 2000}
)

// Scale converts raw counts to physical units for a given pair of
// full-scale settings.
type Scale struct {
	AccelLSBPerG   float64
	GyroLSBPerDegS float64
	MagMicroTesla  float64 // µT per count
}

// NewScale returns the conversion for accel range index 0..3 (±2..±16 g)
// and gyro range index 0..3 (±250..±2000 °/s).
func NewScale(accelRange, gyroRange byte) (Scale, error) {
	if int(accelRange) >= len(accelRangeG) {
		return Scale{}, fmt.Errorf("imu: accel range %d out of range 0-3", accelRange)
	}
	if int(gyroRange) >= len(gyroRangeDegS) {
		return Scale{}, fmt.Errorf("imu: gyro range %d out of range 0-3", gyroRange)
	}
	return Scale{
		AccelLSBPerG:   32768.0 / float64(accelRangeG[accelRange]),
		GyroLSBPerDegS: 32768.0 / float64(gyroRangeDegS[gyroRange]),
		MagMicroTesla:  0.1,
	}, nil
}

// AccelRangeG returns the ± full scale in g for a range index.
func AccelRangeG(idx byte) int { return accelRangeG[idx&3] }

// GyroRangeDegS returns the ± full scale in °/s for a range index.
func GyroRangeDegS(idx byte) int { return gyroRangeDegS[idx&3] }

// Sample converts r to physical units: gyro in rad/s, accel in g, mag in µT.
// A magnetometer reading of all zero counts stays exactly zero, which the
// filter treats as "no magnetometer".
func (r IMURaw) Sample(t time.Time, s Scale) Sample {
	gyro := func(c int16) float64 { return float64(c) / s.GyroLSBPerDegS * degToRad }
	accel := func(c int16) float64 { return float64(c) / s.AccelLSBPerG }
	mag := func(c int16) float64 { return float64(c) * s.MagMicroTesla }

	return Sample{
		T:     t,
		Gyro:  orientation.Vec3{X: gyro(r.Gx), Y: gyro(r.Gy), Z: gyro(r.Gz)},
		Accel: orientation.Vec3{X: accel(r.Ax), Y: accel(r.Ay), Z: accel(r.Az)},
		Mag:   orientation.Vec3{X: mag(r.Mx), Y: mag(r.My), Z: mag(r.Mz)},
	}
}
