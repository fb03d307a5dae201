// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/imu"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// MPU9250Config selects the SPI wiring and full-scale ranges.
type MPU9250Config struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte
	GyroRange  byte
	SampleFreq float64 // Hz

	// External HMC5983 on I2C. The periph driver does not expose the
	// AK8963, so without it samples carry no magnetometer.
	MagEnabled bool
	MagI2CBus  string
	Mag        HMC5983Opts
}

// magnetometer reports X, Y, Z in 0.1 µT counts.
type magnetometer interface {
	Sense() (x, y, z int16, err error)
}

// MPU9250Source reads accelerometer and gyroscope over SPI and, when
// configured, merges an HMC5983 reading into every sample.
type MPU9250Source struct {
	imu     *mpu9250.MPU9250
	scale   imu.Scale
	ticker  *time.Ticker
	mag     magnetometer
	magBus  i2c.BusCloser
	magErrs int
}

// NewMPU9250Source initializes the MPU9250, applies the ranges, runs the
// self-test and the on-chip calibration.
func NewMPU9250Source(cfg MPU9250Config) (*MPU9250Source, error) {
	scale, err := imu.NewScale(cfg.AccelRange, cfg.GyroRange)
	if err != nil {
		return nil, err
	}
	if cfg.SampleFreq <= 0 {
		return nil, fmt.Errorf("mpu9250: sample frequency must be > 0, got %v", cfg.SampleFreq)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("mpu9250: CS pin %q not found", cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: SPI transport (%s): %w", cfg.SPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("mpu9250: initialization: %w", err)
	}

	if err := dev.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set accel range: %w", err)
	}
	log.Printf("mpu9250: accelerometer range set to %d (±%dg)", cfg.AccelRange, imu.AccelRangeG(cfg.AccelRange))

	if err := dev.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("mpu9250: set gyro range: %w", err)
	}
	log.Printf("mpu9250: gyroscope range set to %d (±%d°/s)", cfg.GyroRange, imu.GyroRangeDegS(cfg.GyroRange))

	// Self-test
	testResult, err := dev.SelfTest()
	if err != nil {
		log.Printf("mpu9250: WARNING: self-test failed: %v", err)
	} else {
		log.Printf("mpu9250: self-test passed")
		log.Printf("  Accelerometer deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			testResult.AccelDeviation.X, testResult.AccelDeviation.Y, testResult.AccelDeviation.Z)
		log.Printf("  Gyroscope deviation: X: %.2f%%, Y: %.2f%%, Z: %.2f%%",
			testResult.GyroDeviation.X, testResult.GyroDeviation.Y, testResult.GyroDeviation.Z)
	}

	// Calibration
	if err := dev.Calibrate(); err != nil {
		log.Printf("mpu9250: WARNING: calibration failed: %v", err)
	} else {
		log.Printf("mpu9250: calibration complete")
	}

	s := &MPU9250Source{imu: dev, scale: scale}
	if cfg.MagEnabled {
		if err := s.openMag(cfg); err != nil {
			return nil, err
		}
	}

	period := time.Duration(float64(time.Second) / cfg.SampleFreq)
	if s.mag != nil {
		log.Printf("mpu9250: sampling every %v with hmc5983 (9-axis fusion)", period)
	} else {
		log.Printf("mpu9250: sampling every %v, no magnetometer (6-axis fusion)", period)
	}
	s.ticker = time.NewTicker(period)
	return s, nil
}

func (s *MPU9250Source) openMag(cfg MPU9250Config) error {
	bus, err := i2creg.Open(cfg.MagI2CBus)
	if err != nil {
		return fmt.Errorf("hmc5983: open I2C bus %q: %w", cfg.MagI2CBus, err)
	}
	m, err := NewHMC5983(bus, cfg.Mag)
	if err != nil {
		bus.Close()
		return err
	}
	if id, err := m.ID(); err != nil {
		log.Printf("hmc5983: WARNING: %v", err)
	} else {
		log.Printf("hmc5983: ID %q, gain code %d, %d Hz", id, cfg.Mag.GainCode, cfg.Mag.ODRHz)
	}
	s.mag, s.magBus = m, bus
	return nil
}

// Next waits for the next tick and returns one sample.
func (s *MPU9250Source) Next(ctx context.Context) (imu.Sample, error) {
	select {
	case <-ctx.Done():
		return imu.Sample{}, ctx.Err()
	case now := <-s.ticker.C:
		raw, err := s.ReadRaw()
		if err != nil {
			return imu.Sample{}, err
		}
		return s.sample(raw, now), nil
	}
}

// sample merges the magnetometer into raw and converts to physical units.
// A failed read leaves Mx..Mz zero so the sample carries no magnetometer.
func (s *MPU9250Source) sample(raw imu.IMURaw, now time.Time) imu.Sample {
	if s.mag != nil {
		mx, my, mz, err := s.mag.Sense()
		if err != nil {
			s.magErrs++
			if s.magErrs == 1 || s.magErrs%100 == 0 {
				log.Printf("mpu9250: magnetometer read failed (%d so far): %v", s.magErrs, err)
			}
		} else {
			raw.Mx, raw.My, raw.Mz = mx, my, mz
		}
	}
	return raw.Sample(now, s.scale)
}

// ReadRaw reads accelerometer and gyroscope counts.
func (s *MPU9250Source) ReadRaw() (imu.IMURaw, error) {
	// Read accelerometer
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250 accel X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250 accel Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250 accel Z: %w", err)
	}

	// Read gyroscope
	gx, err := s.imu.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250 gyro X: %w", err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250 gyro Y: %w", err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("mpu9250 gyro Z: %w", err)
	}

	return imu.IMURaw{
		Source: "mpu9250",
		Ax:     ax,
		Ay:     ay,
		Az:     az,
		Gx:     gx,
		Gy:     gy,
		Gz:     gz,
	}, nil
}

// Close stops the sample clock and releases the magnetometer bus.
func (s *MPU9250Source) Close() error {
	s.ticker.Stop()
	if s.magBus != nil {
		return s.magBus.Close()
	}
	return nil
}
