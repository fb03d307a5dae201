// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// HMC5983 register map.
const (
	hmcRegCRA  = 0x00
	hmcRegCRB  = 0x01
	hmcRegMode = 0x02
	hmcRegData = 0x03 // X MSB, X LSB, Z MSB, Z LSB, Y MSB, Y LSB
	hmcRegIDA  = 0x0A
)

// hmcOverflow is what an axis reads when the field exceeds the selected
// gain range.
const hmcOverflow = -4096

// HMC5983DefaultAddr is the fixed I2C address of the HMC5983/HMC5883L.
const HMC5983DefaultAddr = 0x1E

// LSB per gauss for gain codes 0..7 (datasheet typical values).
var (
	hmcGainXY = [...]float64{1370, 1090, 820, 660, 440, 390, 330, 230}
	hmcGainZ  = [...]float64{1330, 980, 660, 600, 400, 355, 295, 205}
)

// HMC5983Opts configures the magnetometer.
type HMC5983Opts struct {
	Addr       uint16 // 0 selects HMC5983DefaultAddr
	ODRHz      int    // 3, 7, 15, 30 or 75; anything else is 15
	AvgSamples int    // 1, 2, 4 or 8
	GainCode   int    // 0..7
	Continuous bool   // false selects single-measurement mode
}

// HMC5983 is a 3-axis magnetometer on I2C.
type HMC5983 struct {
	dev   i2c.Dev
	lsbXY float64
	lsbZ  float64
	buf   [6]byte
}

// NewHMC5983 configures averaging, output rate, gain and mode.
func NewHMC5983(bus i2c.Bus, opts HMC5983Opts) (*HMC5983, error) {
	if opts.GainCode < 0 || opts.GainCode >= len(hmcGainXY) {
		return nil, fmt.Errorf("hmc5983: gain code %d out of range 0-7", opts.GainCode)
	}
	addr := opts.Addr
	if addr == 0 {
		addr = HMC5983DefaultAddr
	}
	m := &HMC5983{
		dev:   i2c.Dev{Addr: addr, Bus: bus},
		lsbXY: hmcGainXY[opts.GainCode],
		lsbZ:  hmcGainZ[opts.GainCode],
	}

	var avg byte
	switch opts.AvgSamples {
	case 2:
		avg = 1
	case 4:
		avg = 2
	case 8:
		avg = 3
	}
	var odr byte
	switch opts.ODRHz {
	case 3:
		odr = 1
	case 7:
		odr = 2
	case 30:
		odr = 4
	case 75:
		odr = 6
	default:
		odr = 3 // 15 Hz
	}
	mode := byte(0x01)
	if opts.Continuous {
		mode = 0x00
	}

	for _, w := range [][2]byte{
		{hmcRegCRA, avg<<5 | odr<<2},
		{hmcRegCRB, byte(opts.GainCode) << 5},
		{hmcRegMode, mode},
	} {
		if err := m.dev.Tx(w[:], nil); err != nil {
			return nil, fmt.Errorf("hmc5983: write register 0x%02X: %w", w[0], err)
		}
	}
	time.Sleep(10 * time.Millisecond)
	return m, nil
}

// ID returns the identification bytes, "H43" on a genuine part.
func (m *HMC5983) ID() (string, error) {
	id := make([]byte, 3)
	if err := m.dev.Tx([]byte{hmcRegIDA}, id); err != nil {
		return "", fmt.Errorf("hmc5983: read ID: %w", err)
	}
	return string(id), nil
}

// SenseRaw returns X, Y, Z in counts. The device outputs X, Z, Y.
func (m *HMC5983) SenseRaw() (x, y, z int16, err error) {
	if err := m.dev.Tx([]byte{hmcRegData}, m.buf[:]); err != nil {
		return 0, 0, 0, fmt.Errorf("hmc5983: read data: %w", err)
	}
	x = int16(binary.BigEndian.Uint16(m.buf[0:2]))
	z = int16(binary.BigEndian.Uint16(m.buf[2:4]))
	y = int16(binary.BigEndian.Uint16(m.buf[4:6]))
	if x == hmcOverflow || y == hmcOverflow || z == hmcOverflow {
		return 0, 0, 0, fmt.Errorf("hmc5983: measurement overflow, lower the gain")
	}
	return x, y, z, nil
}

// Sense returns X, Y, Z in 0.1 µT counts, the unit of imu.IMURaw.Mx..Mz.
func (m *HMC5983) Sense() (x, y, z int16, err error) {
	rx, ry, rz, err := m.SenseRaw()
	if err != nil {
		return 0, 0, 0, err
	}
	// 1 gauss = 100 µT = 1000 counts of 0.1 µT
	conv := func(c int16, lsb float64) int16 { return int16(math.Round(float64(c) / lsb * 1000)) }
	return conv(rx, m.lsbXY), conv(ry, m.lsbXY), conv(rz, m.lsbZ), nil
}
