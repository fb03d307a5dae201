// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonFinite is returned when an input is NaN or ±Inf, or when an
	// update would have produced a non-finite quaternion. The filter state is
	// left untouched in both cases.
	ErrNonFinite = errors.New("orientation: non-finite value")

	// ErrTimeStep is returned for a time step that is not finite and > 0.
	ErrTimeStep = errors.New("orientation: time step must be finite and > 0")
)

// Config is the per-instance filter configuration.
type Config struct {
	SampleFreq float64 // Hz; the default time step is 1/SampleFreq
	Gains      Gains
}

// DefaultConfig returns 200 Hz with gains from 4°/s error and 0.2°/s/s drift.
func DefaultConfig() Config {
	return Config{
		SampleFreq: DefaultSampleFreq,
		Gains:      GainsFromNoiseDeg(DefaultGyroMeasErrorDeg, DefaultGyroMeasDriftDeg),
	}
}

// State is the mutable part of a Filter.
type State struct {
	Q    Quaternion `json:"q"`
	Bias Vec3       `json:"bias"` // estimated gyroscope bias, rad/s
}

// Result is returned by every update call.
type Result struct {
	Q          Quaternion `json:"q"`
	Bias       Vec3       `json:"bias"`
	Variant    Variant    `json:"variant"`   // update path that actually ran
	Delegated  bool       `json:"delegated"` // AHRS call handed over to the IMU path
	Correction Correction `json:"correction"`
}

// Filter is a Madgwick gradient-descent orientation filter.
//
// The three update methods are access paths into the same state: each call
// advances the estimate by exactly one time step. A Filter is not safe for
// concurrent use; callers serialize access.
type Filter struct {
	gains      Gains
	sampleFreq float64

	q    Quaternion
	bias Vec3
}

// NewFilter returns a filter at identity orientation with zero bias.
func NewFilter(cfg Config) (*Filter, error) {
	if !finite(cfg.SampleFreq) || cfg.SampleFreq <= 0 {
		return nil, fmt.Errorf("orientation: sample frequency must be > 0, got %v", cfg.SampleFreq)
	}
	if err := cfg.Gains.validate(); err != nil {
		return nil, fmt.Errorf("orientation: %w", err)
	}
	f := &Filter{
		gains:      cfg.Gains,
		sampleFreq: cfg.SampleFreq,
	}
	f.Reset()
	return f, nil
}

// Reset restores identity orientation and zero bias. Gains are kept.
func (f *Filter) Reset() {
	f.q = Identity()
	f.bias = Vec3{}
}

// State returns a copy of the current orientation and bias.
func (f *Filter) State() State {
	return State{Q: f.q, Bias: f.bias}
}

// SetState replaces the orientation and bias. The quaternion is normalized;
// a zero or non-finite quaternion, or a non-finite bias, is rejected.
func (f *Filter) SetState(s State) error {
	n := s.Q.NormSquared()
	if !finite(n) || n == 0 || !s.Bias.finite() {
		return ErrNonFinite
	}
	r := invSqrt(n)
	f.q = Quaternion{W: s.Q.W * r, X: s.Q.X * r, Y: s.Q.Y * r, Z: s.Q.Z * r}
	f.bias = s.Bias
	return nil
}

// Gains returns the current gains.
func (f *Filter) Gains() Gains { return f.gains }

// SetGains retunes the filter at run time.
func (f *Filter) SetGains(g Gains) error {
	if err := g.validate(); err != nil {
		return fmt.Errorf("orientation: %w", err)
	}
	f.gains = g
	return nil
}

// SampleFreq returns the configured update rate in Hz.
func (f *Filter) SampleFreq() float64 { return f.sampleFreq }

// Valid reports whether the state is finite with a unit quaternion.
func (f *Filter) Valid() bool {
	return f.q.Valid(1e-6) && f.bias.finite()
}

// Update runs the full AHRS update (gyro + accel + mag) with the default
// time step. gyro is in rad/s; accel and mag only contribute direction.
func (f *Filter) Update(gyro, accel, mag Vec3) (Result, error) {
	return f.UpdateDt(gyro, accel, mag, 1/f.sampleFreq)
}

// UpdateDt is Update with an explicit time step in seconds.
//
// A zero magnetometer hands the call to UpdateIMUDt. A zero accelerometer
// skips the correction and integrates the bias-compensated gyro only.
// This is the only path that moves the bias estimate.
func (f *Filter) UpdateDt(gyro, accel, mag Vec3, dt float64) (Result, error) {
	if err := checkInputs(dt, gyro, accel, mag); err != nil {
		return Result{}, err
	}

	if mag.IsZero() {
		res, err := f.UpdateIMUDt(gyro, accel, dt)
		res.Delegated = true
		return res, err
	}

	q := f.q
	bias := f.bias
	var qDot Quaternion
	corr := CorrectionSkippedNoAccel

	if !accel.IsZero() {
		ax, ay, az := unit(accel)
		mx, my, mz := unit(mag)

		var s [4]float64
		gravityStep(&s, q, ax, ay, az)
		magStep(&s, q, mx, my, mz)

		if normalizeStep(&s) {
			qDot = feedback(f.gains.Beta, s)

			e := gyroError(q, s)
			bias.X += e.X * dt * f.gains.Zeta
			bias.Y += e.Y * dt * f.gains.Zeta
			bias.Z += e.Z * dt * f.gains.Zeta
			corr = CorrectionApplied
		} else {
			corr = CorrectionZeroGradient
		}
	}

	if err := f.integrate(q, qDot, gyro, bias, dt); err != nil {
		return Result{}, err
	}
	return f.result(VariantAHRS, corr), nil
}

// UpdateIMU runs the 6-axis update (gyro + accel) with the default time step.
func (f *Filter) UpdateIMU(gyro, accel Vec3) (Result, error) {
	return f.UpdateIMUDt(gyro, accel, 1/f.sampleFreq)
}

// UpdateIMUDt is UpdateIMU with an explicit time step in seconds.
// Heading is unobservable without a magnetometer, so the bias estimate is
// applied but not updated.
func (f *Filter) UpdateIMUDt(gyro, accel Vec3, dt float64) (Result, error) {
	if err := checkInputs(dt, gyro, accel); err != nil {
		return Result{}, err
	}

	q := f.q
	var qDot Quaternion
	corr := CorrectionSkippedNoAccel

	if !accel.IsZero() {
		ax, ay, az := unit(accel)

		var s [4]float64
		gravityStep(&s, q, ax, ay, az)

		if normalizeStep(&s) {
			qDot = feedback(f.gains.Beta, s)
			corr = CorrectionApplied
		} else {
			corr = CorrectionZeroGradient
		}
	}

	if err := f.integrate(q, qDot, gyro, f.bias, dt); err != nil {
		return Result{}, err
	}
	return f.result(VariantIMU, corr), nil
}

// UpdateMag runs the magnetometer-only update (gyro + mag) with the
// default time step, for cycles where the accelerometer is stale or
// distrusted.
func (f *Filter) UpdateMag(gyro, mag Vec3) (Result, error) {
	return f.UpdateMagDt(gyro, mag, 1/f.sampleFreq)
}

// UpdateMagDt is UpdateMag with an explicit time step in seconds.
// The last bias estimate is applied but not updated. A zero magnetometer
// skips the correction instead of normalizing a zero vector.
func (f *Filter) UpdateMagDt(gyro, mag Vec3, dt float64) (Result, error) {
	if err := checkInputs(dt, gyro, mag); err != nil {
		return Result{}, err
	}

	q := f.q
	var qDot Quaternion
	corr := CorrectionSkippedNoMag

	if !mag.IsZero() {
		mx, my, mz := unit(mag)

		var s [4]float64
		magStep(&s, q, mx, my, mz)

		if normalizeStep(&s) {
			qDot = feedback(f.gains.Beta, s)
			corr = CorrectionApplied
		} else {
			corr = CorrectionZeroGradient
		}
	}

	if err := f.integrate(q, qDot, gyro, f.bias, dt); err != nil {
		return Result{}, err
	}
	return f.result(VariantMag, corr), nil
}

func (f *Filter) result(v Variant, c Correction) Result {
	return Result{
		Q:          f.q,
		Bias:       f.bias,
		Variant:    v,
		Correction: c,
	}
}

// integrate adds the gyro rate of change to qDot, steps q by dt and
// renormalizes. State (q and bias) is only committed when the new
// quaternion is finite.
func (f *Filter) integrate(q, qDot Quaternion, gyro, bias Vec3, dt float64) error {
	gx := gyro.X - bias.X
	gy := gyro.Y - bias.Y
	gz := gyro.Z - bias.Z

	// qDot = 0.5 * q ⊗ (0, gx, gy, gz) - beta * step
	qDot.W += 0.5 * (-q.X*gx - q.Y*gy - q.Z*gz)
	qDot.X += 0.5 * (q.W*gx + q.Y*gz - q.Z*gy)
	qDot.Y += 0.5 * (q.W*gy - q.X*gz + q.Z*gx)
	qDot.Z += 0.5 * (q.W*gz + q.X*gy - q.Y*gx)

	next := Quaternion{
		W: q.W + qDot.W*dt,
		X: q.X + qDot.X*dt,
		Y: q.Y + qDot.Y*dt,
		Z: q.Z + qDot.Z*dt,
	}

	n := next.NormSquared()
	if !finite(n) || n == 0 || !bias.finite() {
		return ErrNonFinite
	}
	r := invSqrt(n)
	next.W *= r
	next.X *= r
	next.Y *= r
	next.Z *= r

	f.q = next
	f.bias = bias
	return nil
}

// feedback returns -beta * s as a quaternion rate.
func feedback(beta float64, s [4]float64) Quaternion {
	return Quaternion{
		W: -beta * s[0],
		X: -beta * s[1],
		Y: -beta * s[2],
		Z: -beta * s[3],
	}
}

// gravityStep adds Jᵀf for the gravity residual: the direction of gravity
// predicted by q, minus the measured (unit) acceleration.
func gravityStep(s *[4]float64, q Quaternion, ax, ay, az float64) {
	q0, q1, q2, q3 := q.W, q.X, q.Y, q.Z

	fx := 2*(q1*q3-q0*q2) - ax
	fy := 2*(q0*q1+q2*q3) - ay
	fz := 1 - 2*(q1*q1+q2*q2) - az

	s[0] += -2*q2*fx + 2*q1*fy
	s[1] += 2*q3*fx + 2*q0*fy - 4*q1*fz
	s[2] += -2*q0*fx + 2*q3*fy - 4*q2*fz
	s[3] += 2*q1*fx + 2*q2*fy
}

// magStep adds Jᵀf for the magnetic residual. The Earth field reference is
// rebuilt every call from the measurement rotated into the world frame by
// q, keeping only its horizontal magnitude and vertical component, so no
// separate knowledge of the local declination or dip is needed.
func magStep(s *[4]float64, q Quaternion, mx, my, mz float64) {
	q0, q1, q2, q3 := q.W, q.X, q.Y, q.Z
	q0q0, q1q1, q2q2, q3q3 := q0*q0, q1*q1, q2*q2, q3*q3

	// h = q ⊗ m ⊗ q*
	hx := mx*(q0q0+q1q1-q2q2-q3q3) + 2*my*(q1*q2-q0*q3) + 2*mz*(q0*q2+q1*q3)
	hy := 2*mx*(q0*q3+q1*q2) + my*(q0q0-q1q1+q2q2-q3q3) + 2*mz*(q2*q3-q0*q1)
	hz := 2*mx*(q1*q3-q0*q2) + 2*my*(q0*q1+q2*q3) + mz*(q0q0-q1q1-q2q2+q3q3)

	_2bx := 2 * math.Sqrt(hx*hx+hy*hy)
	_2bz := 2 * hz
	_4bx := 2 * _2bx
	_4bz := 2 * _2bz

	fx := _2bx*(0.5-q2q2-q3q3) + _2bz*(q1*q3-q0*q2) - mx
	fy := _2bx*(q1*q2-q0*q3) + _2bz*(q0*q1+q2*q3) - my
	fz := _2bx*(q0*q2+q1*q3) + _2bz*(0.5-q1q1-q2q2) - mz

	s[0] += -_2bz*q2*fx + (-_2bx*q3+_2bz*q1)*fy + _2bx*q2*fz
	s[1] += _2bz*q3*fx + (_2bx*q2+_2bz*q0)*fy + (_2bx*q3-_4bz*q1)*fz
	s[2] += (-_4bx*q2-_2bz*q0)*fx + (_2bx*q1+_2bz*q3)*fy + (_2bx*q0-_4bz*q2)*fz
	s[3] += (-_4bx*q3+_2bz*q1)*fx + (-_2bx*q0+_2bz*q2)*fy + _2bx*q1*fz
}

// gyroError rotates the normalized step into a sensor-frame angular error,
// the vector part of 2·q*⊗s.
func gyroError(q Quaternion, s [4]float64) Vec3 {
	_2q0, _2q1, _2q2, _2q3 := 2*q.W, 2*q.X, 2*q.Y, 2*q.Z
	return Vec3{
		X: _2q0*s[1] - _2q1*s[0] - _2q2*s[3] + _2q3*s[2],
		Y: _2q0*s[2] + _2q1*s[3] - _2q2*s[0] - _2q3*s[1],
		Z: _2q0*s[3] - _2q1*s[2] + _2q2*s[1] - _2q3*s[0],
	}
}

func checkInputs(dt float64, vs ...Vec3) error {
	if !finite(dt) || dt <= 0 {
		return ErrTimeStep
	}
	for _, v := range vs {
		if !v.finite() {
			return ErrNonFinite
		}
	}
	return nil
}
