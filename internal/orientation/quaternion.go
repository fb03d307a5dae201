// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import "math"

// Vec3 is a three-axis sensor vector (gyro rad/s, accel or mag in any unit).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IsZero reports whether all three components are exactly zero. The filter
// uses this as the "no reading" sentinel for accelerometer and magnetometer.
func (v Vec3) IsZero() bool {
	return v.X == 0 && v.Y == 0 && v.Z == 0
}

func (v Vec3) finite() bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

// Quaternion is the rotation of the sensor frame relative to the world frame.
// W is the scalar part (q0), X/Y/Z the vector part (q1..q3).
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity is the "no rotation" quaternion (1,0,0,0).
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// NormSquared returns q0²+q1²+q2²+q3².
func (q Quaternion) NormSquared() float64 {
	return q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
}

// Mul returns the Hamilton product q⊗p.
func (q Quaternion) Mul(p Quaternion) Quaternion {
	return Quaternion{
		W: q.W*p.W - q.X*p.X - q.Y*p.Y - q.Z*p.Z,
		X: q.W*p.X + q.X*p.W + q.Y*p.Z - q.Z*p.Y,
		Y: q.W*p.Y - q.X*p.Z + q.Y*p.W + q.Z*p.X,
		Z: q.W*p.Z + q.X*p.Y - q.Y*p.X + q.Z*p.W,
	}
}

// Conj returns the conjugate of q.
func (q Quaternion) Conj() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Rotate maps a sensor-frame vector into the world frame (q⊗v⊗q*).
func (q Quaternion) Rotate(v Vec3) Vec3 {
	r := q.Mul(Quaternion{X: v.X, Y: v.Y, Z: v.Z}).Mul(q.Conj())
	return Vec3{X: r.X, Y: r.Y, Z: r.Z}
}

// AngleTo returns the rotation angle in radians between q and p,
// treating q and -q as the same orientation.
func (q Quaternion) AngleTo(p Quaternion) float64 {
	d := math.Abs(q.W*p.W + q.X*p.X + q.Y*p.Y + q.Z*p.Z)
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// Valid reports whether q is finite and of unit length within tol.
func (q Quaternion) Valid(tol float64) bool {
	if !finite(q.W) || !finite(q.X) || !finite(q.Y) || !finite(q.Z) {
		return false
	}
	return math.Abs(q.NormSquared()-1) <= tol
}

// Pose converts q to roll/pitch/yaw in degrees (aerospace Z-Y-X sequence).
// Pitch is clamped at ±90° near gimbal lock.
func (q Quaternion) Pose() Pose {
	roll := math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))

	sp := 2 * (q.W*q.Y - q.Z*q.X)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch := math.Asin(sp)

	yaw := math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))

	return Pose{
		Roll:  roll * 180.0 / math.Pi,
		Pitch: pitch * 180.0 / math.Pi,
		Yaw:   yaw * 180.0 / math.Pi,
	}
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
