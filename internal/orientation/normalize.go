package orientation

import "math"

// invSqrt returns 1/sqrt(x). Valid only for x > 0; callers check for zero
// first so that Inf/NaN never reaches the filter state.
func invSqrt(x float64) float64 {
	return 1.0 / math.Sqrt(x)
}

// unit scales v to length one. v must not be the zero vector.
// Components are divided by the largest magnitude first so the squared
// norm cannot overflow or underflow for any finite input.
func unit(v Vec3) (float64, float64, float64) {
	m := math.Max(math.Abs(v.X), math.Max(math.Abs(v.Y), math.Abs(v.Z)))
	x, y, z := v.X/m, v.Y/m, v.Z/m
	r := invSqrt(x*x + y*y + z*z)
	return x * r, y * r, z * r
}

// normalizeStep scales the gradient s to unit length in place.
// Returns false when s is exactly zero, i.e. the estimate already agrees
// with the measured reference directions.
func normalizeStep(s *[4]float64) bool {
	n := s[0]*s[0] + s[1]*s[1] + s[2]*s[2] + s[3]*s[3]
	if n == 0 {
		return false
	}
	r := invSqrt(n)
	s[0] *= r
	s[1] *= r
	s[2] *= r
	s[3] *= r
	return true
}
