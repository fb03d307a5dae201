package orientation

import "math"

// Pose is the Euler-angle view of an orientation, in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Heading returns Yaw mapped into [0, 360). A non-finite yaw gives NaN.
func (p Pose) Heading() float64 {
	h := math.Mod(p.Yaw, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		// tiny negative yaw rounds up to 360
		h = 0
	}
	return h
}
