package orientation

import "fmt"

// Variant identifies which update path produced a Result.
type Variant int

const (
	VariantAHRS Variant = iota // gyro + accel + mag
	VariantIMU                 // gyro + accel
	VariantMag                 // gyro + mag
)

var variantNames = [...]string{"ahrs", "imu", "mag"}

func (v Variant) String() string {
	if v < 0 || int(v) >= len(variantNames) {
		return fmt.Sprintf("variant(%d)", int(v))
	}
	return variantNames[v]
}

func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Variant) UnmarshalText(b []byte) error {
	for i, n := range variantNames {
		if n == string(b) {
			*v = Variant(i)
			return nil
		}
	}
	return fmt.Errorf("unknown variant %q", b)
}

// Correction reports what happened to the gradient-descent correction
// during an update.
type Correction int

const (
	// CorrectionApplied: the normalized gradient step was applied.
	CorrectionApplied Correction = iota
	// CorrectionSkippedNoAccel: accelerometer was exactly zero; gyro only.
	CorrectionSkippedNoAccel
	// CorrectionSkippedNoMag: magnetometer was exactly zero on the
	// magnetometer-only path; gyro only.
	CorrectionSkippedNoMag
	// CorrectionZeroGradient: the estimate already matched the measured
	// references exactly, so there was nothing to correct.
	CorrectionZeroGradient
)

var correctionNames = [...]string{"applied", "skipped_no_accel", "skipped_no_mag", "zero_gradient"}

func (c Correction) String() string {
	if c < 0 || int(c) >= len(correctionNames) {
		return fmt.Sprintf("correction(%d)", int(c))
	}
	return correctionNames[c]
}

func (c Correction) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Correction) UnmarshalText(b []byte) error {
	for i, n := range correctionNames {
		if n == string(b) {
			*c = Correction(i)
			return nil
		}
	}
	return fmt.Errorf("unknown correction %q", b)
}

// Skipped reports whether the correction did not run because a reference
// vector was missing.
func (c Correction) Skipped() bool {
	return c == CorrectionSkippedNoAccel || c == CorrectionSkippedNoMag
}
