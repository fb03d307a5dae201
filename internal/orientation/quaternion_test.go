package orientation

import (
	"encoding/json"
	"math"
	"testing"
)

func TestPose(t *testing.T) {
	tests := []struct {
		name string
		q    Quaternion
		want Pose
	}{
		{"identity", Identity(), Pose{}},
		{"yaw 90", fromNumber(axisAngle(Vec3{Z: 1}, 90*deg)), Pose{Yaw: 90}},
		{"yaw -135", fromNumber(axisAngle(Vec3{Z: 1}, -135*deg)), Pose{Yaw: -135}},
		{"roll 30", fromNumber(axisAngle(Vec3{X: 1}, 30*deg)), Pose{Roll: 30}},
		{"pitch -45", fromNumber(axisAngle(Vec3{Y: 1}, -45*deg)), Pose{Pitch: -45}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.q.Pose()
			if !closeTo(got.Roll, tt.want.Roll, 1e-9) ||
				!closeTo(got.Pitch, tt.want.Pitch, 1e-9) ||
				!closeTo(got.Yaw, tt.want.Yaw, 1e-9) {
				t.Errorf("Pose() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPoseGimbalLockClamped(t *testing.T) {
	q := fromNumber(axisAngle(Vec3{Y: 1}, 90*deg))
	// Nudge past unit length so the pitch sine exceeds 1.
	q.W *= 1.0000001
	q.Y *= 1.0000001
	if p := q.Pose(); math.IsNaN(p.Pitch) || !closeTo(p.Pitch, 90, 1e-6) {
		t.Errorf("pitch = %v, want 90", p.Pitch)
	}
}

func TestHeading(t *testing.T) {
	tests := []struct {
		yaw, want float64
	}{
		{0, 0},
		{90, 90},
		{-90, 270},
		{-180, 180},
		{360, 0},
		{725, 5},
		{-1e-20, 0},
	}
	for _, tt := range tests {
		if got := (Pose{Yaw: tt.yaw}).Heading(); !closeTo(got, tt.want, 1e-9) {
			t.Errorf("Heading(yaw=%v) = %v, want %v", tt.yaw, got, tt.want)
		}
	}

	if got := (Pose{Yaw: 1e300}).Heading(); got < 0 || got >= 360 {
		t.Errorf("Heading(yaw=1e300) = %v, want [0, 360)", got)
	}
	for _, yaw := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if got := (Pose{Yaw: yaw}).Heading(); !math.IsNaN(got) {
			t.Errorf("Heading(yaw=%v) = %v, want NaN", yaw, got)
		}
	}
}

func TestRotateMatchesSensorFrame(t *testing.T) {
	truth := axisAngle(Vec3{X: 0.6, Z: 0.8}, 70*deg)
	world := Vec3{X: 0.3, Y: -0.4, Z: 0.5}

	body := sensorVec(truth, world)
	got := fromNumber(truth).Rotate(body)
	if !closeTo(got.X, world.X, 1e-12) || !closeTo(got.Y, world.Y, 1e-12) || !closeTo(got.Z, world.Z, 1e-12) {
		t.Errorf("Rotate(%+v) = %+v, want %+v", body, got, world)
	}
}

func TestAngleToIgnoresSign(t *testing.T) {
	q := fromNumber(axisAngle(Vec3{Y: 1}, 40*deg))
	neg := Quaternion{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	if a := q.AngleTo(neg); a > 1e-6 {
		t.Errorf("AngleTo(-q) = %v, want 0", a)
	}
	if a := q.AngleTo(Identity()); !closeTo(a, 40*deg, 1e-9) {
		t.Errorf("AngleTo(identity) = %v°, want 40°", a/deg)
	}
}

func TestGainsFromNoise(t *testing.T) {
	g := GainsFromNoiseDeg(DefaultGyroMeasErrorDeg, DefaultGyroMeasDriftDeg)
	if !closeTo(g.Beta, 0.0604600, 1e-6) {
		t.Errorf("beta = %.7f, want 0.0604600", g.Beta)
	}
	if !closeTo(g.Zeta, 0.0030230, 1e-6) {
		t.Errorf("zeta = %.7f, want 0.0030230", g.Zeta)
	}
	if d := DefaultConfig().Gains; d != g {
		t.Errorf("DefaultConfig gains = %+v, want %+v", d, g)
	}
}

func TestResultJSON(t *testing.T) {
	res := Result{Q: Identity(), Variant: VariantMag, Correction: CorrectionSkippedNoMag}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["variant"] != "mag" || m["correction"] != "skipped_no_mag" {
		t.Errorf("unexpected encoding %s", b)
	}

	var back Result
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != res {
		t.Errorf("decoded %+v, want %+v", back, res)
	}
}
