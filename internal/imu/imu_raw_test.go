package imu

import (
	"math"
	"testing"
	"time"
)

func TestNewScale(t *testing.T) {
	tests := []struct {
		accel, gyro      byte
		wantLSBg, wantDS float64
		wantErr          bool
	}{
		{0, 0, 16384, 131.072, false},
		{1, 1, 8192, 65.536, false},
		{3, 3, 2048, 16.384, false},
		{4, 0, 0, 0, true},
		{0, 9, 0, 0, true},
	}
	for _, tt := range tests {
		s, err := NewScale(tt.accel, tt.gyro)
		if (err != nil) != tt.wantErr {
			t.Fatalf("NewScale(%d, %d) err = %v, wantErr %v", tt.accel, tt.gyro, err, tt.wantErr)
		}
		if tt.wantErr {
			continue
		}
		if s.AccelLSBPerG != tt.wantLSBg || math.Abs(s.GyroLSBPerDegS-tt.wantDS) > 1e-9 {
			t.Errorf("NewScale(%d, %d) = %+v", tt.accel, tt.gyro, s)
		}
	}
}

func TestRawToSample(t *testing.T) {
	s, err := NewScale(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	raw := IMURaw{Az: 16384, Gz: 131, Mx: 200}
	now := time.Unix(100, 0)

	got := raw.Sample(now, s)
	if got.Accel.Z != 1 {
		t.Errorf("accel z = %v g, want 1", got.Accel.Z)
	}
	wantGz := 131 / 131.072 * math.Pi / 180
	if math.Abs(got.Gyro.Z-wantGz) > 1e-12 {
		t.Errorf("gyro z = %v rad/s, want %v", got.Gyro.Z, wantGz)
	}
	if math.Abs(got.Mag.X-20) > 1e-12 {
		t.Errorf("mag x = %v µT, want 20", got.Mag.X)
	}
	if !got.T.Equal(now) || !got.HasAccel() || !got.HasMag() {
		t.Errorf("unexpected sample %+v", got)
	}

	if (IMURaw{Az: 100}).Sample(now, s).HasMag() {
		t.Error("zero mag counts must stay an absent reading")
	}
}
