package sensors

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/imu"
	"github.com/relabs-tech/ahrs_computer/internal/orientation"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestSimSourceYaw(t *testing.T) {
	bias := orientation.Vec3{X: 0.01}
	src := NewSimSource(SimConfig{
		SampleFreq: 200,
		Rate:       orientation.Vec3{Z: 90 * deg},
		Bias:       bias,
		DipDeg:     60,
	})
	defer src.Close()

	ctx := context.Background()
	var last imu.Sample
	for i := 0; i < 200; i++ {
		smp, err := src.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		last = smp
	}

	if yaw := src.Truth().Pose().Yaw; !near(yaw, 90, 1e-9) {
		t.Errorf("truth yaw = %v, want 90", yaw)
	}
	if !near(last.Gyro.Z, 90*deg, 1e-12) || !near(last.Gyro.X, bias.X, 1e-12) {
		t.Errorf("gyro = %+v", last.Gyro)
	}
	// Yaw leaves gravity on the z axis.
	if !near(last.Accel.Z, 1, 1e-12) || !near(last.Accel.X, 0, 1e-12) {
		t.Errorf("accel = %+v", last.Accel)
	}
	// After a quarter turn north lies along -y in the body frame.
	if !near(last.Mag.Y, -math.Cos(60*deg), 1e-9) || !near(last.Mag.Z, -math.Sin(60*deg), 1e-9) {
		t.Errorf("mag = %+v", last.Mag)
	}
	if got := last.T.Sub(time.Unix(0, 0)); got != time.Second {
		t.Errorf("sample time = %v, want 1s", got)
	}
}

func TestSimSourceDropouts(t *testing.T) {
	src := NewSimSource(SimConfig{SampleFreq: 100, AccelDropout: 1, MagDropout: 1})
	smp, err := src.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if smp.HasAccel() || smp.HasMag() {
		t.Errorf("expected both references dropped, got %+v", smp)
	}
}

func TestSimSourceHonoursContext(t *testing.T) {
	src := NewSimSource(SimConfig{SampleFreq: 1, Realtime: true})
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

const replayCSV = `t,gx,gy,gz,ax,ay,az,mx,my,mz
# resting, then one gyro spike
0.000,0,0,0,0,0,1,20,0,-35
0.005,0,0,0,0,0,1,20,0,-35
0.010, 0.5,0,0,0,0,1,0,0,0
`

func TestReplaySource(t *testing.T) {
	src := NewReplaySource(strings.NewReader(replayCSV), false)
	ctx := context.Background()

	var got []imu.Sample
	for {
		smp, err := src.Next(ctx)
		if errors.Is(err, ErrEndOfReplay) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, smp)
	}

	if len(got) != 3 {
		t.Fatalf("read %d samples, want 3", len(got))
	}
	if got[2].Gyro.X != 0.5 || got[2].HasMag() {
		t.Errorf("third sample = %+v", got[2])
	}
	if d := got[1].T.Sub(got[0].T); d != 5*time.Millisecond {
		t.Errorf("sample spacing = %v, want 5ms", d)
	}
	if got[0].Mag.Z != -35 {
		t.Errorf("first mag = %+v", got[0].Mag)
	}
}

func TestReplaySourceErrors(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"bad number", "0,0,0,x,0,0,1,0,0,0\n", "column gz"},
		{"short row", "0,0,0\n", "wrong number of fields"},
		{"time goes back", "1,0,0,0,0,0,1,0,0,0\n0.5,0,0,0,0,0,1,0,0,0\n", "not after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewReplaySource(strings.NewReader(tt.body), false)
			var err error
			for err == nil {
				_, err = src.Next(context.Background())
			}
			if errors.Is(err, ErrEndOfReplay) || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestReplayRoundTrip(t *testing.T) {
	sim := NewSimSource(SimConfig{SampleFreq: 50, Rate: orientation.Vec3{X: 0.3, Y: -0.2, Z: 0.1}, DipDeg: 45})
	start := time.Unix(0, 0)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ReplayHeader); err != nil {
		t.Fatal(err)
	}
	var want []imu.Sample
	for i := 0; i < 20; i++ {
		smp, err := sim.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, smp)
		if err := w.Write(FormatReplayRow(smp, start)); err != nil {
			t.Fatal(err)
		}
	}
	w.Flush()

	src := NewReplaySource(&buf, false)
	for i, w := range want {
		got, err := src.Next(context.Background())
		if err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
		if got.Gyro != w.Gyro || got.Accel != w.Accel || got.Mag != w.Mag {
			t.Fatalf("row %d: got %+v, want %+v", i, got, w)
		}
		if d := got.T.Sub(w.T); d > time.Microsecond || d < -time.Microsecond {
			t.Fatalf("row %d: time off by %v", i, d)
		}
	}
}
