package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/ahrs_computer/internal/config"
	"github.com/relabs-tech/ahrs_computer/internal/fusion"
	"github.com/relabs-tech/ahrs_computer/internal/orientation"
	"github.com/relabs-tech/ahrs_computer/internal/sensors"
	"github.com/relabs-tech/ahrs_computer/internal/sink"
)

func TestWebHandler(t *testing.T) {
	static := t.TempDir()
	if err := os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>ahrs</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}

	latest := &latestEstimate{}
	hub := sink.NewHub()
	defer hub.Close()
	srv := httptest.NewServer(newWebHandler(latest, hub, static))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/orientation")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status before first estimate = %d", resp.StatusCode)
	}

	latest.set(fusion.Estimate{Seq: 9, Heading: 12.5, Variant: orientation.VariantIMU})
	resp, err = http.Get(srv.URL + "/api/orientation")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got fusion.Estimate
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Seq != 9 || got.Heading != 12.5 || got.Variant != orientation.VariantIMU {
		t.Errorf("got %+v", got)
	}

	resp, err = http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("static status = %d", resp.StatusCode)
	}
}

func TestDecodeEstimate(t *testing.T) {
	e, err := decodeEstimate([]byte(`{"seq":3,"variant":"mag","correction":"skipped_no_mag"}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.Seq != 3 || e.Variant != orientation.VariantMag || !e.Correction.Skipped() {
		t.Errorf("got %+v", e)
	}
	if _, err := decodeEstimate([]byte(`{"variant":"kalman"}`)); err == nil {
		t.Error("expected error for unknown variant")
	}
}

func litPixels(img *image1bit.VerticalLSB) int {
	var n int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.BitAt(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestRenderEstimate(t *testing.T) {
	waiting := renderEstimate(fusion.Estimate{}, false)
	if waiting.Bounds() != image.Rect(0, 0, displayWidth, displayHeight) {
		t.Fatalf("bounds = %v", waiting.Bounds())
	}
	if litPixels(waiting) == 0 {
		t.Error("waiting screen is blank")
	}

	e := fusion.Estimate{
		Pose:    orientation.Pose{Roll: 1, Pitch: 2, Yaw: 3},
		Heading: 3,
		Variant: orientation.VariantAHRS,
	}
	a := renderEstimate(e, true)
	e.Heading = 183
	b := renderEstimate(e, true)
	if litPixels(a) == 0 || string(a.Pix) == string(b.Pix) {
		t.Error("heading change not reflected on screen")
	}
}

// writeReplay records n simulated samples in replay format.
func writeReplay(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	start := time.Unix(100, 0)
	src := sensors.NewSimSource(sensors.SimConfig{
		SampleFreq: 100,
		Rate:       orientation.Vec3{Z: 0.5},
		Bias:       orientation.Vec3{X: 0.01},
		DipDeg:     60,
		Start:      start,
	})
	w := csv.NewWriter(f)
	w.Write(sensors.ReplayHeader)
	for i := 0; i < n; i++ {
		smp, err := src.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		w.Write(sensors.FormatReplayRow(smp, start))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFuseReplayAndPlot(t *testing.T) {
	in := writeReplay(t, 500)
	cfg := config.Default()
	cfg.SampleFreqHz = 100

	est, stats, err := FuseReplay(context.Background(), cfg, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(est) != 500 || stats.Samples != 500 || stats.Rejected != 0 {
		t.Fatalf("got %d estimates, stats %+v", len(est), stats)
	}
	for i, e := range est {
		if e.Variant != orientation.VariantAHRS {
			t.Fatalf("estimate %d used %s", i, e.Variant)
		}
	}
	if dt := est[1].Dt; dt < 0.0099 || dt > 0.0101 {
		t.Errorf("dt = %v, want 0.01 from timestamps", dt)
	}

	out := filepath.Join(t.TempDir(), "attitude.png")
	if err := PlotEstimates(est, "attitude", out); err != nil {
		t.Fatal(err)
	}
	if err := PlotBias(est, "bias", filepath.Join(filepath.Dir(out), "bias.svg")); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"attitude.png", "bias.svg"} {
		fi, err := os.Stat(filepath.Join(filepath.Dir(out), name))
		if err != nil {
			t.Fatal(err)
		}
		if fi.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestFuseReplayMissingFile(t *testing.T) {
	if _, _, err := FuseReplay(context.Background(), config.Default(), filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("expected error")
	}
}
