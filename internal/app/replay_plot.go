package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/relabs-tech/ahrs_computer/internal/config"
	"github.com/relabs-tech/ahrs_computer/internal/fusion"
	"github.com/relabs-tech/ahrs_computer/internal/sensors"
)

// collector keeps every estimate in memory.
type collector struct {
	est []fusion.Estimate
}

func (c *collector) Publish(e fusion.Estimate) error {
	c.est = append(c.est, e)
	return nil
}

func (c *collector) Close() error { return nil }

// FuseReplay runs a recorded session through a fresh filter as fast as
// possible and returns every estimate.
func FuseReplay(ctx context.Context, cfg *config.Config, path string) ([]fusion.Estimate, fusion.Stats, error) {
	src, err := sensors.OpenReplay(path, false)
	if err != nil {
		return nil, fusion.Stats{}, err
	}
	defer src.Close()

	c := &collector{}
	runner, err := fusion.NewRunner(src, c, fusion.Options{
		Filter:     cfg.FilterConfig(),
		AccelStale: cfg.AccelStale(),
	})
	if err != nil {
		return nil, fusion.Stats{}, err
	}
	if err := runner.Run(ctx); err != nil {
		return nil, runner.Stats(), err
	}
	return c.est, runner.Stats(), nil
}

// PlotEstimates draws roll, pitch and yaw against time. The image format
// follows the extension of path.
func PlotEstimates(est []fusion.Estimate, title, path string) error {
	roll, pitch, yaw := series(est), series(est), series(est)
	for i, e := range est {
		roll[i].Y, pitch[i].Y, yaw[i].Y = e.Pose.Roll, e.Pose.Pitch, e.Pose.Yaw
	}
	return savePlot(title, "degrees", path, "Roll", roll, "Pitch", pitch, "Yaw", yaw)
}

// PlotBias draws the estimated gyro bias in °/s against time.
func PlotBias(est []fusion.Estimate, title, path string) error {
	x, y, z := series(est), series(est), series(est)
	for i, e := range est {
		x[i].Y = e.Bias.X * 180 / math.Pi
		y[i].Y = e.Bias.Y * 180 / math.Pi
		z[i].Y = e.Bias.Z * 180 / math.Pi
	}
	return savePlot(title, "°/s", path, "X", x, "Y", y, "Z", z)
}

// series returns one point per estimate with X set to seconds since the
// first one.
func series(est []fusion.Estimate) plotter.XYs {
	pts := make(plotter.XYs, len(est))
	for i, e := range est {
		pts[i].X = e.T.Sub(est[0].T).Seconds()
	}
	return pts
}

func savePlot(title, yLabel, path string, lines ...interface{}) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "seconds"
	p.Y.Label.Text = yLabel

	if err := plotutil.AddLines(p, lines...); err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("plot: save %s: %w", path, err)
	}
	return nil
}

// RunReplayPlot fuses a recording and writes the attitude plot to out and
// the bias plot next to it.
func RunReplayPlot(ctx context.Context, in, out string) error {
	cfg := config.Get()

	est, stats, err := FuseReplay(ctx, cfg, in)
	if err != nil {
		return err
	}
	if len(est) == 0 {
		return fmt.Errorf("replay %s produced no estimates", in)
	}
	log.Printf("replay: fused %s samples (%s rejected)",
		humanize.Comma(int64(stats.Samples)), humanize.Comma(int64(stats.Rejected)))

	name := filepath.Base(in)
	if err := PlotEstimates(est, "Attitude: "+name, out); err != nil {
		return err
	}
	ext := filepath.Ext(out)
	biasOut := strings.TrimSuffix(out, ext) + "_bias" + ext
	if err := PlotBias(est, "Gyro bias: "+name, biasOut); err != nil {
		return err
	}
	log.Printf("replay: wrote %s and %s", out, biasOut)
	return nil
}
