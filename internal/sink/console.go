package sink

import (
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/fusion"
)

// Console prints one line per estimate, at most once per interval of
// estimate time.
type Console struct {
	w        io.Writer
	interval time.Duration
	last     time.Time
}

func NewConsole(w io.Writer, interval time.Duration) *Console {
	return &Console{w: w, interval: interval}
}

func (c *Console) Publish(e fusion.Estimate) error {
	if !c.last.IsZero() && e.T.Sub(c.last) < c.interval {
		return nil
	}
	c.last = e.T

	tag := e.Variant.String()
	if e.Correction.Skipped() {
		tag += "*"
	}
	_, err := fmt.Fprintf(c.w,
		"[AHRS] #%-7d ROLL=%7.2f  PITCH=%7.2f  YAW=%7.2f  HDG=%6.1f  bias=(%+.4f %+.4f %+.4f)  %s\n",
		e.Seq, e.Pose.Roll, e.Pose.Pitch, e.Pose.Yaw, e.Heading,
		e.Bias.X, e.Bias.Y, e.Bias.Z, tag,
	)
	return err
}

func (c *Console) Close() error { return nil }
