package sensors

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/imu"
	"github.com/relabs-tech/ahrs_computer/internal/orientation"
)

// ReplayHeader is the column layout of a replay file: seconds, gyro rad/s,
// accel and mag in any consistent unit.
var ReplayHeader = []string{"t", "gx", "gy", "gz", "ax", "ay", "az", "mx", "my", "mz"}

// ReplaySource plays back a recorded CSV file.
type ReplaySource struct {
	r        *csv.Reader
	closer   io.Closer
	realtime bool
	start    time.Time

	line     int
	prevT    float64
	havePrev bool
}

// OpenReplay opens a replay file from disk.
func OpenReplay(path string, realtime bool) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	src := NewReplaySource(f, realtime)
	src.closer = f
	return src, nil
}

// NewReplaySource reads CSV rows from r. A header row is optional.
func NewReplaySource(r io.Reader, realtime bool) *ReplaySource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(ReplayHeader)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return &ReplaySource{
		r:        cr,
		realtime: realtime,
		start:    time.Unix(0, 0).UTC(),
	}
}

// Next returns the next row. With realtime set it sleeps for the gap
// between consecutive timestamps.
func (s *ReplaySource) Next(ctx context.Context) (imu.Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return imu.Sample{}, err
		}

		rec, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			return imu.Sample{}, ErrEndOfReplay
		}
		s.line++
		if err != nil {
			return imu.Sample{}, fmt.Errorf("replay line %d: %w", s.line, err)
		}
		if s.line == 1 && strings.EqualFold(rec[0], ReplayHeader[0]) {
			continue
		}

		v, err := parseRow(rec)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("replay line %d: %w", s.line, err)
		}

		t := v[0]
		if s.havePrev && t <= s.prevT {
			return imu.Sample{}, fmt.Errorf("replay line %d: timestamp %v not after %v", s.line, t, s.prevT)
		}
		if s.realtime && s.havePrev {
			if err := sleep(ctx, time.Duration((t-s.prevT)*float64(time.Second))); err != nil {
				return imu.Sample{}, err
			}
		}
		s.prevT, s.havePrev = t, true

		return imu.Sample{
			T:     s.start.Add(time.Duration(t * float64(time.Second))),
			Gyro:  orientation.Vec3{X: v[1], Y: v[2], Z: v[3]},
			Accel: orientation.Vec3{X: v[4], Y: v[5], Z: v[6]},
			Mag:   orientation.Vec3{X: v[7], Y: v[8], Z: v[9]},
		}, nil
	}
}

func parseRow(rec []string) ([10]float64, error) {
	var v [10]float64
	for i, f := range rec {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return v, fmt.Errorf("column %s: %w", ReplayHeader[i], err)
		}
		v[i] = x
	}
	return v, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close closes the underlying file when the source was opened from disk.
func (s *ReplaySource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// FormatReplayRow renders a sample in replay column order, with t relative
// to start.
func FormatReplayRow(smp imu.Sample, start time.Time) []string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'g', -1, 64) }
	return []string{
		f(smp.T.Sub(start).Seconds()),
		f(smp.Gyro.X), f(smp.Gyro.Y), f(smp.Gyro.Z),
		f(smp.Accel.X), f(smp.Accel.Y), f(smp.Accel.Z),
		f(smp.Mag.X), f(smp.Mag.Y), f(smp.Mag.Z),
	}
}
