package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/fusion"
	"github.com/relabs-tech/ahrs_computer/internal/sensors"
)

// Recorder writes the raw samples behind each estimate in replay format,
// so a session can be fed back through the filter later.
type Recorder struct {
	w      *csv.Writer
	closer io.Closer
	start  time.Time
}

// NewRecorder writes the header immediately.
func NewRecorder(w io.Writer) (*Recorder, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(sensors.ReplayHeader); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	return &Recorder{w: cw}, nil
}

// CreateRecorder truncates path and records into it.
func CreateRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	r, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

func (r *Recorder) Publish(e fusion.Estimate) error {
	if r.start.IsZero() {
		r.start = e.Sample.T
	}
	if err := r.w.Write(sensors.FormatReplayRow(e.Sample, r.start)); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	return nil
}

// Close flushes buffered rows.
func (r *Recorder) Close() error {
	r.w.Flush()
	err := r.w.Error()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
