// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/relabs-tech/ahrs_computer/internal/imu"
	"github.com/relabs-tech/ahrs_computer/internal/orientation"
	"github.com/relabs-tech/ahrs_computer/internal/sensors"
)

// maxGapPeriods bounds the measured time step. Larger gaps (first sample,
// source stalls, replay jumps) fall back to the nominal period.
const maxGapPeriods = 10

// Options configures a Runner.
type Options struct {
	Filter orientation.Config

	// AccelStale is how long the accelerometer may be missing before the
	// runner switches to the magnetometer-only update. Until then a missing
	// accelerometer only skips the gravity correction.
	AccelStale time.Duration

	// LogEvery prints a summary line at this interval; 0 disables it.
	LogEvery time.Duration

	Metrics *Metrics // optional
}

// Stats counts what the runner has done so far.
type Stats struct {
	Samples    uint64
	Rejected   uint64
	ReadErrors uint64
	SinkErrors uint64
	Resets     uint64
	ByVariant  [3]uint64 // indexed by orientation.Variant
	Skipped    uint64    // updates whose correction was skipped
	Last       Estimate
}

// Runner pulls samples from a Source, picks the filter update that fits
// what the sample carries, and hands each estimate to a Sink.
//
// A Runner owns its filter and is driven from a single goroutine.
type Runner struct {
	src    sensors.Source
	sink   Sink
	opts   Options
	filter *orientation.Filter

	nominalDt float64
	prevT     time.Time
	lastAccel time.Time
	seq       uint64
	stats     Stats
}

// NewRunner builds the filter from opts.Filter. sink may be nil.
func NewRunner(src sensors.Source, sink Sink, opts Options) (*Runner, error) {
	f, err := orientation.NewFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("fusion: %w", err)
	}
	return &Runner{
		src:       src,
		sink:      sink,
		opts:      opts,
		filter:    f,
		nominalDt: 1 / f.SampleFreq(),
	}, nil
}

// Filter exposes the underlying filter, e.g. for SetGains. Not safe to use
// while Run is executing.
func (r *Runner) Filter() *orientation.Filter { return r.filter }

// Stats returns a copy of the counters.
func (r *Runner) Stats() Stats { return r.stats }

// Run fuses samples until ctx is done or the source reports
// sensors.ErrEndOfReplay, in which case it returns nil.
func (r *Runner) Run(ctx context.Context) error {
	var summary <-chan time.Time
	if r.opts.LogEvery > 0 {
		t := time.NewTicker(r.opts.LogEvery)
		defer t.Stop()
		summary = t.C
	}

	log.Printf("fusion: running at %s (beta=%.4f zeta=%.5f)",
		humanize.SI(r.filter.SampleFreq(), "Hz"), r.filter.Gains().Beta, r.filter.Gains().Zeta)

	for {
		smp, err := r.src.Next(ctx)
		switch {
		case errors.Is(err, sensors.ErrEndOfReplay):
			log.Printf("fusion: end of replay, %s", r.summary())
			return nil
		case ctx.Err() != nil:
			log.Printf("fusion: stopping, %s", r.summary())
			return ctx.Err()
		case err != nil:
			r.stats.ReadErrors++
			r.opts.Metrics.incReadErrors()
			log.Printf("fusion: source error: %v", err)
			continue
		}

		if _, err := r.Step(smp); err != nil {
			log.Printf("fusion: sample %d: %v", r.stats.Samples, err)
		}

		select {
		case <-summary:
			log.Printf("fusion: %s", r.summary())
		default:
		}
	}
}

// Step fuses one sample and publishes the estimate.
func (r *Runner) Step(smp imu.Sample) (Estimate, error) {
	r.stats.Samples++

	dt := r.timeStep(smp.T)
	res, err := r.update(smp, dt)
	if err != nil {
		r.stats.Rejected++
		r.opts.Metrics.incRejected()
		return Estimate{}, err
	}
	r.prevT = smp.T

	if !r.filter.Valid() {
		r.stats.Resets++
		r.opts.Metrics.incResets()
		log.Printf("fusion: invalid filter state %+v, resetting", r.filter.State())
		r.filter.Reset()
		res.Q = orientation.Identity()
		res.Bias = orientation.Vec3{}
	}

	r.seq++
	est := newEstimate(r.seq, smp, res, dt)
	r.stats.ByVariant[res.Variant]++
	if res.Correction.Skipped() {
		r.stats.Skipped++
	}
	r.stats.Last = est
	r.opts.Metrics.observe(est)

	if r.sink != nil {
		if err := r.sink.Publish(est); err != nil {
			r.stats.SinkErrors++
			r.opts.Metrics.incSinkErrors()
			return est, fmt.Errorf("publish: %w", err)
		}
	}
	return est, nil
}

// update picks the filter variant:
//
//	accel and mag          -> full AHRS update
//	no mag                 -> IMU update
//	mag, accel stale       -> magnetometer-only update
//	mag, accel just missed -> AHRS update, which skips the correction
func (r *Runner) update(smp imu.Sample, dt float64) (orientation.Result, error) {
	if smp.HasAccel() {
		r.lastAccel = smp.T
	}

	switch {
	case !smp.HasMag():
		return r.filter.UpdateIMUDt(smp.Gyro, smp.Accel, dt)
	case !smp.HasAccel() && r.accelStale(smp.T):
		return r.filter.UpdateMagDt(smp.Gyro, smp.Mag, dt)
	default:
		return r.filter.UpdateDt(smp.Gyro, smp.Accel, smp.Mag, dt)
	}
}

func (r *Runner) accelStale(now time.Time) bool {
	return r.lastAccel.IsZero() || now.Sub(r.lastAccel) > r.opts.AccelStale
}

// timeStep measures dt from sample timestamps when they are plausible.
func (r *Runner) timeStep(t time.Time) float64 {
	if r.prevT.IsZero() || t.IsZero() {
		return r.nominalDt
	}
	d := t.Sub(r.prevT).Seconds()
	if d <= 0 || d > maxGapPeriods*r.nominalDt {
		return r.nominalDt
	}
	return d
}

func (r *Runner) summary() string {
	s := r.stats
	return fmt.Sprintf("%s samples (ahrs %s, imu %s, mag %s), %s skipped, %s rejected, %s resets, heading %.1f°, bias (%.4f %.4f %.4f) rad/s",
		humanize.Comma(int64(s.Samples)),
		humanize.Comma(int64(s.ByVariant[orientation.VariantAHRS])),
		humanize.Comma(int64(s.ByVariant[orientation.VariantIMU])),
		humanize.Comma(int64(s.ByVariant[orientation.VariantMag])),
		humanize.Comma(int64(s.Skipped)),
		humanize.Comma(int64(s.Rejected)),
		humanize.Comma(int64(s.Resets)),
		s.Last.Heading,
		s.Last.Bias.X, s.Last.Bias.Y, s.Last.Bias.Z,
	)
}
