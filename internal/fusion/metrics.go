package fusion

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports runner counters and the latest attitude.
type Metrics struct {
	updates    *prometheus.CounterVec
	rejected   prometheus.Counter
	readErrors prometheus.Counter
	sinkErrors prometheus.Counter
	resets     prometheus.Counter
	attitude   *prometheus.GaugeVec
	bias       *prometheus.GaugeVec
	normError  prometheus.Gauge
	dt         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ahrs_updates_total",
				Help: "Filter updates by variant and correction outcome.",
			},
			[]string{"variant", "correction"},
		),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ahrs_rejected_samples_total",
			Help: "Samples the filter refused (non-finite input or time step).",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ahrs_source_errors_total",
			Help: "Errors returned by the sample source.",
		}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ahrs_sink_errors_total",
			Help: "Errors returned while publishing estimates.",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ahrs_filter_resets_total",
			Help: "Times the filter state was found invalid and reset.",
		}),
		attitude: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ahrs_attitude_degrees",
				Help: "Latest roll, pitch, yaw and heading.",
			},
			[]string{"angle"},
		),
		bias: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ahrs_gyro_bias_rad_per_second",
				Help: "Estimated gyroscope bias.",
			},
			[]string{"axis"},
		),
		normError: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ahrs_quaternion_norm_error",
			Help: "Absolute deviation of |q|² from 1 after the last update.",
		}),
		dt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ahrs_time_step_seconds",
			Help: "Time step used by the last update.",
		}),
	}

	reg.MustRegister(m.updates, m.rejected, m.readErrors, m.sinkErrors, m.resets,
		m.attitude, m.bias, m.normError, m.dt)
	return m
}

func (m *Metrics) observe(e Estimate) {
	if m == nil {
		return
	}
	m.updates.With(prometheus.Labels{
		"variant":    e.Variant.String(),
		"correction": e.Correction.String(),
	}).Inc()
	m.attitude.WithLabelValues("roll").Set(e.Pose.Roll)
	m.attitude.WithLabelValues("pitch").Set(e.Pose.Pitch)
	m.attitude.WithLabelValues("yaw").Set(e.Pose.Yaw)
	m.attitude.WithLabelValues("heading").Set(e.Heading)
	m.bias.WithLabelValues("x").Set(e.Bias.X)
	m.bias.WithLabelValues("y").Set(e.Bias.Y)
	m.bias.WithLabelValues("z").Set(e.Bias.Z)
	m.normError.Set(math.Abs(e.Q.NormSquared() - 1))
	m.dt.Set(e.Dt)
}

func (m *Metrics) incRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

func (m *Metrics) incReadErrors() {
	if m != nil {
		m.readErrors.Inc()
	}
}

func (m *Metrics) incSinkErrors() {
	if m != nil {
		m.sinkErrors.Inc()
	}
}

func (m *Metrics) incResets() {
	if m != nil {
		m.resets.Inc()
	}
}
