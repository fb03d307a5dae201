package sensors

import (
	"context"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/ahrs_computer/internal/config"
	"github.com/relabs-tech/ahrs_computer/internal/imu"
	"github.com/relabs-tech/ahrs_computer/internal/orientation"
)

const deg = math.Pi / 180

// SimConfig describes a rigid body turning at a constant body rate.
type SimConfig struct {
	SampleFreq   float64          // Hz
	Rate         orientation.Vec3 // rad/s, body frame
	Bias         orientation.Vec3 // rad/s added to every gyro reading
	DipDeg       float64          // magnetic inclination, positive down
	Noise        float64          // gaussian sigma on every axis of every sensor
	AccelDropout float64          // probability of a zero accelerometer reading
	MagDropout   float64          // probability of a zero magnetometer reading
	Seed         int64
	Start        time.Time
	Realtime     bool // pace Next at SampleFreq
}

// SimConfigFrom maps the SIM_* config keys.
func SimConfigFrom(cfg *config.Config) SimConfig {
	return SimConfig{
		SampleFreq: cfg.SampleFreqHz,
		Rate: orientation.Vec3{
			X: cfg.SimRateDeg.X * deg, Y: cfg.SimRateDeg.Y * deg, Z: cfg.SimRateDeg.Z * deg,
		},
		Bias: orientation.Vec3{
			X: cfg.SimBiasDeg.X * deg, Y: cfg.SimBiasDeg.Y * deg, Z: cfg.SimBiasDeg.Z * deg,
		},
		DipDeg:       cfg.SimDipDeg,
		Noise:        cfg.SimNoise,
		AccelDropout: cfg.SimAccelDropout,
		MagDropout:   cfg.SimMagDropout,
		Seed:         cfg.SimSeed,
		Start:        time.Now(),
	}
}

// SimSource synthesizes gyro, accel and mag readings from a known
// orientation so estimates can be checked against Truth.
type SimSource struct {
	cfg   SimConfig
	dt    float64
	step  quat.Number // body-frame increment per sample
	truth quat.Number
	field orientation.Vec3
	rng   *rand.Rand
	n     int64

	ticker *time.Ticker
}

// NewSimSource starts at identity orientation.
func NewSimSource(cfg SimConfig) *SimSource {
	if cfg.SampleFreq <= 0 {
		cfg.SampleFreq = orientation.DefaultSampleFreq
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Unix(0, 0)
	}
	dt := 1 / cfg.SampleFreq
	dip := cfg.DipDeg * deg

	s := &SimSource{
		cfg:   cfg,
		dt:    dt,
		step:  quat.Exp(quat.Scale(dt/2, quat.Number{Imag: cfg.Rate.X, Jmag: cfg.Rate.Y, Kmag: cfg.Rate.Z})),
		truth: quat.Number{Real: 1},
		field: orientation.Vec3{X: math.Cos(dip), Z: -math.Sin(dip)},
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	if cfg.Realtime {
		s.ticker = time.NewTicker(time.Duration(dt * float64(time.Second)))
	}
	return s
}

// Truth returns the orientation the last sample was generated from.
func (s *SimSource) Truth() orientation.Quaternion {
	return orientation.Quaternion{W: s.truth.Real, X: s.truth.Imag, Y: s.truth.Jmag, Z: s.truth.Kmag}
}

// Next advances the body by one sample period and measures it.
func (s *SimSource) Next(ctx context.Context) (imu.Sample, error) {
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return imu.Sample{}, ctx.Err()
		case <-s.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return imu.Sample{}, err
	}

	s.truth = quat.Mul(s.truth, s.step)
	s.n++

	smp := imu.Sample{
		T:     s.cfg.Start.Add(time.Duration(float64(s.n) * s.dt * float64(time.Second))),
		Gyro:  s.noisy(add(s.cfg.Rate, s.cfg.Bias)),
		Accel: s.noisy(s.toBody(orientation.Vec3{Z: 1})),
		Mag:   s.noisy(s.toBody(s.field)),
	}
	if s.cfg.AccelDropout > 0 && s.rng.Float64() < s.cfg.AccelDropout {
		smp.Accel = orientation.Vec3{}
	}
	if s.cfg.MagDropout > 0 && s.rng.Float64() < s.cfg.MagDropout {
		smp.Mag = orientation.Vec3{}
	}
	return smp, nil
}

// toBody expresses a world-frame vector in the body frame: q*⊗v⊗q.
func (s *SimSource) toBody(v orientation.Vec3) orientation.Vec3 {
	r := quat.Mul(quat.Mul(quat.Conj(s.truth), quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), s.truth)
	return orientation.Vec3{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

func (s *SimSource) noisy(v orientation.Vec3) orientation.Vec3 {
	if s.cfg.Noise == 0 {
		return v
	}
	return orientation.Vec3{
		X: v.X + s.rng.NormFloat64()*s.cfg.Noise,
		Y: v.Y + s.rng.NormFloat64()*s.cfg.Noise,
		Z: v.Z + s.rng.NormFloat64()*s.cfg.Noise,
	}
}

func add(a, b orientation.Vec3) orientation.Vec3 {
	return orientation.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

// Close stops the pacing clock, if any.
func (s *SimSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}
