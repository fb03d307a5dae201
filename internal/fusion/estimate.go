package fusion

import (
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/imu"
	"github.com/relabs-tech/ahrs_computer/internal/orientation"
)

// Estimate is what the runner publishes for every sample it fuses.
type Estimate struct {
	T          time.Time              `json:"time"`
	Seq        uint64                 `json:"seq"`
	Q          orientation.Quaternion `json:"q"`
	Bias       orientation.Vec3       `json:"bias"` // rad/s
	Pose       orientation.Pose       `json:"pose"` // degrees
	Heading    float64                `json:"heading"`
	Variant    orientation.Variant    `json:"variant"`
	Delegated  bool                   `json:"delegated,omitempty"`
	Correction orientation.Correction `json:"correction"`
	Dt         float64                `json:"dt"` // seconds used for this step
	Sample     imu.Sample             `json:"sample"`
}

func newEstimate(seq uint64, smp imu.Sample, res orientation.Result, dt float64) Estimate {
	pose := res.Q.Pose()
	return Estimate{
		T:          smp.T,
		Seq:        seq,
		Q:          res.Q,
		Bias:       res.Bias,
		Pose:       pose,
		Heading:    pose.Heading(),
		Variant:    res.Variant,
		Delegated:  res.Delegated,
		Correction: res.Correction,
		Dt:         dt,
		Sample:     smp,
	}
}

// Sink receives estimates. Publish is called from the runner goroutine,
// once per fused sample.
type Sink interface {
	Publish(Estimate) error
	Close() error
}
