// Package sink holds the outputs an estimate can be published to.
package sink

import (
	"errors"

	"github.com/relabs-tech/ahrs_computer/internal/fusion"
)

// Multi fans an estimate out to every sink, in order. All sinks are tried
// even when one fails; the errors are joined.
type Multi []fusion.Sink

func (m Multi) Publish(e fusion.Estimate) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
