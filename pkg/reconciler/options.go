package reconciler

import (
	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/errors"
)

// options configures a reconciler.
type options struct {
	threshold float64
}

func defaultOptions() *options {
	return &options{
		threshold: constants.DefaultFuzzyThreshold,
	}
}

// Option is a function that configures a Reconciler.
type Option func(*options) error

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// newOptions returns reconciler options with default values.
func newOptions(opts ...Option) (*options, error) {
	return defaultOptions().apply(opts...)
}

// WithThreshold sets the minimum similarity ratio for attaching snippets.
func WithThreshold(threshold float64) Option {
	return func(o *options) error {
		if threshold < 0 || threshold > 1 {
			return &errors.ValidationError{
				Field:   "threshold",
				Value:   threshold,
				Message: "must be within [0,1]",
			}
		}
		o.threshold = threshold
		return nil
	}
}
