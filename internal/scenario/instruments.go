package scenario

import (
	"github.com/wesleyorama2/surge/internal/metrics"
)

// Instruments holds the built-in metric handles recorded by every call and
// iteration.
type Instruments struct {
	HTTPReqs          *metrics.Counter
	HTTPReqDuration   *metrics.Trend
	HTTPReqFailed     *metrics.Rate
	TotalRequests     *metrics.Counter
	DataReceived      *metrics.Counter
	Errors            *metrics.Rate
	Iterations        *metrics.Counter
	IterationDuration *metrics.Trend
}

// NewInstruments resolves the built-in metrics from reg.
func NewInstruments(reg *metrics.Registry) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.HTTPReqs, err = reg.Counter(metrics.HTTPReqs); err != nil {
		return nil, err
	}
	if in.HTTPReqDuration, err = reg.Trend(metrics.HTTPReqDuration); err != nil {
		return nil, err
	}
	if in.HTTPReqFailed, err = reg.Rate(metrics.HTTPReqFailed); err != nil {
		return nil, err
	}
	if in.TotalRequests, err = reg.Counter(metrics.TotalRequests); err != nil {
		return nil, err
	}
	if in.DataReceived, err = reg.Counter(metrics.DataReceived); err != nil {
		return nil, err
	}
	if in.Errors, err = reg.Rate(metrics.Errors); err != nil {
		return nil, err
	}
	if in.Iterations, err = reg.Counter(metrics.Iterations); err != nil {
		return nil, err
	}
	if in.IterationDuration, err = reg.Trend(metrics.IterationDuration); err != nil {
		return nil, err
	}
	return &in, nil
}
