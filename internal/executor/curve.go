package executor

import "time"

// Curve is a target VU count over scenario time.
type Curve interface {
	// TargetAt returns the VU target t after the scenario started.
	TargetAt(t time.Duration) int

	// Duration returns when the curve ends. TargetAt is 0 from then on.
	Duration() time.Duration
}

// ConstantCurve is VUs for [0, Length) and 0 afterwards.
type ConstantCurve struct {
	VUs    int
	Length time.Duration
}

func (c ConstantCurve) TargetAt(t time.Duration) int {
	if t < 0 || t >= c.Length {
		return 0
	}
	return c.VUs
}

func (c ConstantCurve) Duration() time.Duration {
	return c.Length
}

// RampingCurve interpolates linearly between stage endpoints, starting from
// StartVUs. Zero-length stages jump straight to their target.
type RampingCurve struct {
	StartVUs int
	Stages   []Stage
}

func (c RampingCurve) TargetAt(t time.Duration) int {
	if t < 0 {
		return c.StartVUs
	}
	target, _ := c.at(t)
	return target
}

// StageAt returns the index of the stage active at t, or len(Stages) once
// the curve has ended.
func (c RampingCurve) StageAt(t time.Duration) int {
	_, idx := c.at(t)
	return idx
}

func (c RampingCurve) at(elapsed time.Duration) (int, int) {
	var stageStart time.Duration
	prevTarget := c.StartVUs

	for i, stage := range c.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}

			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5), i
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return 0, len(c.Stages)
}

func (c RampingCurve) Duration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		total += s.Duration
	}
	return total
}

// MaxTarget returns the highest target the curve reaches.
func MaxTarget(c Curve) int {
	switch c := c.(type) {
	case ConstantCurve:
		return c.VUs
	case RampingCurve:
		peak := c.StartVUs
		for _, s := range c.Stages {
			if s.Target > peak {
				peak = s.Target
			}
		}
		return peak
	default:
		return 0
	}
}
