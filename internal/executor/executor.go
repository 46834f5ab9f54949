// Package executor drives a scenario's VU count along its target curve.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/vu"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// Reconcile orders.
const (
	OrderStopFirst  = "stop-first"
	OrderSpawnFirst = "spawn-first"
)

const (
	defaultGracefulStop      = 30 * time.Second
	defaultReconcileInterval = 100 * time.Millisecond
)

// Executor defines the interface for load generation strategies.
//
// Executors control how many VUs of one scenario are alive at any moment.
// The VUs themselves are created and run by a vu.VUScheduler.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run follows the curve and blocks until every VU has exited.
	// Cancelling ctx aborts the run and interrupts in-flight iterations.
	Run(ctx context.Context, scheduler *vu.VUScheduler) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the curve early. VUs finish their current iteration within
	// the graceful stop budget.
	Stop()
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// VUs and Duration describe constant-vus
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// StartVUs and Stages describe ramping-vus
	StartVUs int     `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	Stages   []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// StartTime is the scenario offset from run start. The engine waits
	// it out before calling Run.
	StartTime time.Duration `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run once the
	// curve has ended. Nil means 30s; zero interrupts them immediately.
	GracefulStop *time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// ReconcileInterval is the tick of the ramping controller
	ReconcileInterval time.Duration `json:"reconcileInterval,omitempty" yaml:"reconcileInterval,omitempty"`

	// ReconcileOrder is OrderStopFirst or OrderSpawnFirst
	ReconcileOrder string `json:"reconcileOrder,omitempty" yaml:"reconcileOrder,omitempty"`

	Logger *zap.Logger `json:"-" yaml:"-"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Iteration stats
	Iterations int64 `json:"iterations"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		for _, s := range c.Stages {
			if s.Duration < 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must be >= 0"}
			}
			if s.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	switch c.ReconcileOrder {
	case "", OrderStopFirst, OrderSpawnFirst:
	default:
		return &ValidationError{Field: "reconcileOrder", Message: "unknown reconcile order: " + c.ReconcileOrder}
	}

	if c.GracefulStop != nil && *c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	return c.Curve().Duration()
}

// Curve returns the target curve described by the configuration.
func (c *Config) Curve() Curve {
	switch c.Type {
	case TypeRampingVUs:
		return RampingCurve{StartVUs: c.StartVUs, Stages: c.Stages}
	default:
		return ConstantCurve{VUs: c.VUs, Length: c.Duration}
	}
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop == nil {
		return defaultGracefulStop
	}
	return *c.GracefulStop
}

func (c *Config) reconcileInterval() time.Duration {
	if c.ReconcileInterval <= 0 {
		return defaultReconcileInterval
	}
	return c.ReconcileInterval
}

func (c *Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
