package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/config"
)

// NewExecutor creates a new executor of the specified type.
//
// Supported types:
//   - "constant-vus" - Fixed number of VUs for a duration
//   - "ramping-vus" - VU count ramps up/down according to stages
//
// Returns an uninitialized executor. Call Init() before Run().
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// ConfigFromScenario converts a scenario from a test plan into an executor
// config, taking reconcile settings from the plan's global settings.
func ConfigFromScenario(name string, sc *config.ScenarioConfig, settings config.GlobalSettings, log *zap.Logger) (*Config, error) {
	if !IsValidExecutorType(sc.Executor) {
		return nil, fmt.Errorf("unknown executor type %q (supported: %v)", sc.Executor, GetSupportedExecutors())
	}

	cfg := &Config{
		Name:              name,
		Type:              Type(config.NormalizeExecutor(sc.Executor)),
		VUs:               sc.VUs,
		StartVUs:          sc.StartVUs,
		ReconcileInterval: settings.ReconcileInterval.GetDuration(config.DefaultReconcileInterval),
		ReconcileOrder:    settings.ReconcileOrder,
		Logger:            log,
	}

	if cfg.Type == TypeConstantVUs {
		dur, err := config.ParseDurationString(sc.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration: %w", err)
		}
		cfg.Duration = dur
	}

	if sc.GracefulStop != "" {
		dur, err := config.ParseDurationString(sc.GracefulStop)
		if err != nil {
			return nil, fmt.Errorf("invalid gracefulStop: %w", err)
		}
		cfg.GracefulStop = &dur
	}

	if sc.StartTime != "" {
		dur, err := config.ParseDurationString(sc.StartTime)
		if err != nil {
			return nil, fmt.Errorf("invalid startTime: %w", err)
		}
		cfg.StartTime = dur
	}

	for i, stage := range sc.Stages {
		stageDur, err := config.ParseDurationString(stage.Duration)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for stage %d: %w", i, err)
		}
		cfg.Stages = append(cfg.Stages, Stage{
			Duration: stageDur,
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}

	return cfg, nil
}

// IsValidExecutorType returns true if the type is a valid executor type.
func IsValidExecutorType(executorType string) bool {
	switch Type(config.NormalizeExecutor(executorType)) {
	case TypeConstantVUs, TypeRampingVUs:
		return true
	default:
		return false
	}
}

// GetSupportedExecutors returns a list of all supported executor types.
func GetSupportedExecutors() []Type {
	return []Type{TypeConstantVUs, TypeRampingVUs}
}

// CalculateMaxVUs returns the maximum number of VUs that might be used.
func CalculateMaxVUs(cfg *Config) int {
	return MaxTarget(cfg.Curve())
}
