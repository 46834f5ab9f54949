package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultGracefulStop      = 30 * time.Second
	DefaultReconcileInterval = 100 * time.Millisecond
	DefaultFlow              = "default"
	DefaultUserAgent         = "surge/1.0"
)

// LoadConfig loads a test plan from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d < 0 {
			return 0, fmt.Errorf("duration cannot be negative: %s", s)
		}
		return d, nil
	}

	seconds, convErr := strconv.Atoi(s)
	if convErr == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// NormalizeExecutor maps executor aliases to their canonical name.
func NormalizeExecutor(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "constant", ExecutorConstantVUs:
		return ExecutorConstantVUs
	case "ramping", ExecutorRampingVUs:
		return ExecutorRampingVUs
	default:
		return name
	}
}

// ScenarioDuration returns the length of a scenario's curve: the explicit
// duration for constant-vus, or the sum of stage durations.
func ScenarioDuration(sc *ScenarioConfig) (time.Duration, error) {
	if NormalizeExecutor(sc.Executor) == ExecutorConstantVUs || len(sc.Stages) == 0 {
		if sc.Duration == "" {
			return 0, fmt.Errorf("no duration specified and no stages defined")
		}
		return ParseDurationString(sc.Duration)
	}

	var total time.Duration
	for _, stage := range sc.Stages {
		d, err := ParseDurationString(stage.Duration)
		if err != nil {
			return 0, fmt.Errorf("invalid stage duration: %w", err)
		}
		total += d
	}
	return total, nil
}

// ApplyDefaults fills in unset settings and scenario fields.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}
	if config.Settings.ReconcileInterval == 0 {
		config.Settings.ReconcileInterval = Duration(DefaultReconcileInterval)
	}
	if config.Settings.ReconcileOrder == "" {
		config.Settings.ReconcileOrder = ReconcileStopFirst
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}

	for _, sc := range config.Scenarios {
		if sc == nil {
			continue
		}
		applyScenarioDefaults(sc)
	}
}

func applyScenarioDefaults(sc *ScenarioConfig) {
	sc.Executor = NormalizeExecutor(sc.Executor)
	if sc.Executor == "" {
		sc.Executor = ExecutorConstantVUs
	}
	if sc.Exec == "" {
		sc.Exec = DefaultFlow
	}
	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop.String()
	}
}
