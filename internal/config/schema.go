// Package config provides parsing and validation of surge test plans.
package config

import (
	"time"
)

// Executor names.
const (
	ExecutorConstantVUs = "constant-vus"
	ExecutorRampingVUs  = "ramping-vus"
)

// Step types.
const (
	StepCall   = "call"
	StepSleep  = "sleep"
	StepPick   = "pick"
	StepBranch = "branch"
	StepGroup  = "group"
	StepRecord = "record"
)

// Reconcile orders.
const (
	ReconcileStopFirst  = "stop-first"
	ReconcileSpawnFirst = "spawn-first"
)

// TestConfig is the root of a test plan.
//
// Example YAML:
//
//	name: "social network"
//	settings:
//	  baseUrl: "http://localhost:8765"
//	flows:
//	  default:
//	    - type: call
//	      name: create user
//	      method: POST
//	      url: "{{.baseUrl}}/user-ms/api/users"
//	      extract: [{name: userId, path: id, pool: userIds}]
//	scenarios:
//	  constant_load:
//	    executor: constant-vus
//	    vus: 10
//	    duration: 2m
//	    exec: default
//	thresholds:
//	  errors: ["rate<0.1"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Logging configures the run logger
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`

	// Variables are available to every template as {{.name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Metrics declares the kind of custom metrics: counter, rate, trend or
	// gauge. Record steps write to them; call and group metrics are trends.
	Metrics map[string]string `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// Setup steps run once before any scenario starts
	Setup []StepConfig `json:"setup,omitempty" yaml:"setup,omitempty"`

	// Flows are named step lists referenced by scenarios through exec
	Flows map[string][]StepConfig `json:"flows" yaml:"flows"`

	// Scenarios defines the load profiles to run
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds map a metric name to its pass/fail expressions
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// BaseURL is exposed to templates as {{.baseUrl}} and prefixes relative URLs
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// ReconcileInterval is how often executors compare live VUs to the target curve
	ReconcileInterval Duration `json:"reconcileInterval,omitempty" yaml:"reconcileInterval,omitempty"`

	// ReconcileOrder decides whether stops or spawns are issued first in a tick
	ReconcileOrder string `json:"reconcileOrder,omitempty" yaml:"reconcileOrder,omitempty"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Executor is "constant-vus" or "ramping-vus" ("constant" and "ramping" are accepted)
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the fixed VU count for constant-vus
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// StartVUs is where a ramping curve begins
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Duration is how long a constant-vus scenario runs
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages defines the ramping curve
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run after a stop
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// StartTime is the offset from run start
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// Exec names the flow each VU iterates
	Exec string `json:"exec,omitempty" yaml:"exec,omitempty"`

	// Tags are attached to every request of this scenario
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for logging)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// StepConfig is one step of a flow. Type selects which fields apply.
type StepConfig struct {
	Type string `json:"type" yaml:"type"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// call
	Method      string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout     string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Extract     []ExtractConfig   `json:"extract,omitempty" yaml:"extract,omitempty"`
	Schema      string            `json:"schema,omitempty" yaml:"schema,omitempty"`
	MaxDuration string            `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// Metric is a trend receiving the call (or group) duration in ms, or
	// the declared metric a record step writes to
	Metric string `json:"metric,omitempty" yaml:"metric,omitempty"`

	// Value is the sample a record step adds: a count, true/false for a
	// rate, or a number for a trend or gauge. It may be a template.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Requires lists variables that must be bound; otherwise the step is skipped
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// sleep
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      string `json:"min,omitempty" yaml:"min,omitempty"`
	Max      string `json:"max,omitempty" yaml:"max,omitempty"`

	// pick
	Pool      string       `json:"pool,omitempty" yaml:"pool,omitempty"`
	As        string       `json:"as,omitempty" yaml:"as,omitempty"`
	Otherwise []StepConfig `json:"otherwise,omitempty" yaml:"otherwise,omitempty"`

	// branch
	Probability *float64     `json:"probability,omitempty" yaml:"probability,omitempty"`
	If          []string     `json:"if,omitempty" yaml:"if,omitempty"`
	Distinct    []string     `json:"distinct,omitempty" yaml:"distinct,omitempty"`
	Then        []StepConfig `json:"then,omitempty" yaml:"then,omitempty"`
	Else        []StepConfig `json:"else,omitempty" yaml:"else,omitempty"`

	// group
	Steps []StepConfig `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// ExtractConfig binds a value from a call response to an iteration variable.
type ExtractConfig struct {
	// Name of the variable to bind
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body" (default), "header", "status"
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Path is a gjson/JSONPath for body, or the header name
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Pool, when set, also appends the value to the named shared pool
	Pool string `json:"pool,omitempty" yaml:"pool,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
