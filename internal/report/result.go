// Package report packages a finished run into a structured result and
// renders it.
package report

import (
	"sort"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/threshold"
)

// Result is the complete outcome of one run.
type Result struct {
	// Run metadata
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`
	Aborted     bool          `json:"aborted,omitempty"`

	// Iterations is the total over every scenario.
	Iterations int64 `json:"iterations"`

	Scenarios map[string]ScenarioSummary `json:"scenarios"`

	// Metrics holds one snapshot per registered metric, keyed by name.
	Metrics map[string]metrics.Snapshot `json:"metrics"`

	// Threshold evaluation
	Passed     bool                   `json:"passed"`
	Thresholds []threshold.RuleResult `json:"thresholds,omitempty"`

	// Pools maps each shared pool to the number of ids it ended with.
	Pools map[string]int `json:"pools,omitempty"`
}

// ScenarioSummary describes how one scenario ran.
type ScenarioSummary struct {
	Executor   string        `json:"executor"`
	Exec       string        `json:"exec"`
	StartTime  time.Duration `json:"startTime"`
	Duration   time.Duration `json:"duration"`
	Iterations int64         `json:"iterations"`
	VUsSpawned int64         `json:"vusSpawned"`
	MaxVUs     int           `json:"maxVUs"`
	Error      string        `json:"error,omitempty"`
}

// MetricSource is anything that can snapshot its metrics.
// *metrics.Registry satisfies it.
type MetricSource interface {
	Snapshot() map[string]metrics.Snapshot
}

// Input is everything Assemble needs.
type Input struct {
	RunID       string
	Name        string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Aborted     bool

	Metrics    MetricSource
	Thresholds []threshold.RuleResult
	Scenarios  map[string]ScenarioSummary
	Pools      map[string]int
}

// Assemble builds the run result. It only reads from its input.
func Assemble(in Input) *Result {
	res := &Result{
		RunID:       in.RunID,
		Name:        in.Name,
		Description: in.Description,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Duration:    in.EndTime.Sub(in.StartTime),
		Aborted:     in.Aborted,
		Scenarios:   make(map[string]ScenarioSummary, len(in.Scenarios)),
		Metrics:     map[string]metrics.Snapshot{},
		Thresholds:  in.Thresholds,
		Passed:      threshold.AllPassed(in.Thresholds),
	}
	if res.Duration < 0 {
		res.Duration = 0
	}

	for name, sc := range in.Scenarios {
		res.Scenarios[name] = sc
		res.Iterations += sc.Iterations
	}

	if in.Metrics != nil {
		res.Metrics = in.Metrics.Snapshot()
	}

	if len(in.Pools) > 0 {
		res.Pools = make(map[string]int, len(in.Pools))
		for name, n := range in.Pools {
			res.Pools[name] = n
		}
	}
	return res
}

// MetricNames returns the metric names in alphabetical order.
func (r *Result) MetricNames() []string {
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScenarioNames returns the scenario names in alphabetical order.
func (r *Result) ScenarioNames() []string {
	names := make([]string, 0, len(r.Scenarios))
	for name := range r.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailedThresholds returns the rules that did not pass.
func (r *Result) FailedThresholds() []threshold.RuleResult {
	var failed []threshold.RuleResult
	for _, t := range r.Thresholds {
		if !t.Passed {
			failed = append(failed, t)
		}
	}
	return failed
}
