package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/threshold"
)

func sampleInput(t *testing.T) Input {
	t.Helper()
	reg := metrics.NewRegistry()
	require.NoError(t, reg.DeclareBuiltins())

	reqs, _ := reg.Counter(metrics.HTTPReqs)
	dur, _ := reg.Trend(metrics.HTTPReqDuration)
	errs, _ := reg.Rate(metrics.Errors)
	for i := 1; i <= 100; i++ {
		reqs.Add(1)
		dur.Add(float64(i))
		errs.Add(i%10 == 0)
	}

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return Input{
		RunID:     "run-1",
		Name:      "social network",
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		Metrics:   reg,
		Thresholds: []threshold.RuleResult{
			{Metric: "errors", Passed: false, Clauses: []threshold.ClauseResult{
				{Expression: "rate<0.05", Observed: 0.1, Passed: false, Message: "rate is 0.1"},
			}},
			{Metric: "http_req_duration", Passed: true, Clauses: []threshold.ClauseResult{
				{Expression: "p(95)<2000", Observed: 95, Passed: true},
			}},
		},
		Scenarios: map[string]ScenarioSummary{
			"constant_load": {Executor: "constant-vus", Exec: "default", Iterations: 70, VUsSpawned: 10, MaxVUs: 10},
			"ramp_up_load":  {Executor: "ramping-vus", Exec: "default", Iterations: 30, VUsSpawned: 20, MaxVUs: 20},
		},
		Pools: map[string]int{"userIds": 42, "postIds": 7},
	}
}

func TestAssemble(t *testing.T) {
	in := sampleInput(t)
	res := Assemble(in)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 90*time.Second, res.Duration)
	assert.Equal(t, int64(100), res.Iterations)
	assert.False(t, res.Passed)
	require.Len(t, res.FailedThresholds(), 1)
	assert.Equal(t, "errors", res.FailedThresholds()[0].Metric)

	assert.Equal(t, []string{"constant_load", "ramp_up_load"}, res.ScenarioNames())
	assert.Equal(t, 42, res.Pools["userIds"])

	require.Contains(t, res.Metrics, metrics.HTTPReqDuration)
	d := res.Metrics[metrics.HTTPReqDuration]
	assert.Equal(t, int64(100), d.Count)
	assert.LessOrEqual(t, d.P95, d.Max)
	assert.InDelta(t, 0.1, res.Metrics[metrics.Errors].Rate, 1e-9)

	names := res.MetricNames()
	assert.True(t, sortedStrings(names))
	assert.Contains(t, names, metrics.VUsMax)

	// The result owns its pool map.
	in.Pools["userIds"] = 0
	assert.Equal(t, 42, res.Pools["userIds"])
}

func TestAssemble_NoThresholdsPasses(t *testing.T) {
	res := Assemble(Input{Name: "empty", StartTime: time.Now(), EndTime: time.Now()})
	assert.True(t, res.Passed)
	assert.Empty(t, res.Metrics)
	assert.Nil(t, res.Pools)
	assert.Equal(t, int64(0), res.Iterations)
}

func TestWriteJSON(t *testing.T) {
	res := Assemble(sampleInput(t))

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, res))

	doc := gjson.ParseBytes(buf.Bytes())
	assert.Equal(t, "run-1", doc.Get("runId").String())
	assert.False(t, doc.Get("passed").Bool())
	assert.Equal(t, int64(100), doc.Get("iterations").Int())
	assert.Equal(t, "trend", doc.Get("metrics.http_req_duration.kind").String())
	assert.Equal(t, int64(100), doc.Get("metrics.http_req_duration.count").Int())
	assert.Equal(t, "rate<0.05", doc.Get("thresholds.0.clauses.0.expression").String())
	assert.Equal(t, int64(42), doc.Get("pools.userIds").Int())
	assert.Equal(t, "ramping-vus", doc.Get("scenarios.ramp_up_load.executor").String())

	assert.Error(t, WriteJSON(&buf, nil))
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, WriteJSONFile(Assemble(sampleInput(t)), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, gjson.ValidBytes(data))

	assert.Error(t, WriteJSONFile(Assemble(sampleInput(t)), filepath.Join(t.TempDir(), "missing", "x.json")))
}

func TestConsoleRenderer_Render(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleRenderer(ConsoleConfig{Writer: &buf, NoColor: true})
	r.Render(Assemble(sampleInput(t)))

	out := buf.String()
	assert.Contains(t, out, "social network - FAILED ✗")
	assert.Contains(t, out, "Scenarios:")
	assert.Contains(t, out, "constant-vus exec=default iterations=70")
	assert.Contains(t, out, "http_req_duration")
	assert.Contains(t, out, "p(95)=")
	assert.Contains(t, out, "10.00% ✓ 10 ✗ 90")
	assert.Contains(t, out, "userIds")
	assert.Contains(t, out, "✗ rate<0.05 (actual: 0.1)")
	assert.Contains(t, out, "✓ p(95)<2000 (actual: 95)")
	assert.NotContains(t, out, "\x1b[", "no escape codes without colors")
}

func TestConsoleRenderer_Quiet(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleRenderer(ConsoleConfig{Writer: &buf, NoColor: true, Quiet: true})

	r.PrintHeader("x", "id", 1)
	r.PrintProgress(Progress{})
	res := Assemble(Input{Name: "x"})
	r.Render(res)

	assert.Equal(t, "PASSED ✓\n", buf.String())
}

func TestConsoleRenderer_ForceColors(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleRenderer(ConsoleConfig{Writer: &buf, ForceColors: true})
	r.Render(Assemble(Input{Name: "x"}))
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestConsoleRenderer_NonTerminalHasNoColors(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleRenderer(ConsoleConfig{Writer: &buf})
	r.Render(Assemble(Input{Name: "x"}))
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestProgressFrom(t *testing.T) {
	in := sampleInput(t)
	p := ProgressFrom(in.Metrics.Snapshot(), 30*time.Second, 0.5)

	assert.Equal(t, int64(100), p.Requests)
	assert.InDelta(t, 0.1, p.ErrorRate, 1e-9)
	assert.Greater(t, p.P95, 90.0)

	var buf bytes.Buffer
	NewConsoleRenderer(ConsoleConfig{Writer: &buf, NoColor: true}).PrintProgress(p)
	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "[30.0s]  50%"), line)
	assert.Contains(t, line, "Reqs: 100")
	assert.Contains(t, line, "Errors: 10.0%")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-1,000", formatNumber(-1000))
	assert.Equal(t, "999", formatNumber(999))

	assert.Equal(t, "0ms", formatMillis(0))
	assert.Equal(t, "500µs", formatMillis(0.5))
	assert.Equal(t, "12.50ms", formatMillis(12.5))
	assert.Equal(t, "2.50s", formatMillis(2500))
	assert.Equal(t, "1.5m", formatMillis(90000))

	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "2m 05s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 01m 01s", formatDuration(time.Hour+61*time.Second))

	assert.Equal(t, "3", formatValue(3))
	assert.Equal(t, "0.031", formatValue(0.031))
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}
