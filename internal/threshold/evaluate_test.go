package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/metrics"
)

func mustRules(t *testing.T, cfg map[string][]string) []Rule {
	t.Helper()
	rules, err := ParseRules(cfg)
	require.NoError(t, err)
	return rules
}

func fillRate(t *testing.T, reg *metrics.Registry, name string, trues, total int) {
	t.Helper()
	r, err := reg.Rate(name)
	require.NoError(t, err)
	for i := 0; i < total; i++ {
		r.Add(i < trues)
	}
}

func TestEvaluate_RateThreshold(t *testing.T) {
	rules := mustRules(t, map[string][]string{"http_req_failed": {"rate<0.05"}})

	t.Run("passes at 3.1%", func(t *testing.T) {
		reg := metrics.NewRegistry()
		fillRate(t, reg, "http_req_failed", 31, 1000)

		results := NewEvaluator(rules).Evaluate(reg, time.Minute)
		require.Len(t, results, 1)
		assert.True(t, results[0].Passed)
		assert.False(t, results[0].Skipped)
		assert.InDelta(t, 0.031, results[0].Clauses[0].Observed, 1e-12)
		assert.True(t, AllPassed(results))
	})

	t.Run("fails at 20%", func(t *testing.T) {
		reg := metrics.NewRegistry()
		fillRate(t, reg, "http_req_failed", 200, 1000)

		results := NewEvaluator(rules).Evaluate(reg, time.Minute)
		require.Len(t, results, 1)
		assert.False(t, results[0].Passed)
		assert.InDelta(t, 0.2, results[0].Clauses[0].Observed, 1e-12)
		assert.NotEmpty(t, results[0].Clauses[0].Message)
		assert.False(t, AllPassed(results))
	})
}

func TestEvaluate_AllClausesMustPass(t *testing.T) {
	reg := metrics.NewRegistry()
	tr, err := reg.Trend("http_req_duration")
	require.NoError(t, err)
	for i := 1; i <= 100; i++ {
		tr.Add(float64(i) * 30) // 30ms .. 3000ms
	}

	rules := mustRules(t, map[string][]string{
		"http_req_duration": {"p(95)<2000", "avg<2s"},
	})
	results := NewEvaluator(rules).Evaluate(reg, time.Minute)
	require.Len(t, results, 1)

	r := results[0]
	assert.False(t, r.Passed, "p95 is ~2850ms so the rule must fail")
	require.Len(t, r.Clauses, 2)
	assert.False(t, r.Clauses[0].Passed)
	assert.True(t, r.Clauses[1].Passed, "avg is 1515ms")
}

func TestEvaluate_ZeroSamplesSkipped(t *testing.T) {
	reg := metrics.NewRegistry()
	_, err := reg.Trend("comment_creation_duration")
	require.NoError(t, err)

	rules := mustRules(t, map[string][]string{
		"comment_creation_duration": {"p(95)<1"},
		"never_declared":            {"count>5"},
	})
	results := NewEvaluator(rules).Evaluate(reg, time.Minute)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Passed, r.Metric)
		assert.True(t, r.Skipped, r.Metric)
	}
}

func TestEvaluate_CounterRate(t *testing.T) {
	reg := metrics.NewRegistry()
	c, err := reg.Counter("http_reqs")
	require.NoError(t, err)
	c.Add(600)

	rules := mustRules(t, map[string][]string{"http_reqs": {"rate>=10", "count==600"}})
	results := NewEvaluator(rules).Evaluate(reg, time.Minute)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.InDelta(t, 10, results[0].Clauses[0].Observed, 1e-9)
}

func TestEvaluate_KindMismatchFails(t *testing.T) {
	reg := metrics.NewRegistry()
	fillRate(t, reg, "errors", 1, 10)

	rules := mustRules(t, map[string][]string{"errors": {"p(95)<1"}})
	results := NewEvaluator(rules).Evaluate(reg, time.Minute)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Clauses[0].Message, "not supported")
}

func TestEvaluate_Gauge(t *testing.T) {
	reg := metrics.NewRegistry()
	g, err := reg.Gauge("vus_max")
	require.NoError(t, err)
	g.Set(150)
	g.Set(0)

	rules := mustRules(t, map[string][]string{"vus_max": {"max<=150", "value==0"}})
	results := NewEvaluator(rules).Evaluate(reg, time.Minute)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		actual   float64
		op       string
		expected float64
		want     bool
	}{
		{1, "<", 2, true},
		{2, "<", 2, false},
		{2, "<=", 2, true},
		{0.1 + 0.2, "<=", 0.3, true},
		{3, ">", 2, true},
		{2, ">=", 2, true},
		{0.1 + 0.2, "==", 0.3, true},
		{1, "!=", 2, true},
		{1, "!=", 1, false},
		{1, "~", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareValues(tt.actual, tt.op, tt.expected), "%v %s %v", tt.actual, tt.op, tt.expected)
	}
}
