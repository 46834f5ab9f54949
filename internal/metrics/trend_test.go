package metrics

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrend_Empty(t *testing.T) {
	tr := newTrend("empty")
	assert.True(t, tr.Empty())
	assert.Equal(t, float64(0), tr.Percentile(95))

	s := tr.Snapshot()
	assert.Equal(t, int64(0), s.Count)
	assert.True(t, s.Empty())
}

func TestTrend_PercentilesOneToHundred(t *testing.T) {
	tr := newTrend("d")
	for i := 1; i <= 100; i++ {
		tr.Add(float64(i))
	}

	p95 := tr.Percentile(95)

	var above, atOrBelow int
	for i := 1; i <= 100; i++ {
		if float64(i) > p95 {
			above++
		} else {
			atOrBelow++
		}
	}
	assert.LessOrEqual(t, above, 5, "at most 5%% of samples may exceed p95 (p95=%v)", p95)
	assert.GreaterOrEqual(t, atOrBelow, 95, "at least 95%% of samples must be <= p95 (p95=%v)", p95)

	s := tr.Snapshot()
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, float64(1), s.Min)
	assert.Equal(t, float64(100), s.Max)
	assert.InDelta(t, 50.5, s.Avg, 1e-9)
	assert.InDelta(t, 50, s.Med, 0.5)
}

func TestTrend_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	skewed := make([]float64, 1000)
	for i := range skewed {
		skewed[i] = rng.ExpFloat64() * 200
	}

	inputs := map[string][]float64{
		"single":      {7.25},
		"constant":    {3, 3, 3, 3, 3},
		"fractional":  {0.0004, 0.2, 0.35, 1.5},
		"skewed":      skewed,
		"huge values": {1e3, 5e6, 4e9},
	}

	for name, samples := range inputs {
		t.Run(name, func(t *testing.T) {
			tr := newTrend(name)
			for _, v := range samples {
				tr.Add(v)
			}

			s := tr.Snapshot()
			assert.LessOrEqual(t, s.Min, s.Avg)
			assert.LessOrEqual(t, s.Avg, s.Max)
			assert.LessOrEqual(t, s.Med, s.P95)
			assert.LessOrEqual(t, s.P95, s.P99)
			assert.LessOrEqual(t, s.P99, s.Max)
			assert.GreaterOrEqual(t, s.Med, s.Min)
		})
	}
}

func TestTrend_IgnoresNaN(t *testing.T) {
	tr := newTrend("nan")
	tr.Add(math.NaN())
	tr.Add(math.Inf(1))
	tr.Add(2)

	require.Equal(t, int64(1), tr.Count())
	assert.Equal(t, float64(2), tr.Percentile(99))
}

func TestTrend_StatsMatchSnapshot(t *testing.T) {
	tr := newTrend("stats")
	for _, v := range []float64{10, 20, 30, 40} {
		tr.Add(v)
	}

	st := tr.Stats()
	assert.Equal(t, int64(4), st.Count)
	assert.Equal(t, float64(100), st.Sum)
	assert.Equal(t, float64(25), st.Avg)
	assert.Equal(t, tr.Snapshot().Avg, st.Avg)
}
