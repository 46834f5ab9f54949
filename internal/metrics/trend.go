package metrics

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// trendShards is the number of independently locked histograms per trend.
	trendShards = 16

	// trendScale converts sample values to histogram integers (three decimals kept).
	trendScale = 1000

	// Histogram range: 0.001 to 3,600,000 (one hour when samples are milliseconds).
	trendHistMin     = 1
	trendHistMax     = 3_600_000_000
	trendHistSigFigs = 3
)

// Trend is a distribution of numeric samples.
//
// Samples are spread round-robin over trendShards HDR histograms so that
// concurrent writers rarely contend on the same mutex. Exact min, max and
// sum are kept next to each histogram; percentiles come from the merged
// histograms and are clamped into [min, max].
type Trend struct {
	name   string
	shards [trendShards]*trendShard
	next   atomic.Uint64
	count  atomic.Int64
}

type trendShard struct {
	mu    sync.Mutex
	hist  *hdrhistogram.Histogram
	count int64
	sum   float64
	min   float64
	max   float64
}

func newTrend(name string) *Trend {
	t := &Trend{name: name}
	for i := range t.shards {
		t.shards[i] = &trendShard{
			hist: hdrhistogram.New(trendHistMin, trendHistMax, trendHistSigFigs),
		}
	}
	return t
}

// Add records one sample.
func (t *Trend) Add(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}

	scaled := int64(math.Round(v * trendScale))
	if scaled < trendHistMin {
		scaled = trendHistMin
	}
	if scaled > trendHistMax {
		scaled = trendHistMax
	}

	shard := t.shards[t.next.Add(1)%trendShards]
	shard.mu.Lock()
	_ = shard.hist.RecordValue(scaled)
	if shard.count == 0 || v < shard.min {
		shard.min = v
	}
	if shard.count == 0 || v > shard.max {
		shard.max = v
	}
	shard.count++
	shard.sum += v
	shard.mu.Unlock()

	t.count.Add(1)
}

// Count returns the number of samples recorded.
func (t *Trend) Count() int64 {
	return t.count.Load()
}

// merged folds every shard into one histogram plus exact aggregates.
// Shards are locked one at a time.
func (t *Trend) merged() (hist *hdrhistogram.Histogram, count int64, sum, min, max float64) {
	hist = hdrhistogram.New(trendHistMin, trendHistMax, trendHistSigFigs)
	for _, shard := range t.shards {
		shard.mu.Lock()
		if shard.count > 0 {
			hist.Merge(shard.hist)
			if count == 0 || shard.min < min {
				min = shard.min
			}
			if count == 0 || shard.max > max {
				max = shard.max
			}
			count += shard.count
			sum += shard.sum
		}
		shard.mu.Unlock()
	}
	return hist, count, sum, min, max
}

// Percentile returns the q-th percentile (0-100), or 0 when empty.
func (t *Trend) Percentile(q float64) float64 {
	hist, count, _, min, max := t.merged()
	if count == 0 {
		return 0
	}
	return percentileOf(hist, q, min, max)
}

func percentileOf(hist *hdrhistogram.Histogram, q, min, max float64) float64 {
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	v := float64(hist.ValueAtQuantile(q)) / trendScale
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}

// Stats returns count, sum, min, max and mean in one pass.
func (t *Trend) Stats() TrendStats {
	_, count, sum, min, max := t.merged()
	s := TrendStats{Count: count, Sum: sum, Min: min, Max: max}
	if count > 0 {
		s.Avg = meanOf(sum, count, min, max)
	}
	return s
}

// meanOf clamps the float mean so rounding never pushes it outside [min, max].
func meanOf(sum float64, count int64, min, max float64) float64 {
	avg := sum / float64(count)
	if avg < min {
		return min
	}
	if avg > max {
		return max
	}
	return avg
}

// TrendStats holds the exact aggregates of a trend.
type TrendStats struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
}

func (t *Trend) Name() string { return t.name }
func (t *Trend) Kind() Kind   { return KindTrend }
func (t *Trend) Empty() bool  { return t.count.Load() == 0 }

// Snapshot returns count, avg, min, max and the standard percentiles.
func (t *Trend) Snapshot() Snapshot {
	hist, count, sum, min, max := t.merged()
	s := Snapshot{
		Name:  t.name,
		Kind:  KindTrend,
		Count: count,
	}
	if count == 0 {
		return s
	}

	s.Min = min
	s.Max = max
	s.Avg = meanOf(sum, count, min, max)
	s.Med = percentileOf(hist, 50, min, max)
	s.P90 = percentileOf(hist, 90, min, max)
	s.P95 = percentileOf(hist, 95, min, max)
	s.P99 = percentileOf(hist, 99, min, max)
	s.Value = s.Avg
	return s
}
