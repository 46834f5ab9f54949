package metrics

import (
	"math"
	"sync/atomic"
)

// Counter is a monotonically increasing integer total.
type Counter struct {
	name  string
	value atomic.Int64
	adds  atomic.Int64
}

func newCounter(name string) *Counter {
	return &Counter{name: name}
}

// Add increments the counter by n. Non-positive values are ignored.
func (c *Counter) Add(n int64) {
	if n <= 0 {
		return
	}
	c.value.Add(n)
	c.adds.Add(1)
}

// Value returns the current total.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

func (c *Counter) Name() string { return c.name }
func (c *Counter) Kind() Kind   { return KindCounter }
func (c *Counter) Empty() bool  { return c.adds.Load() == 0 }

// Snapshot returns the counter total.
func (c *Counter) Snapshot() Snapshot {
	v := c.value.Load()
	return Snapshot{
		Name:  c.name,
		Kind:  KindCounter,
		Count: v,
		Value: float64(v),
	}
}

// Rate tracks the fraction of observations that were true.
type Rate struct {
	name  string
	trues atomic.Int64
	total atomic.Int64
}

func newRate(name string) *Rate {
	return &Rate{name: name}
}

// Add records one boolean observation.
func (r *Rate) Add(ok bool) {
	// total is bumped before trues so a reader loading trues first never sees trues > total.
	r.total.Add(1)
	if ok {
		r.trues.Add(1)
	}
}

// Value returns trues/total, or 0 when nothing was recorded.
func (r *Rate) Value() float64 {
	trues, total := r.counts()
	if total == 0 {
		return 0
	}
	return float64(trues) / float64(total)
}

func (r *Rate) counts() (trues, total int64) {
	trues = r.trues.Load()
	total = r.total.Load()
	return trues, total
}

func (r *Rate) Name() string { return r.name }
func (r *Rate) Kind() Kind   { return KindRate }
func (r *Rate) Empty() bool  { return r.total.Load() == 0 }

// Snapshot returns passes, fails and the rate.
func (r *Rate) Snapshot() Snapshot {
	trues, total := r.counts()
	s := Snapshot{
		Name:   r.name,
		Kind:   KindRate,
		Count:  total,
		Passes: trues,
		Fails:  total - trues,
	}
	if total > 0 {
		s.Rate = float64(trues) / float64(total)
		s.Value = s.Rate
	}
	return s
}

// Gauge holds the most recently set value and the maximum seen.
type Gauge struct {
	name  string
	value atomic.Uint64
	max   atomic.Uint64
	sets  atomic.Int64
}

func newGauge(name string) *Gauge {
	return &Gauge{name: name}
}

// Set stores v as the current value.
func (g *Gauge) Set(v float64) {
	g.value.Store(math.Float64bits(v))
	g.sets.Add(1)
	for {
		old := g.max.Load()
		if g.sets.Load() > 1 && math.Float64frombits(old) >= v {
			return
		}
		if g.max.CompareAndSwap(old, math.Float64bits(v)) {
			return
		}
	}
}

// Value returns the current value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.value.Load())
}

// Max returns the highest value ever set.
func (g *Gauge) Max() float64 {
	return math.Float64frombits(g.max.Load())
}

func (g *Gauge) Name() string { return g.name }
func (g *Gauge) Kind() Kind   { return KindGauge }
func (g *Gauge) Empty() bool  { return g.sets.Load() == 0 }

// Snapshot returns the current and maximum values.
func (g *Gauge) Snapshot() Snapshot {
	return Snapshot{
		Name:  g.name,
		Kind:  KindGauge,
		Count: g.sets.Load(),
		Value: g.Value(),
		Max:   g.Max(),
	}
}
