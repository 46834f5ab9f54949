package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Kind identifies the aggregation a metric performs.
type Kind string

const (
	// KindCounter sums integer increments.
	KindCounter Kind = "counter"

	// KindRate tracks the fraction of true observations.
	KindRate Kind = "rate"

	// KindTrend keeps a distribution of samples.
	KindTrend Kind = "trend"

	// KindGauge holds the most recent value.
	KindGauge Kind = "gauge"
)

// ErrKindConflict is returned when a metric name is reused with a different kind.
var ErrKindConflict = errors.New("metric kind conflict")

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCounter, KindRate, KindTrend, KindGauge:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown metric kind: %q (expected counter, rate, trend or gauge)", s)
	}
}

// ParseSample converts a configured sample for a metric of kind k. An empty
// string counts one for a counter and true for a rate; trends and gauges
// need a number.
func ParseSample(k Kind, s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch k {
	case KindCounter:
		if s == "" {
			return 1, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("counter sample must be a non-negative integer, got %q", s)
		}
		return float64(n), nil
	case KindRate:
		if s == "" {
			return 1, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return 0, fmt.Errorf("rate sample must be true or false, got %q", s)
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case KindTrend, KindGauge:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%s sample must be a number, got %q", k, s)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("unknown metric kind: %q", k)
	}
}

// Record adds a sample returned by ParseSample to m.
func Record(m Metric, v float64) {
	switch m := m.(type) {
	case *Counter:
		m.Add(int64(v))
	case *Rate:
		m.Add(v != 0)
	case *Trend:
		m.Add(v)
	case *Gauge:
		m.Set(v)
	}
}

// Metric is implemented by every metric kind.
type Metric interface {
	// Name returns the registered metric name.
	Name() string

	// Kind returns the metric kind.
	Kind() Kind

	// Empty reports whether no sample has been recorded yet.
	Empty() bool

	// Snapshot returns a best-effort consistent view of the metric.
	Snapshot() Snapshot
}

// Built-in metric names recorded by the engine.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	Errors            = "errors"
	TotalRequests     = "total_requests"
	DataReceived      = "data_received"
	VUs               = "vus"
	VUsMax            = "vus_max"
)

// BuiltinKinds maps each built-in metric to its kind.
var BuiltinKinds = map[string]Kind{
	HTTPReqs:          KindCounter,
	HTTPReqDuration:   KindTrend,
	HTTPReqFailed:     KindRate,
	Iterations:        KindCounter,
	IterationDuration: KindTrend,
	Errors:            KindRate,
	TotalRequests:     KindCounter,
	DataReceived:      KindCounter,
	VUs:               KindGauge,
	VUsMax:            KindGauge,
}

// Registry holds every metric of a run, keyed by name.
type Registry struct {
	metrics sync.Map // map[string]Metric

	// createMu serializes creation only; lookups of existing metrics never take it.
	createMu sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Declare creates a metric of the given kind if it does not exist yet.
func (r *Registry) Declare(name string, kind Kind) (Metric, error) {
	if m, ok := r.metrics.Load(name); ok {
		return checkKind(m.(Metric), kind)
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if m, ok := r.metrics.Load(name); ok {
		return checkKind(m.(Metric), kind)
	}

	var m Metric
	switch kind {
	case KindCounter:
		m = newCounter(name)
	case KindRate:
		m = newRate(name)
	case KindTrend:
		m = newTrend(name)
	case KindGauge:
		m = newGauge(name)
	default:
		return nil, fmt.Errorf("metric %q: unknown kind %q", name, kind)
	}

	r.metrics.Store(name, m)
	return m, nil
}

func checkKind(m Metric, kind Kind) (Metric, error) {
	if m.Kind() != kind {
		return nil, fmt.Errorf("metric %q is a %s, not a %s: %w", m.Name(), m.Kind(), kind, ErrKindConflict)
	}
	return m, nil
}

// DeclareBuiltins registers every built-in metric.
func (r *Registry) DeclareBuiltins() error {
	for name, kind := range BuiltinKinds {
		if _, err := r.Declare(name, kind); err != nil {
			return err
		}
	}
	return nil
}

// Counter returns the named counter, creating it if needed.
func (r *Registry) Counter(name string) (*Counter, error) {
	m, err := r.Declare(name, KindCounter)
	if err != nil {
		return nil, err
	}
	return m.(*Counter), nil
}

// Rate returns the named rate, creating it if needed.
func (r *Registry) Rate(name string) (*Rate, error) {
	m, err := r.Declare(name, KindRate)
	if err != nil {
		return nil, err
	}
	return m.(*Rate), nil
}

// Trend returns the named trend, creating it if needed.
func (r *Registry) Trend(name string) (*Trend, error) {
	m, err := r.Declare(name, KindTrend)
	if err != nil {
		return nil, err
	}
	return m.(*Trend), nil
}

// Gauge returns the named gauge, creating it if needed.
func (r *Registry) Gauge(name string) (*Gauge, error) {
	m, err := r.Declare(name, KindGauge)
	if err != nil {
		return nil, err
	}
	return m.(*Gauge), nil
}

// Lookup returns an existing metric without creating it.
func (r *Registry) Lookup(name string) (Metric, bool) {
	m, ok := r.metrics.Load(name)
	if !ok {
		return nil, false
	}
	return m.(Metric), true
}

// Names returns all metric names in sorted order.
func (r *Registry) Names() []string {
	var names []string
	r.metrics.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Snapshot returns a snapshot of every registered metric.
func (r *Registry) Snapshot() map[string]Snapshot {
	out := make(map[string]Snapshot)
	r.metrics.Range(func(key, value any) bool {
		out[key.(string)] = value.(Metric).Snapshot()
		return true
	})
	return out
}
