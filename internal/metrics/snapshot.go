package metrics

// Snapshot is a point-in-time view of one metric.
//
// Only the fields relevant to Kind are populated:
//   - counter: Count, Value (the total)
//   - rate: Count (observations), Passes, Fails, Rate, Value (= Rate)
//   - trend: Count, Min, Max, Avg, Med, P90, P95, P99, Value (= Avg)
//   - gauge: Count (sets), Value (current), Max
type Snapshot struct {
	Name   string  `json:"name"`
	Kind   Kind    `json:"kind"`
	Count  int64   `json:"count"`
	Value  float64 `json:"value"`
	Rate   float64 `json:"rate,omitempty"`
	Passes int64   `json:"passes,omitempty"`
	Fails  int64   `json:"fails,omitempty"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Avg    float64 `json:"avg,omitempty"`
	Med    float64 `json:"med,omitempty"`
	P90    float64 `json:"p90,omitempty"`
	P95    float64 `json:"p95,omitempty"`
	P99    float64 `json:"p99,omitempty"`
}

// Empty reports whether the snapshot holds no samples.
func (s Snapshot) Empty() bool {
	return s.Count == 0
}
