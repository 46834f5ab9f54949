// Package metrics provides the named metric registry shared by every virtual user.
//
// Four kinds of metrics are supported:
//
//   - Counter: a monotonically increasing integer total
//   - Rate: the fraction of boolean observations that were true
//   - Trend: a distribution of numeric samples (min, max, avg, percentiles)
//   - Gauge: the last value set, plus the highest value ever set
//
// Metrics are created lazily on first use and are never removed while a
// run is in progress.
//
// # Basic Usage
//
//	reg := metrics.NewRegistry()
//
//	reqs, _ := reg.Counter("http_reqs")
//	reqs.Add(1)
//
//	failed, _ := reg.Rate("http_req_failed")
//	failed.Add(false)
//
//	dur, _ := reg.Trend("http_req_duration")
//	dur.Add(12.5)
//	fmt.Printf("p95: %.2fms\n", dur.Percentile(95))
//
// Asking for an existing name with a different kind returns ErrKindConflict.
//
// # Thread Safety
//
// Counters, rates and gauges use atomic operations. Trends record into
// sharded HDR histograms, each shard behind its own mutex, and merge the
// shards at read time. No lock is held across more than one shard, so reads
// running next to writers never deadlock.
package metrics
