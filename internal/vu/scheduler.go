package vu

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/scenario"
	"github.com/wesleyorama2/surge/internal/transport"
)

// Census counts live VUs across every scheduler of a run and mirrors the
// count into the vus and vus_max gauges.
type Census struct {
	mu   sync.Mutex
	live int
	peak int

	vus    *metrics.Gauge
	vusMax *metrics.Gauge
}

// NewCensus creates a census. Either gauge may be nil.
func NewCensus(vus, vusMax *metrics.Gauge) *Census {
	return &Census{vus: vus, vusMax: vusMax}
}

// Live returns the number of VU goroutines currently running.
func (c *Census) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Peak returns the highest live count observed.
func (c *Census) Peak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// add is serialized so the gauges never observe counts out of order.
func (c *Census) add(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.live += delta
	if c.vus != nil {
		c.vus.Set(float64(c.live))
	}
	if c.live > c.peak {
		c.peak = c.live
		if c.vusMax != nil {
			c.vusMax.Set(float64(c.peak))
		}
	}
}

// SchedulerConfig describes the VUs one scheduler creates.
type SchedulerConfig struct {
	// Scenario is the owning scenario name, used in logs.
	Scenario string

	// Flow is what every VU iterates.
	Flow *scenario.Flow

	Client      transport.Client
	Instruments *scenario.Instruments

	// Variables seed every iteration.
	Variables map[string]string

	// Tags are attached to every request.
	Tags map[string]string

	Logger *zap.Logger
	Census *Census

	// Seed makes per-VU random sources reproducible. Zero uses the clock.
	Seed int64
}

// VUScheduler manages the lifecycle of the Virtual Users of one scenario.
//
// It provides:
// - VU spawning with a private executor and random source per VU
// - Stopping the most recently spawned VUs first
// - Graceful shutdown coordination
//
// Executors use the scheduler to follow their target curve.
type VUScheduler struct {
	cfg SchedulerConfig
	log *zap.Logger

	// vus holds spawned, not yet exited VUs in spawn order
	vus   []*VirtualUser
	vusMu sync.Mutex

	nextVUID atomic.Int32

	iterations atomic.Int64
	spawned    atomic.Int64

	wg sync.WaitGroup
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(cfg SchedulerConfig) *VUScheduler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Census == nil {
		cfg.Census = NewCensus(nil, nil)
	}
	return &VUScheduler{
		cfg: cfg,
		log: log.With(zap.String("scenario", cfg.Scenario)),
	}
}

// SpawnVU creates and registers a new Virtual User.
//
// The VU is not started; pass it to Start.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	seed := s.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	exec := scenario.NewExecutor(s.cfg.Client, s.cfg.Instruments,
		scenario.WithLogger(s.log.With(zap.Int("vu", id))),
		scenario.WithRand(rand.New(rand.NewSource(seed+int64(id)))),
		scenario.WithVariables(s.cfg.Variables),
		scenario.WithTags(s.cfg.Tags),
	)
	vu := NewVirtualUser(id, s.cfg.Flow, exec)

	s.vusMu.Lock()
	s.vus = append(s.vus, vu)
	s.vusMu.Unlock()

	s.spawned.Add(1)
	return vu
}

// Start runs vu on its own goroutine until it is stopped or ctx ends.
func (s *VUScheduler) Start(ctx context.Context, vu *VirtualUser) {
	s.wg.Add(1)
	go s.RunVU(ctx, vu)
}

// RunVU runs a VU until it's stopped or the context is cancelled.
//
// The stop signal is checked only between iterations. Cancelling ctx
// interrupts the iteration in flight. It is the goroutine body used by
// Start, which accounts for it in Wait.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser) {
	defer s.wg.Done()
	defer s.retire(vu)

	s.cfg.Census.add(1)
	defer s.cfg.Census.add(-1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-vu.Stopping():
			return
		default:
		}

		res, ok := vu.RunIteration(ctx)
		if !ok || res.Interrupted {
			return
		}
		s.iterations.Add(1)
	}
}

// retire marks vu stopped and drops it from the live list.
func (s *VUScheduler) retire(vu *VirtualUser) {
	vu.MarkStopped()

	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	for i, v := range s.vus {
		if v == vu {
			s.vus = append(s.vus[:i], s.vus[i+1:]...)
			break
		}
	}
}

// GetActiveVUCount returns the VUs that have not been asked to stop.
// Draining VUs are not included.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	count := 0
	for _, vu := range s.vus {
		if st := vu.GetState(); st == StateIdle || st == StateRunning {
			count++
		}
	}
	return count
}

// StopNewest requests a graceful stop on up to n active VUs, most recently
// spawned first. It returns how many were asked to stop.
func (s *VUScheduler) StopNewest(n int) int {
	if n <= 0 {
		return 0
	}
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	stopped := 0
	for i := len(s.vus) - 1; i >= 0 && stopped < n; i-- {
		if s.vus[i].RequestStop() {
			stopped++
		}
	}
	return stopped
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Wait blocks until every started VU has exited or timeout elapses. It
// reports whether all VUs exited. A non-positive timeout waits forever.
func (s *VUScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// WaitForAllVUs waits for all VUs to stop with a timeout.
//
// Returns the number of VUs that did not stop within the timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	s.vusMu.Lock()
	vus := make([]*VirtualUser, len(s.vus))
	copy(vus, s.vus)
	s.vusMu.Unlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if vu.GetState() != StateStopped {
				notStopped++
			}
			continue
		}
		if !vu.WaitForStop(remaining) {
			notStopped++
		}
	}
	return notStopped
}

// Iterations returns the completed iterations of every VU of this scheduler.
func (s *VUScheduler) Iterations() int64 {
	return s.iterations.Load()
}

// Spawned returns how many VUs this scheduler has created.
func (s *VUScheduler) Spawned() int64 {
	return s.spawned.Load()
}
