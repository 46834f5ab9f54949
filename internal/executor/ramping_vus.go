package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/vu"
)

// RampingVUs ramps VU count up and down according to stages.
//
// A controller compares the live VU count with the curve on every
// reconcile tick, spawning the shortfall and asking the most recently
// spawned VUs to stop when there are too many. VUs asked to stop finish
// their current iteration first.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from startVUs to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	config    *Config
	curve     RampingCurve
	scheduler atomic.Pointer[vu.VUScheduler]
	log       *zap.Logger

	// State
	startTime    atomic.Int64
	endTime      atomic.Int64
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{stopCh: make(chan struct{})}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.curve = RampingCurve{StartVUs: config.StartVUs, Stages: config.Stages}
	e.log = config.logger().With(zap.String("scenario", config.Name))
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *vu.VUScheduler) error {
	if e.config == nil {
		return fmt.Errorf("executor %s: Init was not called", TypeRampingVUs)
	}
	e.scheduler.Store(scheduler)
	e.running.Store(true)
	defer e.running.Store(false)

	start := time.Now()
	e.startTime.Store(start.UnixNano())
	defer func() { e.endTime.Store(time.Now().UnixNano()) }()

	iterCtx, cancelIter := context.WithCancel(ctx)
	defer cancelIter()

	e.log.Info("scenario started",
		zap.String("executor", string(TypeRampingVUs)),
		zap.Int("startVUs", e.config.StartVUs),
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", e.curve.Duration()),
	)

	e.vuController(ctx, iterCtx, start)

	drain(scheduler, e.config.gracefulStop(), cancelIter, e.log)
	e.targetVUs.Store(0)
	return nil
}

// vuController adjusts VU count according to stages until the curve ends,
// Stop is called or ctx is cancelled.
func (e *RampingVUs) vuController(ctx, iterCtx context.Context, start time.Time) {
	total := e.curve.Duration()

	// t=0 is reconciled right away so startVUs and zero-length first
	// stages take effect without waiting a tick.
	e.reconcile(iterCtx, 0)
	if total <= 0 {
		return
	}

	ticker := time.NewTicker(e.config.reconcileInterval())
	defer ticker.Stop()
	end := time.NewTimer(total)
	defer end.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-end.C:
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed >= total {
				return
			}
			e.reconcile(iterCtx, elapsed)
		}
	}
}

// reconcile moves the live VU count toward the curve's target at elapsed.
func (e *RampingVUs) reconcile(ctx context.Context, elapsed time.Duration) {
	target := e.curve.TargetAt(elapsed)
	e.targetVUs.Store(int32(target))

	stage := e.curve.StageAt(elapsed)
	if prev := e.currentStage.Swap(int32(stage)); int(prev) != stage && stage < len(e.config.Stages) {
		e.log.Debug("stage changed",
			zap.Int("stage", stage),
			zap.String("name", e.config.Stages[stage].Name),
			zap.Int("target", e.config.Stages[stage].Target),
		)
	}

	scheduler := e.scheduler.Load()
	live := scheduler.GetActiveVUCount()
	if target == live {
		return
	}

	spawn := func() {
		for i := live; i < target; i++ {
			scheduler.Start(ctx, scheduler.SpawnVU())
		}
	}
	stop := func() {
		if live > target {
			scheduler.StopNewest(live - target)
		}
	}

	if e.config.ReconcileOrder == OrderSpawnFirst {
		spawn()
		stop()
	} else {
		stop()
		spawn()
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	return progress(e.startTime.Load(), e.running.Load(), e.curve.Duration())
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	scheduler := e.scheduler.Load()
	if scheduler == nil {
		return 0
	}
	return scheduler.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	stats := &Stats{
		CurrentTime:   time.Now(),
		TotalDuration: e.curve.Duration(),
		ActiveVUs:     e.GetActiveVUs(),
		TargetVUs:     int(e.targetVUs.Load()),
		TotalStages:   len(e.config.Stages),
	}
	if start := e.startTime.Load(); start != 0 {
		stats.StartTime = time.Unix(0, start)
		stats.Elapsed = elapsedSince(start, e.endTime.Load())
	}
	stageIdx := int(e.currentStage.Load())
	stats.CurrentStage = stageIdx
	if stageIdx < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[stageIdx].Name
	}
	if scheduler := e.scheduler.Load(); scheduler != nil {
		stats.Iterations = scheduler.Iterations()
	}
	return stats
}

// Stop ends the curve early.
func (e *RampingVUs) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
