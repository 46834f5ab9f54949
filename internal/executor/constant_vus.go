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

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// This is the simplest executor: spawn N VUs and let them run iterations
// until the duration expires. Each VU runs as fast as its flow allows
// (closed model).
type ConstantVUs struct {
	config    *Config
	scheduler atomic.Pointer[vu.VUScheduler]
	log       *zap.Logger

	// State
	startTime atomic.Int64
	endTime   atomic.Int64
	running   atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{stopCh: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.log = config.logger().With(zap.String("scenario", config.Name))
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *vu.VUScheduler) error {
	if e.config == nil {
		return fmt.Errorf("executor %s: Init was not called", TypeConstantVUs)
	}
	e.scheduler.Store(scheduler)
	e.running.Store(true)
	defer e.running.Store(false)
	e.startTime.Store(time.Now().UnixNano())
	defer func() { e.endTime.Store(time.Now().UnixNano()) }()

	// VUs run with iterCtx so that graceful stop expiry can interrupt them
	// without touching the caller's context.
	iterCtx, cancelIter := context.WithCancel(ctx)
	defer cancelIter()

	e.log.Info("scenario started",
		zap.String("executor", string(TypeConstantVUs)),
		zap.Int("vus", e.config.VUs),
		zap.Duration("duration", e.config.Duration),
	)

	for i := 0; i < e.config.VUs; i++ {
		scheduler.Start(iterCtx, scheduler.SpawnVU())
	}

	timer := time.NewTimer(e.config.Duration)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-e.stopCh:
	case <-ctx.Done():
	}

	drain(scheduler, e.config.gracefulStop(), cancelIter, e.log)
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	return progress(e.startTime.Load(), e.running.Load(), e.config.Duration)
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	scheduler := e.scheduler.Load()
	if scheduler == nil {
		return 0
	}
	return scheduler.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	stats := &Stats{
		CurrentTime:   time.Now(),
		TotalDuration: e.config.Duration,
		ActiveVUs:     e.GetActiveVUs(),
	}
	if start := e.startTime.Load(); start != 0 {
		stats.StartTime = time.Unix(0, start)
		stats.Elapsed = elapsedSince(start, e.endTime.Load())
		stats.TargetVUs = e.config.Curve().TargetAt(stats.Elapsed)
	}
	if scheduler := e.scheduler.Load(); scheduler != nil {
		stats.Iterations = scheduler.Iterations()
	}
	return stats
}

// Stop ends the run early.
func (e *ConstantVUs) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// drain asks every VU to stop after its current iteration and waits up to
// grace for them. When grace expires the remaining iterations are
// interrupted through cancelIter.
func drain(scheduler *vu.VUScheduler, grace time.Duration, cancelIter context.CancelFunc, log *zap.Logger) {
	scheduler.StopAllVUs()
	if grace > 0 && scheduler.Wait(grace) {
		log.Info("scenario finished", zap.Int64("iterations", scheduler.Iterations()))
		return
	}

	log.Warn("graceful stop expired, interrupting iterations",
		zap.Duration("gracefulStop", grace),
		zap.Int("remaining", scheduler.WaitForAllVUs(0)),
	)
	cancelIter()
	scheduler.Wait(0)
	log.Info("scenario finished", zap.Int64("iterations", scheduler.Iterations()))
}

func progress(startNanos int64, running bool, total time.Duration) float64 {
	if startNanos == 0 {
		return 0.0
	}
	if !running || total <= 0 {
		return 1.0
	}
	p := float64(time.Since(time.Unix(0, startNanos))) / float64(total)
	if p > 1.0 {
		p = 1.0
	}
	return p
}

func elapsedSince(startNanos, endNanos int64) time.Duration {
	if endNanos != 0 {
		return time.Duration(endNanos - startNanos)
	}
	return time.Since(time.Unix(0, startNanos))
}

// Ensure ConstantVUs implements Executor
var _ Executor = (*ConstantVUs)(nil)
