// Package vu manages virtual users and their lifecycle.
package vu

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/surge/internal/scenario"
)

// State represents the lifecycle state of a Virtual User.
type State int32

const (
	// StateIdle indicates the VU is between iterations.
	StateIdle State = iota
	// StateRunning indicates the VU is inside an iteration.
	StateRunning
	// StateStopping indicates the VU has been asked to stop after its
	// current iteration.
	StateStopping
	// StateStopped indicates the VU goroutine has exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated user looping over a flow.
//
// A VU holds only loop-local state: the per-iteration variables live in
// the scenario executor and are discarded at the end of each iteration.
type VirtualUser struct {
	// ID is unique within the owning scheduler, assigned in spawn order.
	ID int

	flow *scenario.Flow
	exec *scenario.Executor

	state atomic.Int32

	// stopCh is closed by RequestStop
	stopCh chan struct{}

	// doneCh is closed when the VU goroutine exits
	doneCh chan struct{}

	iterations atomic.Int64
	errored    atomic.Int64
}

// NewVirtualUser creates a VU that runs flow through exec.
func NewVirtualUser(id int, flow *scenario.Flow, exec *scenario.Executor) *VirtualUser {
	return &VirtualUser{
		ID:     id,
		flow:   flow,
		exec:   exec,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() State {
	return State(vu.state.Load())
}

// Iterations returns the number of completed iterations.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

// FailedIterations returns how many completed iterations had at least one
// failed call.
func (vu *VirtualUser) FailedIterations() int64 {
	return vu.errored.Load()
}

// RunIteration executes one pass over the flow.
//
// The stop signal is not observed here: an iteration that has started runs
// to completion unless ctx ends. ok is false when the VU was already
// stopping, in which case nothing ran.
func (vu *VirtualUser) RunIteration(ctx context.Context) (res scenario.IterationResult, ok bool) {
	if !vu.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return res, false
	}

	res = vu.exec.RunIteration(ctx, vu.flow)
	if !res.Interrupted {
		vu.iterations.Add(1)
		if res.HadError {
			vu.errored.Add(1)
		}
	}

	// A concurrent RequestStop leaves the state at stopping.
	vu.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
	return res, true
}

// Stopping returns a channel closed once a stop has been requested.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// Done returns a channel closed when the VU has fully stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// RequestStop signals the VU to stop after completing the current iteration.
// It reports whether this call initiated the stop.
func (vu *VirtualUser) RequestStop() bool {
	if vu.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) ||
		vu.state.CompareAndSwap(int32(StateIdle), int32(StateStopping)) {
		close(vu.stopCh)
		return true
	}
	return false
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Should be called by the scheduler when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := State(vu.state.Swap(int32(StateStopped)))
	if prev == StateStopped {
		return
	}
	if prev != StateStopping {
		close(vu.stopCh)
	}
	close(vu.doneCh)
}
