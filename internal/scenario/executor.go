package scenario

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/transport"
)

// IterationResult summarizes one pass over a flow.
type IterationResult struct {
	StepsExecuted int
	StepsSkipped  int

	// HadError is set when at least one call failed.
	HadError bool

	// Interrupted is set when the context ended before the flow completed.
	// Interrupted iterations are not counted in the iteration metrics.
	Interrupted bool

	Duration time.Duration
}

// Executor runs iterations for a single VU.
type Executor struct {
	client  transport.Client
	inst    *Instruments
	log     *zap.Logger
	rng     *rand.Rand
	globals map[string]string
	tags    map[string]string

	skipIterationMetrics bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// WithRand sets the random source used for branches, picks and jittered
// sleeps. It is not shared with other executors.
func WithRand(rng *rand.Rand) Option {
	return func(e *Executor) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithVariables sets the variables every iteration starts with.
func WithVariables(vars map[string]string) Option {
	return func(e *Executor) {
		for k, v := range vars {
			e.globals[k] = v
		}
	}
}

// WithTags attaches tags to every request.
func WithTags(tags map[string]string) Option {
	return func(e *Executor) {
		e.tags = tags
	}
}

// WithoutIterationMetrics keeps the iteration counters untouched. The
// setup flow runs this way; its calls are still recorded.
func WithoutIterationMetrics() Option {
	return func(e *Executor) {
		e.skipIterationMetrics = true
	}
}

// NewExecutor creates an executor that sends calls through client and
// records into inst.
func NewExecutor(client transport.Client, inst *Instruments, opts ...Option) *Executor {
	e := &Executor{
		client:  client,
		inst:    inst,
		log:     zap.NewNop(),
		globals: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

// RunIteration executes every step of flow once.
//
// Call failures never abort the iteration: they are recorded, logged and
// the flow moves on. Only ctx ending stops it early.
func (e *Executor) RunIteration(ctx context.Context, flow *Flow) IterationResult {
	var res IterationResult
	it := &iteration{
		ex:   e,
		vars: make(map[string]string, len(e.globals)+8),
		res:  &res,
	}
	for k, v := range e.globals {
		it.vars[k] = v
	}

	start := time.Now()
	it.runSteps(ctx, flow.Steps)
	res.Duration = time.Since(start)

	if !res.Interrupted && !e.skipIterationMetrics {
		e.inst.Iterations.Add(1)
		e.inst.IterationDuration.Add(millis(res.Duration))
	}
	return res
}

// record writes the call outcome into the built-in metrics and reports
// whether the call counts as a success.
func (e *Executor) record(s *CallStep, res *transport.Result) bool {
	ms := res.ElapsedMillis()

	e.inst.HTTPReqs.Add(1)
	e.inst.TotalRequests.Add(1)
	e.inst.DataReceived.Add(int64(len(res.Body)))
	e.inst.HTTPReqDuration.Add(ms)
	e.inst.HTTPReqFailed.Add(!res.Success())

	ok := res.Success()
	slow := ok && s.maxDuration > 0 && res.Elapsed > s.maxDuration
	if slow {
		ok = false
	}
	e.inst.Errors.Add(!ok)

	if ok {
		if s.trend != nil {
			s.trend.Add(ms)
		}
		return true
	}

	fields := []zap.Field{
		zap.String("step", s.name),
		zap.String("method", s.method),
		zap.Int("status", res.StatusCode),
		zap.Duration("elapsed", res.Elapsed),
	}
	switch {
	case res.Err != nil:
		fields = append(fields, zap.Error(res.Err))
	case slow:
		fields = append(fields, zap.Duration("maxDuration", s.maxDuration))
	}
	e.log.Warn("request failed", fields...)
	return false
}
