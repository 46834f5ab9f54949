// Package engine orchestrates a load test run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/executor"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/report"
	"github.com/wesleyorama2/surge/internal/scenario"
	"github.com/wesleyorama2/surge/internal/state"
	"github.com/wesleyorama2/surge/internal/threshold"
	"github.com/wesleyorama2/surge/internal/transport"
	"github.com/wesleyorama2/surge/internal/vu"
)

// ErrAlreadyRunning is returned by Run while another run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

// Engine is the main orchestrator for a test run.
//
// It coordinates:
//   - Configuration validation and defaults
//   - The setup flow and every scenario with its executor
//   - The run-scoped metric registry and shared pools
//   - Threshold evaluation and report assembly
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("plan.yaml")
//	eng, _ := engine.New(cfg)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config *config.TestConfig
	rules  []threshold.Rule

	client    transport.Client
	ownClient *transport.HTTPClient

	log  *zap.Logger
	seed int64

	mu      sync.RWMutex
	running bool
	current *Run
}

// Run is the state of one execution. Its registry and pools live exactly as
// long as the run.
type Run struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time

	Registry *metrics.Registry
	Pools    *state.Store

	Scenarios map[string]*ScenarioRunner

	setup *scenario.Flow

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ScenarioRunner manages the execution of a single scenario.
type ScenarioRunner struct {
	Name       string
	Config     *config.ScenarioConfig
	ExecConfig *executor.Config
	Executor   executor.Executor
	Scheduler  *vu.VUScheduler
	Flow       *scenario.Flow

	started  time.Time
	finished time.Time
	err      error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClient replaces the HTTP transport, mostly for tests.
func WithClient(c transport.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithLogger sets the run logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithSeed makes per-VU random choices reproducible. Zero uses the clock.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.seed = seed
	}
}

// New validates cfg, applies defaults and creates an engine.
//
// Configuration problems come back as *config.ValidationErrors before any
// VU exists.
func New(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.ApplyDefaults(cfg)

	rules, err := threshold.ParseRules(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	e := &Engine{
		config: cfg,
		rules:  rules,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		e.ownClient = newHTTPClient(cfg.Settings)
		e.client = e.ownClient
	}
	return e, nil
}

// newHTTPClient builds the shared client from the plan settings.
func newHTTPClient(s config.GlobalSettings) *transport.HTTPClient {
	httpCfg := transport.DefaultHTTPConfig()
	httpCfg.Timeout = s.Timeout.GetDuration(config.DefaultTimeout)
	if s.MaxIdleConnsPerHost > 0 {
		httpCfg.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	}
	httpCfg.MaxConnsPerHost = s.MaxConnectionsPerHost
	httpCfg.InsecureSkipVerify = s.InsecureSkipVerify

	opts := []transport.ClientOption{transport.WithBaseURL(s.BaseURL)}
	if s.UserAgent != "" {
		opts = append(opts, transport.WithHeader("User-Agent", s.UserAgent))
	}
	for k, v := range s.Headers {
		opts = append(opts, transport.WithHeader(k, v))
	}
	return transport.NewHTTPClient(httpCfg, opts...)
}

// Config returns the validated configuration with defaults applied.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}

// Run executes the setup flow and then every scenario, each after its start
// offset, and returns the assembled result.
//
// Threshold failures are reported in the result, not as an error. When ctx
// is cancelled in-flight iterations are interrupted and the partial result
// is returned with Aborted set.
func (e *Engine) Run(ctx context.Context) (*report.Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		if e.ownClient != nil {
			e.ownClient.CloseIdleConnections()
		}
	}()

	run, inst, err := e.prepare(ctx)
	if err != nil {
		return nil, err
	}

	run.StartTime = time.Now()
	e.mu.Lock()
	e.current = run
	e.mu.Unlock()

	log := e.log.With(zap.String("run", run.ID))
	log.Info("run started",
		zap.String("name", e.config.Name),
		zap.Int("scenarios", len(run.Scenarios)))

	e.runSetup(ctx, run, inst, log)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range sortedNames(run.Scenarios) {
		runner := run.Scenarios[name]
		g.Go(func() error {
			return e.runScenario(gctx, run, runner, log)
		})
	}
	runErr := g.Wait()

	e.mu.Lock()
	run.EndTime = time.Now()
	e.mu.Unlock()

	elapsed := run.EndTime.Sub(run.StartTime)
	verdicts := threshold.NewEvaluator(e.rules).Evaluate(run.Registry, elapsed)

	res := report.Assemble(report.Input{
		RunID:       run.ID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   run.StartTime,
		EndTime:     run.EndTime,
		Aborted:     ctx.Err() != nil,
		Metrics:     run.Registry,
		Thresholds:  verdicts,
		Scenarios:   summaries(run),
		Pools:       run.Pools.Sizes(),
	})

	log.Info("run finished",
		zap.Duration("duration", elapsed),
		zap.Int64("iterations", res.Iterations),
		zap.Bool("passed", res.Passed),
		zap.Bool("aborted", res.Aborted))

	return res, runErr
}

// prepare builds the run: registry, pools, compiled flows and one executor
// and scheduler per scenario.
func (e *Engine) prepare(ctx context.Context) (*Run, *scenario.Instruments, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Registry:  metrics.NewRegistry(),
		Pools:     state.NewStore(),
		Scenarios: make(map[string]*ScenarioRunner, len(e.config.Scenarios)),
		stopCh:    make(chan struct{}),
	}

	if err := run.Registry.DeclareBuiltins(); err != nil {
		return nil, nil, err
	}
	kinds := e.config.MetricKinds()
	for _, name := range sortedNames(kinds) {
		if _, err := run.Registry.Declare(name, kinds[name]); err != nil {
			return nil, nil, fmt.Errorf("metric %s: %w", name, err)
		}
	}

	inst, err := scenario.NewInstruments(run.Registry)
	if err != nil {
		return nil, nil, err
	}

	compiler := scenario.NewCompiler(run.Registry, run.Pools)
	flows, err := compiler.CompileAll(e.config.Flows)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile flows: %w", err)
	}
	if len(e.config.Setup) > 0 {
		setup, err := compiler.Compile("setup", e.config.Setup)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to compile setup: %w", err)
		}
		run.setup = setup
	}

	vus, err := run.Registry.Gauge(metrics.VUs)
	if err != nil {
		return nil, nil, err
	}
	vusMax, err := run.Registry.Gauge(metrics.VUsMax)
	if err != nil {
		return nil, nil, err
	}
	census := vu.NewCensus(vus, vusMax)

	globals := e.variables()
	for i, name := range sortedNames(e.config.Scenarios) {
		sc := e.config.Scenarios[name]
		log := e.log.With(zap.String("scenario", name))

		execCfg, err := executor.ConfigFromScenario(name, sc, e.config.Settings, log)
		if err != nil {
			return nil, nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		exec, err := executor.CreateAndInitExecutor(ctx, execCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create executor for scenario %s: %w", name, err)
		}

		flow, ok := flows[sc.Exec]
		if !ok {
			return nil, nil, fmt.Errorf("scenario %s: unknown flow %q", name, sc.Exec)
		}

		seed := e.seed
		if seed != 0 {
			seed += int64(i) * 1_000_003
		}

		run.Scenarios[name] = &ScenarioRunner{
			Name:       name,
			Config:     sc,
			ExecConfig: execCfg,
			Executor:   exec,
			Flow:       flow,
			Scheduler: vu.NewVUScheduler(vu.SchedulerConfig{
				Scenario:    name,
				Flow:        flow,
				Client:      e.client,
				Instruments: inst,
				Variables:   globals,
				Tags:        scenarioTags(name, sc.Tags),
				Logger:      log,
				Census:      census,
				Seed:        seed,
			}),
		}
	}
	return run, inst, nil
}

// runSetup executes the setup steps once before any scenario starts.
func (e *Engine) runSetup(ctx context.Context, run *Run, inst *scenario.Instruments, log *zap.Logger) {
	if run.setup == nil {
		return
	}

	seed := e.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ex := scenario.NewExecutor(e.client, inst,
		scenario.WithLogger(log.With(zap.String("scenario", "setup"))),
		scenario.WithRand(rand.New(rand.NewSource(seed))),
		scenario.WithVariables(e.variables()),
		scenario.WithoutIterationMetrics(),
	)

	start := time.Now()
	res := ex.RunIteration(ctx, run.setup)
	log.Info("setup finished",
		zap.Int("steps", res.StepsExecuted),
		zap.Int("skipped", res.StepsSkipped),
		zap.Bool("errors", res.HadError),
		zap.Duration("duration", time.Since(start)))
}

// runScenario waits out the scenario's start offset and runs its executor.
func (e *Engine) runScenario(ctx context.Context, run *Run, r *ScenarioRunner, log *zap.Logger) error {
	if offset := r.ExecConfig.StartTime; offset > 0 {
		log.Debug("waiting for scenario start",
			zap.String("scenario", r.Name),
			zap.Duration("startTime", offset))

		timer := time.NewTimer(offset)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-run.stopCh:
			timer.Stop()
			return nil
		}
	}

	select {
	case <-run.stopCh:
		return nil
	default:
	}

	r.started = time.Now()
	err := r.Executor.Run(ctx, r.Scheduler)
	r.finished = time.Now()
	if err != nil {
		r.err = err
		return fmt.Errorf("scenario %s failed: %w", r.Name, err)
	}
	return nil
}

// Stop ends every scenario early. Scenarios still waiting for their start
// offset never start. In-flight iterations get their graceful stop budget.
func (e *Engine) Stop() {
	e.mu.RLock()
	run := e.current
	e.mu.RUnlock()
	if run == nil {
		return
	}

	run.stopOnce.Do(func() {
		close(run.stopCh)
	})
	for _, r := range run.Scenarios {
		r.Executor.Stop()
	}
}

// IsRunning reports whether a run is in progress.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Current returns the active or most recent run, or nil.
func (e *Engine) Current() *Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// GetProgress returns overall progress from 0.0 to 1.0: elapsed time over
// the latest scenario end (start offset plus curve length).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	run := e.current
	if run == nil {
		return 0
	}
	if !run.EndTime.IsZero() {
		return 1
	}

	var total time.Duration
	for _, r := range run.Scenarios {
		if end := r.ExecConfig.StartTime + r.ExecConfig.TotalDuration(); end > total {
			total = end
		}
	}
	if total <= 0 {
		return 0
	}

	p := float64(time.Since(run.StartTime)) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

// GetScenarioStats returns live executor statistics keyed by scenario name.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	run := e.Current()
	if run == nil {
		return nil
	}
	stats := make(map[string]*executor.Stats, len(run.Scenarios))
	for name, r := range run.Scenarios {
		stats[name] = r.Executor.GetStats()
	}
	return stats
}

// Registry returns the metric registry of the current run, or nil.
func (e *Engine) Registry() *metrics.Registry {
	run := e.Current()
	if run == nil {
		return nil
	}
	return run.Registry
}

// variables returns the plan variables plus baseUrl.
func (e *Engine) variables() map[string]string {
	vars := make(map[string]string, len(e.config.Variables)+2)
	for k, v := range e.config.Variables {
		vars[k] = v
	}
	if base := e.config.Settings.BaseURL; base != "" {
		vars["baseUrl"] = base
		vars["baseURL"] = base
	}
	return vars
}

// scenarioTags adds the scenario name to the configured tags.
func scenarioTags(name string, tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	out["scenario"] = name
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func summaries(run *Run) map[string]report.ScenarioSummary {
	out := make(map[string]report.ScenarioSummary, len(run.Scenarios))
	for name, r := range run.Scenarios {
		s := report.ScenarioSummary{
			Executor:   string(r.Executor.Type()),
			Exec:       r.Flow.Name,
			StartTime:  r.ExecConfig.StartTime,
			Iterations: r.Scheduler.Iterations(),
			VUsSpawned: r.Scheduler.Spawned(),
			MaxVUs:     executor.CalculateMaxVUs(r.ExecConfig),
		}
		if !r.started.IsZero() && !r.finished.IsZero() {
			s.Duration = r.finished.Sub(r.started)
		}
		if r.err != nil {
			s.Error = r.err.Error()
		}
		out[name] = s
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
