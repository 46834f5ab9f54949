package scenario

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/state"
	"github.com/wesleyorama2/surge/internal/transport"
)

// Step is one compiled element of a flow.
type Step interface {
	// Kind returns the step type (call, sleep, pick, branch, group, record).
	Kind() string

	// Label returns a human-readable name for logs.
	Label() string

	run(ctx context.Context, it *iteration)
}

// Flow is a named, compiled step list.
type Flow struct {
	Name  string
	Steps []Step
}

// Extraction binds one response value to a variable.
type Extraction struct {
	Name   string
	Source string
	Path   string
	Pool   *state.Pool
}

// CallStep performs one remote operation.
type CallStep struct {
	name        string
	method      string
	url         *Template
	body        *Template
	headers     map[string]*Template
	timeout     time.Duration
	maxDuration time.Duration
	requires    []string
	extract     []Extraction
	schema      *transport.Schema
	trend       *metrics.Trend
}

func (s *CallStep) Kind() string  { return "call" }
func (s *CallStep) Label() string { return s.name }

func (s *CallStep) run(ctx context.Context, it *iteration) {
	if name, ok := it.missing(s.requires); !ok {
		it.skip(s, fmt.Sprintf("variable %q is not bound", name))
		return
	}

	req, err := s.render(it)
	if err != nil {
		it.skip(s, err.Error())
		return
	}

	res := it.ex.client.Execute(ctx, req)
	if res.Err != nil && ctx.Err() != nil {
		// Aborted by graceful-stop expiry or run cancellation; not a sample.
		it.res.Interrupted = true
		return
	}
	it.res.StepsExecuted++

	if !it.ex.record(s, res) {
		it.res.HadError = true
		return
	}
	s.bindOutputs(it, res)
}

func (s *CallStep) render(it *iteration) (*transport.Request, error) {
	url, err := s.url.Render(it.vars)
	if err != nil {
		return nil, err
	}
	body, err := s.body.Render(it.vars)
	if err != nil {
		return nil, err
	}

	req := &transport.Request{
		Name:    s.name,
		Method:  s.method,
		URL:     url,
		Timeout: s.timeout,
		Tags:    it.ex.tags,
	}
	if body != "" {
		req.Body = []byte(body)
	}
	if len(s.headers) > 0 {
		req.Headers = make(map[string]string, len(s.headers))
		for key, t := range s.headers {
			v, err := t.Render(it.vars)
			if err != nil {
				return nil, err
			}
			req.Headers[key] = v
		}
	}
	return req, nil
}

// bindOutputs decodes the response and binds the extracted values.
// A malformed body leaves every output absent.
func (s *CallStep) bindOutputs(it *iteration, res *transport.Result) {
	if len(s.extract) == 0 && s.schema == nil {
		return
	}

	var doc gjson.Result
	if s.needsBody() {
		var err error
		doc, err = res.JSON()
		if err == nil && s.schema != nil {
			err = s.schema.Validate(res.Body)
		}
		if err != nil {
			it.ex.log.Debug("malformed response",
				zap.String("step", s.name),
				zap.Int("status", res.StatusCode),
				zap.Error(err),
			)
			return
		}
	}

	for _, ex := range s.extract {
		value, err := extractValue(ex, doc, res)
		if err != nil {
			it.ex.log.Debug("extraction failed",
				zap.String("step", s.name),
				zap.String("variable", ex.Name),
				zap.Error(err),
			)
			continue
		}
		it.vars[ex.Name] = value
		if ex.Pool != nil {
			ex.Pool.Append(value)
		}
	}
}

func (s *CallStep) needsBody() bool {
	if s.schema != nil {
		return true
	}
	for _, ex := range s.extract {
		if ex.Source == "" || ex.Source == "body" {
			return true
		}
	}
	return false
}

func extractValue(ex Extraction, doc gjson.Result, res *transport.Result) (string, error) {
	switch ex.Source {
	case "header":
		v := res.Headers.Get(ex.Path)
		if v == "" {
			return "", fmt.Errorf("header %q not present", ex.Path)
		}
		return v, nil
	case "status":
		return strconv.Itoa(res.StatusCode), nil
	default:
		return transport.Extract(doc, ex.Path)
	}
}

// SleepStep pauses the VU without blocking a thread.
type SleepStep struct {
	name     string
	duration time.Duration
	min      time.Duration
	max      time.Duration
}

func (s *SleepStep) Kind() string  { return "sleep" }
func (s *SleepStep) Label() string { return s.name }

func (s *SleepStep) run(ctx context.Context, it *iteration) {
	d := s.duration
	if s.max > 0 {
		d = s.min
		if span := s.max - s.min; span > 0 {
			d += time.Duration(it.ex.rng.Int63n(int64(span) + 1))
		}
	}
	it.res.StepsExecuted++
	if !sleep(ctx, d) {
		it.res.Interrupted = true
	}
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// PickStep binds a random pool element to a variable.
type PickStep struct {
	name      string
	pool      *state.Pool
	as        string
	otherwise []Step
}

func (s *PickStep) Kind() string  { return "pick" }
func (s *PickStep) Label() string { return s.name }

func (s *PickStep) run(ctx context.Context, it *iteration) {
	it.res.StepsExecuted++
	if id, ok := s.pool.Random(it.ex.rng); ok {
		it.vars[s.as] = id
		return
	}
	delete(it.vars, s.as)
	it.runSteps(ctx, s.otherwise)
}

// BranchStep chooses between two step lists.
type BranchStep struct {
	name        string
	probability float64
	conditions  []string
	distinct    []string
	then        []Step
	otherwise   []Step
}

func (s *BranchStep) Kind() string  { return "branch" }
func (s *BranchStep) Label() string { return s.name }

func (s *BranchStep) run(ctx context.Context, it *iteration) {
	it.res.StepsExecuted++
	if s.taken(it) {
		it.runSteps(ctx, s.then)
		return
	}
	it.runSteps(ctx, s.otherwise)
}

func (s *BranchStep) taken(it *iteration) bool {
	if _, ok := it.missing(s.conditions); !ok {
		return false
	}
	if !it.distinct(s.distinct) {
		return false
	}
	switch {
	case s.probability >= 1:
		return true
	case s.probability <= 0:
		return false
	default:
		return it.ex.rng.Float64() < s.probability
	}
}

// RecordStep adds one sample to a declared custom metric.
type RecordStep struct {
	name     string
	metric   metrics.Metric
	value    *Template
	requires []string
}

func (s *RecordStep) Kind() string  { return "record" }
func (s *RecordStep) Label() string { return s.name }

func (s *RecordStep) run(_ context.Context, it *iteration) {
	if name, ok := it.missing(s.requires); !ok {
		it.skip(s, fmt.Sprintf("variable %q is not bound", name))
		return
	}
	raw, err := s.value.Render(it.vars)
	if err != nil {
		it.skip(s, err.Error())
		return
	}
	v, err := metrics.ParseSample(s.metric.Kind(), raw)
	if err != nil {
		it.skip(s, err.Error())
		return
	}
	it.res.StepsExecuted++
	metrics.Record(s.metric, v)
}

// GroupStep runs a named sub-list.
type GroupStep struct {
	name  string
	steps []Step
	trend *metrics.Trend
}

func (s *GroupStep) Kind() string  { return "group" }
func (s *GroupStep) Label() string { return s.name }

func (s *GroupStep) run(ctx context.Context, it *iteration) {
	it.res.StepsExecuted++
	start := time.Now()
	it.runSteps(ctx, s.steps)
	if s.trend != nil && !it.res.Interrupted {
		s.trend.Add(millis(time.Since(start)))
	}
}

// iteration is the loop-local state of one RunIteration call.
type iteration struct {
	ex   *Executor
	vars map[string]string
	res  *IterationResult
}

func (it *iteration) runSteps(ctx context.Context, steps []Step) {
	for _, st := range steps {
		if it.res.Interrupted || ctx.Err() != nil {
			it.res.Interrupted = true
			return
		}
		st.run(ctx, it)
	}
}

// missing returns the first unbound name, with ok=false, or ok=true when
// every name is bound.
func (it *iteration) missing(names []string) (string, bool) {
	for _, name := range names {
		if v, ok := it.vars[name]; !ok || v == "" {
			return name, false
		}
	}
	return "", true
}

// distinct reports whether every name is bound to a different value.
func (it *iteration) distinct(names []string) bool {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		v, ok := it.vars[name]
		if !ok || v == "" {
			return false
		}
		if _, dup := seen[v]; dup {
			return false
		}
		seen[v] = struct{}{}
	}
	return true
}

func (it *iteration) skip(s Step, reason string) {
	it.res.StepsSkipped++
	it.ex.log.Debug("step skipped",
		zap.String("step", s.Label()),
		zap.String("reason", cleanTemplateError(reason)),
	)
}

// cleanTemplateError trims the template location prefix from render errors.
func cleanTemplateError(msg string) string {
	if i := strings.LastIndex(msg, ": "); i >= 0 && strings.HasPrefix(msg, "template: ") {
		return msg[i+2:]
	}
	return msg
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

var errNoSteps = errors.New("flow has no steps")
