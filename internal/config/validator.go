package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/threshold"
	"github.com/wesleyorama2/surge/internal/transport"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field of every error, in order.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		fields = append(fields, err.Field)
	}
	return fields
}

// Validate validates the entire test plan.
//
// Returns nil if valid, or a *ValidationErrors containing all problems.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateSettings(&c.Settings, errs)
	validateLogging(&c.Logging, errs)

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	for _, name := range sortedKeys(c.Scenarios) {
		validateScenario(name, c.Scenarios[name], c.Flows, errs)
	}

	for _, name := range sortedKeys(c.Flows) {
		prefix := fmt.Sprintf("flows.%s", name)
		if len(c.Flows[name]) == 0 {
			errs.Add(prefix, "flow must contain at least one step")
		}
		validateSteps(prefix, c.Flows[name], errs)
	}
	validateSteps("setup", c.Setup, errs)

	kinds := collectMetricKinds(c, errs)
	validateThresholds(c.Thresholds, kinds, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, flows map[string][]StepConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)
	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}

	executor := NormalizeExecutor(sc.Executor)
	switch executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case ExecutorConstantVUs:
		validateConstantVUs(prefix, sc, errs)
	case ExecutorRampingVUs:
		validateRampingVUs(prefix, sc, errs)
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	validateOptionalDuration(prefix+".gracefulStop", sc.GracefulStop, errs)
	validateOptionalDuration(prefix+".startTime", sc.StartTime, errs)

	exec := sc.Exec
	if exec == "" {
		exec = DefaultFlow
	}
	if _, ok := flows[exec]; !ok {
		errs.Add(prefix+".exec", fmt.Sprintf("unknown flow: %s", exec))
	}
}

// validateConstantVUs validates constant-vus executor config.
func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required for constant-vus executor")
	} else if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d == 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}

	if len(sc.Stages) > 0 {
		errs.Add(prefix+".stages", "stages are not used by constant-vus executor")
	}
}

// validateRampingVUs validates ramping-vus executor config.
func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
	}
	if sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "startVUs cannot be negative")
	}
	for i, stage := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &stage, errs)
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if _, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

func validateOptionalDuration(field, value string, errs *ValidationErrors) {
	if value == "" {
		return
	}
	if _, err := ParseDurationString(value); err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
	}
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

func validateSteps(prefix string, steps []StepConfig, errs *ValidationErrors) {
	for i := range steps {
		validateStep(fmt.Sprintf("%s[%d]", prefix, i), &steps[i], errs)
	}
}

// validateStep validates one step and recurses into nested steps.
func validateStep(prefix string, st *StepConfig, errs *ValidationErrors) {
	switch st.Type {
	case StepCall:
		validateCall(prefix, st, errs)

	case StepSleep:
		switch {
		case st.Duration != "":
			validateOptionalDuration(prefix+".duration", st.Duration, errs)
		case st.Min != "" || st.Max != "":
			if st.Min == "" || st.Max == "" {
				errs.Add(prefix, "sleep needs both min and max")
				break
			}
			minDur, errMin := ParseDurationString(st.Min)
			maxDur, errMax := ParseDurationString(st.Max)
			if errMin != nil {
				errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", errMin))
			}
			if errMax != nil {
				errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", errMax))
			}
			if errMin == nil && errMax == nil && minDur > maxDur {
				errs.Add(prefix, "min must be less than or equal to max")
			}
		default:
			errs.Add(prefix, "sleep needs a duration or min/max")
		}

	case StepPick:
		if st.Pool == "" {
			errs.Add(prefix+".pool", "pool is required")
		}
		if st.As == "" {
			errs.Add(prefix+".as", "as is required")
		}
		validateSteps(prefix+".otherwise", st.Otherwise, errs)

	case StepBranch:
		if st.Probability != nil && (*st.Probability < 0 || *st.Probability > 1) {
			errs.Add(prefix+".probability", "probability must be between 0 and 1")
		}
		if len(st.Distinct) == 1 {
			errs.Add(prefix+".distinct", "distinct needs at least two variables")
		}
		if len(st.Then) == 0 && len(st.Else) == 0 {
			errs.Add(prefix, "branch needs then or else steps")
		}
		validateSteps(prefix+".then", st.Then, errs)
		validateSteps(prefix+".else", st.Else, errs)

	case StepGroup:
		if len(st.Steps) == 0 {
			errs.Add(prefix+".steps", "group must contain at least one step")
		}
		validateSteps(prefix+".steps", st.Steps, errs)

	case StepRecord:
		if st.Metric == "" {
			errs.Add(prefix+".metric", "metric is required")
		}

	case "":
		errs.Add(prefix+".type", "step type is required")

	default:
		errs.Add(prefix+".type", fmt.Sprintf("unknown step type: %s", st.Type))
	}
}

func validateCall(prefix string, st *StepConfig, errs *ValidationErrors) {
	method := strings.ToUpper(st.Method)
	if method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", st.Method))
	}

	if st.URL == "" {
		errs.Add(prefix+".url", "url is required")
	}

	validateOptionalDuration(prefix+".timeout", st.Timeout, errs)
	validateOptionalDuration(prefix+".maxDuration", st.MaxDuration, errs)

	for i, ex := range st.Extract {
		field := fmt.Sprintf("%s.extract[%d]", prefix, i)
		if ex.Name == "" {
			errs.Add(field+".name", "name is required")
		}
		switch ex.Source {
		case "", "body":
			if ex.Path == "" {
				errs.Add(field+".path", "path is required for body extraction")
			}
		case "header":
			if ex.Path == "" {
				errs.Add(field+".path", "header name is required")
			}
		case "status":
		default:
			errs.Add(field+".source", fmt.Sprintf("invalid source: %s", ex.Source))
		}
	}

	if st.Schema != "" {
		if _, err := transport.CompileSchema(prefix, st.Schema); err != nil {
			errs.Add(prefix+".schema", err.Error())
		}
	}
}

// collectMetricKinds resolves the kind of every metric the plan can record.
// Conflicting declarations are reported to errs.
func collectMetricKinds(c *TestConfig, errs *ValidationErrors) map[string]metrics.Kind {
	kinds := make(map[string]metrics.Kind, len(metrics.BuiltinKinds)+len(c.Metrics))
	for name, kind := range metrics.BuiltinKinds {
		kinds[name] = kind
	}

	declare := func(field, name string, kind metrics.Kind) {
		if existing, ok := kinds[name]; ok && existing != kind {
			errs.Add(field, fmt.Sprintf("metric %q declared as %s but already a %s", name, kind, existing))
			return
		}
		kinds[name] = kind
	}

	for _, name := range sortedKeys(c.Metrics) {
		kind, err := metrics.ParseKind(c.Metrics[name])
		if err != nil {
			errs.Add("metrics."+name, err.Error())
			continue
		}
		declare("metrics."+name, name, kind)
	}

	type recordRef struct {
		field string
		step  *StepConfig
	}
	var records []recordRef

	var walk func(prefix string, steps []StepConfig)
	walk = func(prefix string, steps []StepConfig) {
		for i := range steps {
			st := &steps[i]
			p := fmt.Sprintf("%s[%d]", prefix, i)
			if st.Metric != "" && (st.Type == StepCall || st.Type == StepGroup) {
				declare(p+".metric", st.Metric, metrics.KindTrend)
			}
			if st.Metric != "" && st.Type == StepRecord {
				records = append(records, recordRef{field: p, step: st})
			}
			walk(p+".otherwise", st.Otherwise)
			walk(p+".then", st.Then)
			walk(p+".else", st.Else)
			walk(p+".steps", st.Steps)
		}
	}
	walk("setup", c.Setup)
	for _, name := range sortedKeys(c.Flows) {
		walk("flows."+name, c.Flows[name])
	}

	// Record steps write to metrics declared under metrics:, never to
	// built-ins the engine maintains.
	for _, ref := range records {
		name := ref.step.Metric
		if _, builtin := metrics.BuiltinKinds[name]; builtin {
			errs.Add(ref.field+".metric", fmt.Sprintf("metric %q is recorded by the engine", name))
			continue
		}
		if _, declared := c.Metrics[name]; !declared {
			errs.Add(ref.field+".metric", fmt.Sprintf("metric %q must be declared under metrics", name))
			continue
		}
		kind, ok := kinds[name]
		if !ok || strings.Contains(ref.step.Value, "{{") {
			continue
		}
		if _, err := metrics.ParseSample(kind, ref.step.Value); err != nil {
			errs.Add(ref.field+".value", err.Error())
		}
	}

	return kinds
}

// MetricKinds returns the kind of every metric the plan declares,
// including the built-ins. The plan should be validated first.
func (c *TestConfig) MetricKinds() map[string]metrics.Kind {
	return collectMetricKinds(c, &ValidationErrors{})
}

// validateThresholds parses every expression and checks it against the
// kind of the metric it targets.
func validateThresholds(thresholds map[string][]string, kinds map[string]metrics.Kind, errs *ValidationErrors) {
	for _, name := range sortedKeys(thresholds) {
		field := "thresholds." + name
		kind, known := kinds[name]
		if !known {
			errs.Add(field, fmt.Sprintf("threshold on unknown metric: %s", name))
		}
		if len(thresholds[name]) == 0 {
			errs.Add(field, "at least one expression is required")
		}

		for i, expr := range thresholds[name] {
			c, err := threshold.ParseClause(expr)
			if err != nil {
				errs.Add(fmt.Sprintf("%s[%d]", field, i), err.Error())
				continue
			}
			if known {
				if err := c.CheckKind(kind); err != nil {
					errs.Add(fmt.Sprintf("%s[%d]", field, i), err.Error())
				}
			}
		}
	}
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", "scheme must be http or https")
		}
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}

	switch s.ReconcileOrder {
	case "", ReconcileStopFirst, ReconcileSpawnFirst:
	default:
		errs.Add("settings.reconcileOrder", fmt.Sprintf("must be %s or %s", ReconcileStopFirst, ReconcileSpawnFirst))
	}
}

func validateLogging(l *LoggingConfig, errs *ValidationErrors) {
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs.Add("logging.level", fmt.Sprintf("unknown log level: %s", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "console", "json":
	default:
		errs.Add("logging.format", fmt.Sprintf("unknown log format: %s", l.Format))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
