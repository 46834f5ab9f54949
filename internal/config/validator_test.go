package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/metrics"
)

func validConfig() *TestConfig {
	return &TestConfig{
		Name: "valid",
		Flows: map[string][]StepConfig{
			"default": {
				{Type: StepCall, Method: "GET", URL: "/api/users"},
			},
		},
		Scenarios: map[string]*ScenarioConfig{
			"steady": {Executor: ExecutorConstantVUs, VUs: 5, Duration: "30s"},
		},
	}
}

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected *ValidationErrors, got %T", err)
	return verrs.Fields()
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(c *TestConfig)
		field string
	}{
		{
			name:  "no scenarios",
			mod:   func(c *TestConfig) { c.Scenarios = nil },
			field: "scenarios",
		},
		{
			name:  "unknown executor",
			mod:   func(c *TestConfig) { c.Scenarios["steady"].Executor = "constant-arrival-rate" },
			field: "scenarios.steady.executor",
		},
		{
			name:  "zero vus",
			mod:   func(c *TestConfig) { c.Scenarios["steady"].VUs = 0 },
			field: "scenarios.steady.vus",
		},
		{
			name:  "missing duration",
			mod:   func(c *TestConfig) { c.Scenarios["steady"].Duration = "" },
			field: "scenarios.steady.duration",
		},
		{
			name:  "zero duration",
			mod:   func(c *TestConfig) { c.Scenarios["steady"].Duration = "0s" },
			field: "scenarios.steady.duration",
		},
		{
			name: "ramping without stages",
			mod: func(c *TestConfig) {
				c.Scenarios["steady"] = &ScenarioConfig{Executor: "ramping-vus"}
			},
			field: "scenarios.steady.stages",
		},
		{
			name: "negative stage target",
			mod: func(c *TestConfig) {
				c.Scenarios["steady"] = &ScenarioConfig{
					Executor: "ramping-vus",
					Stages:   []StageConfig{{Duration: "10s", Target: -1}},
				}
			},
			field: "scenarios.steady.stages[0].target",
		},
		{
			name: "bad stage duration",
			mod: func(c *TestConfig) {
				c.Scenarios["steady"] = &ScenarioConfig{
					Executor: "ramping-vus",
					Stages:   []StageConfig{{Duration: "soon", Target: 1}},
				}
			},
			field: "scenarios.steady.stages[0].duration",
		},
		{
			name:  "unknown flow",
			mod:   func(c *TestConfig) { c.Scenarios["steady"].Exec = "checkout" },
			field: "scenarios.steady.exec",
		},
		{
			name:  "bad start time",
			mod:   func(c *TestConfig) { c.Scenarios["steady"].StartTime = "later" },
			field: "scenarios.steady.startTime",
		},
		{
			name:  "bad reconcile order",
			mod:   func(c *TestConfig) { c.Settings.ReconcileOrder = "random" },
			field: "settings.reconcileOrder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mod(cfg)
			assert.Contains(t, validationFields(t, cfg.Validate()), tt.field)
		})
	}
}

func TestValidate_Steps(t *testing.T) {
	half := 0.5
	tooLikely := 1.5

	tests := []struct {
		name  string
		step  StepConfig
		field string
	}{
		{name: "missing type", step: StepConfig{}, field: "flows.default[1].type"},
		{name: "unknown type", step: StepConfig{Type: "loop"}, field: "flows.default[1].type"},
		{name: "bad method", step: StepConfig{Type: StepCall, Method: "FETCH", URL: "/"}, field: "flows.default[1].method"},
		{name: "missing url", step: StepConfig{Type: StepCall, Method: "GET"}, field: "flows.default[1].url"},
		{
			name:  "extract without name",
			step:  StepConfig{Type: StepCall, Method: "GET", URL: "/", Extract: []ExtractConfig{{Path: "id"}}},
			field: "flows.default[1].extract[0].name",
		},
		{
			name:  "bad schema",
			step:  StepConfig{Type: StepCall, Method: "GET", URL: "/", Schema: `{"type": `},
			field: "flows.default[1].schema",
		},
		{name: "empty sleep", step: StepConfig{Type: StepSleep}, field: "flows.default[1]"},
		{name: "min above max", step: StepConfig{Type: StepSleep, Min: "3s", Max: "1s"}, field: "flows.default[1]"},
		{name: "pick without pool", step: StepConfig{Type: StepPick, As: "postId"}, field: "flows.default[1].pool"},
		{
			name:  "probability above one",
			step:  StepConfig{Type: StepBranch, Probability: &tooLikely, Then: []StepConfig{{Type: StepSleep, Duration: "1s"}}},
			field: "flows.default[1].probability",
		},
		{
			name:  "nested error",
			step:  StepConfig{Type: StepBranch, Probability: &half, Then: []StepConfig{{Type: StepCall}}},
			field: "flows.default[1].then[0].method",
		},
		{name: "empty group", step: StepConfig{Type: StepGroup, Name: "g"}, field: "flows.default[1].steps"},
		{
			name:  "single distinct variable",
			step:  StepConfig{Type: StepBranch, Distinct: []string{"user1"}, Then: []StepConfig{{Type: StepSleep, Duration: "1s"}}},
			field: "flows.default[1].distinct",
		},
		{name: "record without metric", step: StepConfig{Type: StepRecord}, field: "flows.default[1].metric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Flows["default"] = append(cfg.Flows["default"], tt.step)
			assert.Contains(t, validationFields(t, cfg.Validate()), tt.field)
		})
	}
}

func TestValidate_RecordSteps(t *testing.T) {
	tests := []struct {
		name    string
		metrics map[string]string
		step    StepConfig
		field   string
	}{
		{
			name:  "undeclared metric",
			step:  StepConfig{Type: StepRecord, Metric: "signups"},
			field: "flows.default[1].metric",
		},
		{
			name:    "builtin metric",
			metrics: map[string]string{"total_requests": "counter"},
			step:    StepConfig{Type: StepRecord, Metric: "total_requests"},
			field:   "flows.default[1].metric",
		},
		{
			name:    "rate value not a bool",
			metrics: map[string]string{"feed_has_posts": "rate"},
			step:    StepConfig{Type: StepRecord, Metric: "feed_has_posts", Value: "often"},
			field:   "flows.default[1].value",
		},
		{
			name:    "trend needs a value",
			metrics: map[string]string{"cart_size": "trend"},
			step:    StepConfig{Type: StepRecord, Metric: "cart_size"},
			field:   "flows.default[1].value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Metrics = tt.metrics
			cfg.Flows["default"] = append(cfg.Flows["default"], tt.step)
			assert.Contains(t, validationFields(t, cfg.Validate()), tt.field)
		})
	}

	cfg := validConfig()
	cfg.Metrics = map[string]string{"signups": "counter", "feed_has_posts": "rate"}
	cfg.Flows["default"] = append(cfg.Flows["default"],
		StepConfig{Type: StepRecord, Metric: "signups"},
		StepConfig{Type: StepRecord, Metric: "feed_has_posts", Value: "{{if .postId}}true{{else}}false{{end}}"},
	)
	cfg.Thresholds = map[string][]string{"signups": {"count>0"}, "feed_has_posts": {"rate>0.5"}}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MetricKindConflicts(t *testing.T) {
	t.Run("declared twice with different kinds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Metrics = map[string]string{"user_creation_duration": "rate"}
		cfg.Flows["default"][0].Metric = "user_creation_duration"
		assert.Contains(t, validationFields(t, cfg.Validate()), "flows.default[0].metric")
	})

	t.Run("builtin redeclared", func(t *testing.T) {
		cfg := validConfig()
		cfg.Metrics = map[string]string{"errors": "trend"}
		assert.Contains(t, validationFields(t, cfg.Validate()), "metrics.errors")
	})

	t.Run("unknown kind", func(t *testing.T) {
		cfg := validConfig()
		cfg.Metrics = map[string]string{"x": "histogram"}
		assert.Contains(t, validationFields(t, cfg.Validate()), "metrics.x")
	})

	t.Run("kinds resolved", func(t *testing.T) {
		cfg := validConfig()
		cfg.Metrics = map[string]string{"posts_seen": "counter"}
		cfg.Flows["default"][0].Metric = "feed_load_duration"

		kinds := cfg.MetricKinds()
		assert.Equal(t, metrics.KindCounter, kinds["posts_seen"])
		assert.Equal(t, metrics.KindTrend, kinds["feed_load_duration"])
		assert.Equal(t, metrics.KindRate, kinds["errors"])
	})
}

func TestValidate_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		thresholds map[string][]string
		field      string
	}{
		{name: "unknown metric", thresholds: map[string][]string{"nope": {"count>1"}}, field: "thresholds.nope"},
		{name: "unparsable", thresholds: map[string][]string{"errors": {"rate<<1"}}, field: "thresholds.errors[0]"},
		{name: "selector vs kind", thresholds: map[string][]string{"errors": {"p(95)<1"}}, field: "thresholds.errors[0]"},
		{name: "no expressions", thresholds: map[string][]string{"errors": {}}, field: "thresholds.errors"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Thresholds = tt.thresholds
			assert.Contains(t, validationFields(t, cfg.Validate()), tt.field)
		})
	}

	cfg := validConfig()
	cfg.Flows["default"][0].Metric = "feed_load_duration"
	cfg.Thresholds = map[string][]string{
		"http_req_duration":  {"p(95)<2000", "p(99)<3000"},
		"http_req_failed":    {"rate<0.05"},
		"feed_load_duration": {"avg<500ms"},
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("scenarios", "at least one scenario is required")
	assert.Contains(t, errs.Error(), "scenarios")

	errs.Add("flows.default", "flow must contain at least one step")
	assert.Contains(t, errs.Error(), "2 validation errors")
}
