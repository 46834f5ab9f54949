package scenario

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/state"
	"github.com/wesleyorama2/surge/internal/transport"
)

// Compiler turns step configurations into flows bound to one run's
// registry and pools.
type Compiler struct {
	reg       *metrics.Registry
	pools     *state.Store
	templates *TemplateEngine
}

// NewCompiler creates a compiler for a run.
func NewCompiler(reg *metrics.Registry, pools *state.Store) *Compiler {
	return &Compiler{
		reg:       reg,
		pools:     pools,
		templates: NewTemplateEngine(pools),
	}
}

// CompileAll compiles every named flow.
func (c *Compiler) CompileAll(flows map[string][]config.StepConfig) (map[string]*Flow, error) {
	names := make([]string, 0, len(flows))
	for name := range flows {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]*Flow, len(flows))
	for _, name := range names {
		f, err := c.Compile(name, flows[name])
		if err != nil {
			return nil, err
		}
		out[name] = f
	}
	return out, nil
}

// Compile compiles one flow.
func (c *Compiler) Compile(name string, steps []config.StepConfig) (*Flow, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("flow %s: %w", name, errNoSteps)
	}
	compiled, err := c.compileSteps(name, steps)
	if err != nil {
		return nil, err
	}
	return &Flow{Name: name, Steps: compiled}, nil
}

func (c *Compiler) compileSteps(prefix string, steps []config.StepConfig) ([]Step, error) {
	out := make([]Step, 0, len(steps))
	for i := range steps {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		st, err := c.compileStep(path, &steps[i])
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (c *Compiler) compileStep(path string, sc *config.StepConfig) (Step, error) {
	name := sc.Name
	if name == "" {
		name = path
	}

	switch sc.Type {
	case config.StepCall:
		return c.compileCall(path, name, sc)

	case config.StepSleep:
		s := &SleepStep{name: name}
		var err error
		if sc.Duration != "" {
			if s.duration, err = config.ParseDurationString(sc.Duration); err != nil {
				return nil, fmt.Errorf("%s.duration: %w", path, err)
			}
			return s, nil
		}
		if s.min, err = config.ParseDurationString(sc.Min); err != nil {
			return nil, fmt.Errorf("%s.min: %w", path, err)
		}
		if s.max, err = config.ParseDurationString(sc.Max); err != nil {
			return nil, fmt.Errorf("%s.max: %w", path, err)
		}
		if s.max < s.min {
			return nil, fmt.Errorf("%s: min must be less than or equal to max", path)
		}
		return s, nil

	case config.StepPick:
		if sc.Pool == "" || sc.As == "" {
			return nil, fmt.Errorf("%s: pick needs pool and as", path)
		}
		otherwise, err := c.compileSteps(path+".otherwise", sc.Otherwise)
		if err != nil {
			return nil, err
		}
		return &PickStep{name: name, pool: c.pools.Pool(sc.Pool), as: sc.As, otherwise: otherwise}, nil

	case config.StepBranch:
		p := 1.0
		if sc.Probability != nil {
			p = *sc.Probability
		}
		then, err := c.compileSteps(path+".then", sc.Then)
		if err != nil {
			return nil, err
		}
		otherwise, err := c.compileSteps(path+".else", sc.Else)
		if err != nil {
			return nil, err
		}
		return &BranchStep{
			name:        name,
			probability: p,
			conditions:  sc.If,
			distinct:    sc.Distinct,
			then:        then,
			otherwise:   otherwise,
		}, nil

	case config.StepGroup:
		steps, err := c.compileSteps(path+".steps", sc.Steps)
		if err != nil {
			return nil, err
		}
		g := &GroupStep{name: name, steps: steps}
		if sc.Metric != "" {
			if g.trend, err = c.reg.Trend(sc.Metric); err != nil {
				return nil, fmt.Errorf("%s.metric: %w", path, err)
			}
		}
		return g, nil

	case config.StepRecord:
		m, ok := c.reg.Lookup(sc.Metric)
		if !ok {
			return nil, fmt.Errorf("%s.metric: metric %q is not declared", path, sc.Metric)
		}
		value, err := c.templates.Parse(path+".value", sc.Value)
		if err != nil {
			return nil, err
		}
		return &RecordStep{name: name, metric: m, value: value, requires: sc.Requires}, nil

	default:
		return nil, fmt.Errorf("%s: unknown step type %q", path, sc.Type)
	}
}

func (c *Compiler) compileCall(path, name string, sc *config.StepConfig) (*CallStep, error) {
	s := &CallStep{
		name:     name,
		method:   strings.ToUpper(sc.Method),
		requires: sc.Requires,
	}
	if s.method == "" {
		s.method = http.MethodGet
	}

	var err error
	if s.url, err = c.templates.Parse(path+".url", sc.URL); err != nil {
		return nil, err
	}
	if s.body, err = c.templates.Parse(path+".body", sc.Body); err != nil {
		return nil, err
	}
	if len(sc.Headers) > 0 {
		s.headers = make(map[string]*Template, len(sc.Headers))
		for key, value := range sc.Headers {
			if s.headers[key], err = c.templates.Parse(path+".headers."+key, value); err != nil {
				return nil, err
			}
		}
	}

	if s.timeout, err = config.ParseDurationString(sc.Timeout); err != nil {
		return nil, fmt.Errorf("%s.timeout: %w", path, err)
	}
	if s.maxDuration, err = config.ParseDurationString(sc.MaxDuration); err != nil {
		return nil, fmt.Errorf("%s.maxDuration: %w", path, err)
	}

	for _, ex := range sc.Extract {
		e := Extraction{Name: ex.Name, Source: ex.Source, Path: ex.Path}
		if ex.Pool != "" {
			e.Pool = c.pools.Pool(ex.Pool)
		}
		s.extract = append(s.extract, e)
	}

	if sc.Schema != "" {
		if s.schema, err = transport.CompileSchema(path, sc.Schema); err != nil {
			return nil, err
		}
	}

	if sc.Metric != "" {
		if s.trend, err = c.reg.Trend(sc.Metric); err != nil {
			return nil, fmt.Errorf("%s.metric: %w", path, err)
		}
	}
	return s, nil
}
