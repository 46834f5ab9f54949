package threshold

import (
	"fmt"
	"math"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
)

// Source resolves metrics by name. *metrics.Registry satisfies it.
type Source interface {
	Lookup(name string) (metrics.Metric, bool)
}

// ClauseResult is the verdict of one clause.
type ClauseResult struct {
	Expression string  `json:"expression"`
	Observed   float64 `json:"observed"`
	Passed     bool    `json:"passed"`
	Message    string  `json:"message,omitempty"`
}

// RuleResult is the verdict of one rule. Passed is the AND of its clauses.
type RuleResult struct {
	Metric  string         `json:"metric"`
	Passed  bool           `json:"passed"`
	Skipped bool           `json:"skipped,omitempty"`
	Clauses []ClauseResult `json:"clauses"`
}

// Evaluator evaluates rules against a metric source.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates an evaluator for rules.
func NewEvaluator(rules []Rule) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate checks every rule. elapsed is the run duration, used for
// counter rates.
//
// A metric with no samples passes vacuously and is marked Skipped.
func (e *Evaluator) Evaluate(src Source, elapsed time.Duration) []RuleResult {
	if len(e.rules) == 0 {
		return nil
	}

	results := make([]RuleResult, 0, len(e.rules))
	for _, rule := range e.rules {
		results = append(results, evaluateRule(rule, src, elapsed))
	}
	return results
}

func evaluateRule(rule Rule, src Source, elapsed time.Duration) RuleResult {
	res := RuleResult{Metric: rule.Metric, Passed: true}

	m, ok := src.Lookup(rule.Metric)
	if !ok || m.Empty() {
		res.Skipped = true
		for _, c := range rule.Clauses {
			res.Clauses = append(res.Clauses, ClauseResult{
				Expression: c.Raw,
				Passed:     true,
				Message:    "no samples",
			})
		}
		return res
	}

	for _, c := range rule.Clauses {
		cr := ClauseResult{Expression: c.Raw}

		observed, err := observe(m, c, elapsed)
		if err != nil {
			cr.Message = err.Error()
			res.Passed = false
			res.Clauses = append(res.Clauses, cr)
			continue
		}

		cr.Observed = observed
		cr.Passed = compareValues(observed, c.Operator, c.Target)
		if !cr.Passed {
			cr.Message = fmt.Sprintf("%s is %s, threshold: %s %s",
				c.Selector(), formatFloat(observed), c.Operator, formatFloat(c.Target))
			res.Passed = false
		}
		res.Clauses = append(res.Clauses, cr)
	}
	return res
}

// observe reads the value a clause compares against.
func observe(m metrics.Metric, c Clause, elapsed time.Duration) (float64, error) {
	if err := c.CheckKind(m.Kind()); err != nil {
		return 0, err
	}

	switch mv := m.(type) {
	case *metrics.Trend:
		switch c.Aggregate {
		case AggPercentile:
			return mv.Percentile(c.Quantile), nil
		case AggMed:
			return mv.Percentile(50), nil
		case AggCount:
			return float64(mv.Count()), nil
		}
		st := mv.Stats()
		switch c.Aggregate {
		case AggMin:
			return st.Min, nil
		case AggMax:
			return st.Max, nil
		default:
			return st.Avg, nil
		}

	case *metrics.Rate:
		if c.Aggregate == AggCount {
			return float64(mv.Snapshot().Count), nil
		}
		return mv.Value(), nil

	case *metrics.Counter:
		if c.Aggregate == AggRate {
			if elapsed <= 0 {
				return 0, nil
			}
			return float64(mv.Value()) / elapsed.Seconds(), nil
		}
		return float64(mv.Value()), nil

	case *metrics.Gauge:
		if c.Aggregate == AggMax {
			return mv.Max(), nil
		}
		return mv.Value(), nil
	}

	return 0, fmt.Errorf("unsupported metric type %T", m)
}

// compareValues compares with a small epsilon for the inclusive operators.
func compareValues(actual float64, op string, expected float64) bool {
	const epsilon = 1e-9

	switch op {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}

// AllPassed reports whether every rule passed.
func AllPassed(results []RuleResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.4g", v)
}
