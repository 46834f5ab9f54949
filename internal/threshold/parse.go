// Package threshold parses pass/fail criteria and evaluates them against
// the metrics of a finished run.
//
// A rule binds one metric to a list of clauses:
//
//	http_req_duration: ["p(95)<2000", "p(99)<3s"]
//	http_req_failed:   ["rate<0.05"]
//
// Clause grammar:
//
//	<selector> <op> <number>[unit]
//	selector: p(<0-100>) | p<0-100> | rate | value | count | avg | min | max | med
//	op:       < | <= | > | >= | == | !=
//	unit:     us | ms | s | m   (converted to milliseconds)
//	          %                 (divided by 100)
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/wesleyorama2/surge/internal/metrics"
)

// Aggregate is the statistic a clause reads from its metric.
type Aggregate string

const (
	AggPercentile Aggregate = "p"
	AggRate       Aggregate = "rate"
	AggValue      Aggregate = "value"
	AggCount      Aggregate = "count"
	AggAvg        Aggregate = "avg"
	AggMin        Aggregate = "min"
	AggMax        Aggregate = "max"
	AggMed        Aggregate = "med"
)

// Clause is one comparison inside a rule.
type Clause struct {
	Raw       string
	Aggregate Aggregate

	// Quantile is set for AggPercentile (0-100).
	Quantile float64

	Operator string
	Target   float64
}

// Selector renders the left-hand side, e.g. "p(95)" or "rate".
func (c Clause) Selector() string {
	if c.Aggregate == AggPercentile {
		return fmt.Sprintf("p(%s)", strconv.FormatFloat(c.Quantile, 'f', -1, 64))
	}
	return string(c.Aggregate)
}

// Rule is the set of clauses that must all hold for one metric.
type Rule struct {
	Metric  string
	Clauses []Clause
}

var clausePattern = regexp.MustCompile(
	`^(p\(\s*([0-9]*\.?[0-9]+)\s*\)|p([0-9]+(?:\.[0-9]+)?)|rate|value|count|avg|min|max|med)` +
		`\s*(<=|>=|==|!=|<|>)\s*` +
		`(-?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*(us|µs|ms|s|m|%)?$`)

// ParseClause parses a single clause expression.
func ParseClause(expr string) (Clause, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return Clause{}, fmt.Errorf("threshold expression cannot be empty")
	}

	m := clausePattern.FindStringSubmatch(raw)
	if m == nil {
		return Clause{}, fmt.Errorf("invalid threshold expression %q (expected e.g. 'p(95)<500', 'rate<0.01', 'count>100')", raw)
	}

	c := Clause{Raw: raw, Operator: m[4]}

	switch {
	case m[2] != "" || m[3] != "":
		qs := m[2]
		if qs == "" {
			qs = m[3]
		}
		q, err := strconv.ParseFloat(qs, 64)
		if err != nil {
			return Clause{}, fmt.Errorf("invalid percentile in %q: %w", raw, err)
		}
		if q < 0 || q > 100 {
			return Clause{}, fmt.Errorf("percentile must be between 0 and 100 in %q", raw)
		}
		c.Aggregate = AggPercentile
		c.Quantile = q
	default:
		c.Aggregate = Aggregate(m[1])
	}

	target, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return Clause{}, fmt.Errorf("invalid threshold value in %q: %w", raw, err)
	}
	c.Target = applyUnit(target, m[6])
	return c, nil
}

// applyUnit converts time units to milliseconds and percentages to ratios.
func applyUnit(v float64, unit string) float64 {
	switch unit {
	case "us", "µs":
		return v / 1000
	case "s":
		return v * 1000
	case "m":
		return v * 60 * 1000
	case "%":
		return v / 100
	default:
		return v
	}
}

// ParseRule parses every expression bound to metric.
func ParseRule(metric string, exprs []string) (Rule, error) {
	if len(exprs) == 0 {
		return Rule{}, fmt.Errorf("threshold on %q has no expressions", metric)
	}
	rule := Rule{Metric: metric}
	for i, expr := range exprs {
		c, err := ParseClause(expr)
		if err != nil {
			return Rule{}, fmt.Errorf("%s[%d]: %w", metric, i, err)
		}
		rule.Clauses = append(rule.Clauses, c)
	}
	return rule, nil
}

// ParseRules parses a metric -> expressions map. Rules are returned in
// sorted metric order.
func ParseRules(cfg map[string][]string) ([]Rule, error) {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		r, err := ParseRule(name, cfg[name])
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

var supported = map[metrics.Kind]map[Aggregate]bool{
	metrics.KindTrend: {
		AggPercentile: true, AggAvg: true, AggMin: true, AggMax: true,
		AggMed: true, AggCount: true, AggValue: true,
	},
	metrics.KindRate:    {AggRate: true, AggValue: true, AggCount: true},
	metrics.KindCounter: {AggCount: true, AggValue: true, AggRate: true},
	metrics.KindGauge:   {AggValue: true, AggMax: true},
}

// CheckKind reports whether the clause can be evaluated on a metric of kind.
func (c Clause) CheckKind(kind metrics.Kind) error {
	if supported[kind][c.Aggregate] {
		return nil
	}
	return fmt.Errorf("%s is not supported on %s metrics", c.Selector(), kind)
}
