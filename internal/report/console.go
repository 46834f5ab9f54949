package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/surge/internal/metrics"
)

const (
	ruleWidth  = 64
	labelWidth = 28
)

// ConsoleConfig contains configuration for ConsoleRenderer.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
}

// ConsoleRenderer prints run progress and the end-of-run summary.
type ConsoleRenderer struct {
	w      io.Writer
	colors *ColorScheme
	quiet  bool

	mu sync.Mutex
}

// NewConsoleRenderer creates a renderer. Colors are used only when the
// writer is a terminal that supports them, unless forced.
func NewConsoleRenderer(cfg ConsoleConfig) *ConsoleRenderer {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	var colors *ColorScheme
	switch {
	case cfg.NoColor:
		colors = NoColorScheme()
	case cfg.ForceColors:
		colors = DefaultColorScheme().forceColors()
	case isTerminal(cfg.Writer) && supportsColors():
		colors = DefaultColorScheme().forceColors()
	default:
		colors = NoColorScheme()
	}

	return &ConsoleRenderer{w: cfg.Writer, colors: colors, quiet: cfg.Quiet}
}

// Progress is a live view of a running test.
type Progress struct {
	Elapsed    time.Duration
	Progress   float64
	ActiveVUs  int
	Iterations int64
	Requests   int64
	ErrorRate  float64
	P95        float64
}

// ProgressFrom derives a Progress line from a metrics snapshot.
func ProgressFrom(snap map[string]metrics.Snapshot, elapsed time.Duration, progress float64) Progress {
	p := Progress{Elapsed: elapsed, Progress: progress}
	if s, ok := snap[metrics.VUs]; ok {
		p.ActiveVUs = int(s.Value)
	}
	if s, ok := snap[metrics.Iterations]; ok {
		p.Iterations = int64(s.Value)
	}
	if s, ok := snap[metrics.HTTPReqs]; ok {
		p.Requests = int64(s.Value)
	}
	if s, ok := snap[metrics.Errors]; ok {
		p.ErrorRate = s.Rate
	}
	if s, ok := snap[metrics.HTTPReqDuration]; ok {
		p.P95 = s.P95
	}
	return p
}

// PrintHeader prints the test header.
func (c *ConsoleRenderer) PrintHeader(name, runID string, scenarios int) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat("━", ruleWidth)
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running [%d scenario(s)]", name, scenarios))
	c.writeln(c.colors.Dim.Sprintf("run %s", runID))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")
}

// PrintProgress prints a one-line status update.
func (c *ConsoleRenderer) PrintProgress(p Progress) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %3.0f%% | VUs: %d | Iterations: %s | Reqs: %s | Errors: %s | P95: %s",
		formatDuration(p.Elapsed),
		p.Progress*100,
		p.ActiveVUs,
		formatNumber(p.Iterations),
		formatNumber(p.Requests),
		c.colors.rateColor(p.ErrorRate).Sprintf("%.1f%%", p.ErrorRate*100),
		formatMillis(p.P95),
	))
}

// Render prints the end-of-run summary.
func (c *ConsoleRenderer) Render(r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		c.writeln(c.verdict(r))
		return
	}

	line := strings.Repeat("━", ruleWidth)
	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(r.Name), c.verdict(r)))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")

	c.writeln(c.row("duration", c.colors.Value.Sprint(formatDuration(r.Duration))))
	c.writeln(c.row("iterations (total)", c.colors.Value.Sprint(formatNumber(r.Iterations))))
	if r.Aborted {
		c.writeln(c.row("status", c.colors.Warn.Sprint("aborted")))
	}
	c.writeln("")

	if len(r.Scenarios) > 0 {
		c.writeln(c.colors.Title.Sprint("Scenarios:"))
		for _, name := range r.ScenarioNames() {
			sc := r.Scenarios[name]
			detail := fmt.Sprintf("%s exec=%s iterations=%s vus=%d max=%d",
				sc.Executor, sc.Exec, formatNumber(sc.Iterations), sc.VUsSpawned, sc.MaxVUs)
			if sc.Error != "" {
				detail += " " + c.colors.Error.Sprint(sc.Error)
			}
			c.writeln(c.row("  "+name, detail))
		}
		c.writeln("")
	}

	if len(r.Metrics) > 0 {
		c.writeln(c.colors.Title.Sprint("Metrics:"))
		for _, name := range r.MetricNames() {
			c.writeln(c.row("  "+name, c.formatMetric(r.Metrics[name], r.Duration)))
		}
		c.writeln("")
	}

	if len(r.Pools) > 0 {
		c.writeln(c.colors.Title.Sprint("Pools:"))
		names := make([]string, 0, len(r.Pools))
		for name := range r.Pools {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c.writeln(c.row("  "+name, c.colors.Value.Sprint(formatNumber(int64(r.Pools[name])))))
		}
		c.writeln("")
	}

	if len(r.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for _, t := range r.Thresholds {
			icon := c.colors.Success.Sprint("✓")
			if !t.Passed {
				icon = c.colors.Error.Sprint("✗")
			}
			suffix := ""
			if t.Skipped {
				suffix = c.colors.Dim.Sprint(" (no samples)")
			}
			c.writeln(fmt.Sprintf("  %s %s%s", icon, t.Metric, suffix))
			for _, cl := range t.Clauses {
				clauseIcon := c.colors.Success.Sprint("✓")
				if !cl.Passed {
					clauseIcon = c.colors.Error.Sprint("✗")
				}
				msg := fmt.Sprintf("      %s %s (actual: %s)", clauseIcon, cl.Expression, formatValue(cl.Observed))
				if cl.Message != "" && !cl.Passed {
					msg += " " + c.colors.Dim.Sprint(cl.Message)
				}
				c.writeln(msg)
			}
		}
		c.writeln("")
	}
}

func (c *ConsoleRenderer) verdict(r *Result) string {
	if r.Passed {
		return c.colors.Success.Sprint("PASSED ✓")
	}
	return c.colors.Error.Sprint("FAILED ✗")
}

// formatMetric renders a snapshot the way its kind is usually read.
func (c *ConsoleRenderer) formatMetric(s metrics.Snapshot, elapsed time.Duration) string {
	switch s.Kind {
	case metrics.KindTrend:
		if s.Empty() {
			return c.colors.Dim.Sprint("no samples")
		}
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
			c.colors.Value.Sprint(formatMillis(s.Avg)),
			formatMillis(s.Min), formatMillis(s.Med), formatMillis(s.Max),
			formatMillis(s.P90), formatMillis(s.P95), formatMillis(s.P99))
	case metrics.KindRate:
		return fmt.Sprintf("%s %s %s",
			c.colors.Value.Sprintf("%.2f%%", s.Rate*100),
			c.colors.Success.Sprintf("✓ %s", formatNumber(s.Passes)),
			c.colors.Error.Sprintf("✗ %s", formatNumber(s.Fails)))
	case metrics.KindCounter:
		perSec := 0.0
		if elapsed > 0 {
			perSec = s.Value / elapsed.Seconds()
		}
		return fmt.Sprintf("%s %s",
			c.colors.Value.Sprint(formatNumber(int64(s.Value))),
			c.colors.Dim.Sprintf("%.2f/s", perSec))
	case metrics.KindGauge:
		return fmt.Sprintf("%s max=%s",
			c.colors.Value.Sprint(formatValue(s.Value)), formatValue(s.Max))
	default:
		return formatValue(s.Value)
	}
}

// row renders a dotted label followed by a value.
func (c *ConsoleRenderer) row(label, value string) string {
	dots := labelWidth - len([]rune(label))
	if dots < 2 {
		dots = 2
	}
	return fmt.Sprintf("%s%s: %s", label, c.colors.Dim.Sprint(strings.Repeat(".", dots)), value)
}

func (c *ConsoleRenderer) writeln(s string) {
	fmt.Fprintln(c.w, s)
}
