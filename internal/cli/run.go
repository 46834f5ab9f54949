package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/engine"
	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/report"
)

type runOptions struct {
	configFile       string
	outputPath       string
	quiet            bool
	noColor          bool
	logLevel         string
	logFormat        string
	baseURL          string
	seed             int64
	progressInterval time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test plan",
		Long: `Run every scenario of a plan and print a summary.

  surge run --config plan.yaml
  surge run -c plan.yaml --out result.json --base-url http://staging:8765

The exit code is 99 when a threshold fails and 1 on any other error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Path to the test plan (YAML or JSON)")
	flags.StringVarP(&opts.outputPath, "out", "o", "", "Write the result as JSON to this file")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the final verdict")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides the plan)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json (overrides the plan)")
	flags.StringVar(&opts.baseURL, "base-url", "", "Base URL of the system under test (overrides the plan)")
	flags.Int64Var(&opts.seed, "seed", 0, "Seed for random choices; 0 uses the clock")
	flags.DurationVar(&opts.progressInterval, "progress-interval", time.Second, "How often to print progress")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runPlan(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return fail(ExitFailure, err)
	}
	if opts.baseURL != "" {
		cfg.Settings.BaseURL = opts.baseURL
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}

	log, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fail(ExitFailure, err)
	}
	defer func() { _ = log.Sync() }()

	eng, err := engine.New(cfg, engine.WithLogger(log), engine.WithSeed(opts.seed))
	if err != nil {
		if printValidationErrors(cmd, err) {
			return fail(ExitFailure, errInvalidPlan)
		}
		return fail(ExitFailure, err)
	}

	renderer := report.NewConsoleRenderer(report.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   opts.quiet,
		NoColor: opts.noColor,
	})

	ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		res    *report.Result
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		res, runErr = eng.Run(ctx)
	}()
	watchProgress(eng, renderer, cfg.Name, opts.progressInterval, done)
	<-done

	if res == nil {
		return fail(ExitFailure, fmt.Errorf("run failed: %w", runErr))
	}

	renderer.Render(res)

	if opts.outputPath != "" {
		if err := report.WriteJSONFile(res, opts.outputPath); err != nil {
			return fail(ExitFailure, err)
		}
		log.Info("result written", zap.String("path", opts.outputPath))
	}

	switch {
	case runErr != nil:
		return fail(ExitFailure, runErr)
	case res.Aborted:
		return fail(ExitFailure, errors.New("run aborted"))
	case !res.Passed:
		return fail(ExitThresholdsFailed, nil)
	}
	return nil
}

// watchProgress prints the header once the run exists and a progress line
// every interval until done is closed.
func watchProgress(eng *engine.Engine, r *report.ConsoleRenderer, name string, interval time.Duration, done <-chan struct{}) {
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	var (
		run  *engine.Run
		last time.Time
	)
	for {
		select {
		case <-done:
			return
		case now := <-poll.C:
			if run == nil {
				if run = eng.Current(); run != nil {
					r.PrintHeader(name, run.ID, len(run.Scenarios))
					last = now
				}
				continue
			}
			if interval <= 0 || now.Sub(last) < interval {
				continue
			}
			last = now
			r.PrintProgress(report.ProgressFrom(run.Registry.Snapshot(), time.Since(run.StartTime), eng.GetProgress()))
		}
	}
}

var errInvalidPlan = errors.New("invalid test plan")

// printValidationErrors lists every problem of an invalid plan and reports
// whether err was a validation failure.
func printValidationErrors(cmd *cobra.Command, err error) bool {
	var verrs *config.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	w := cmd.ErrOrStderr()
	fmt.Fprintln(w, "Invalid test plan:")
	for _, e := range verrs.Errors {
		fmt.Fprintf(w, "  - %s\n", e.Error())
	}
	return true
}

// runContext is cmd.Context with a fallback for commands executed directly.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
