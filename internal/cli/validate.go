package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/executor"
)

func newValidateCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a test plan without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fail(ExitFailure, err)
			}
			if err := cfg.Validate(); err != nil {
				if printValidationErrors(cmd, err) {
					return fail(ExitFailure, errInvalidPlan)
				}
				return fail(ExitFailure, err)
			}
			config.ApplyDefaults(cfg)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "✓ %s is valid: %d scenario(s), %d flow(s)\n", configFile, len(cfg.Scenarios), len(cfg.Flows))
			for _, name := range sortedScenarioNames(cfg) {
				sc := cfg.Scenarios[name]
				execCfg, err := executor.ConfigFromScenario(name, sc, cfg.Settings, nil)
				if err != nil {
					return fail(ExitFailure, fmt.Errorf("scenario %s: %w", name, err))
				}
				fmt.Fprintf(w, "  %s: %s exec=%s max VUs=%d duration=%s\n",
					name, sc.Executor, sc.Exec, executor.CalculateMaxVUs(execCfg), execCfg.StartTime+execCfg.TotalDuration())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the test plan (YAML or JSON)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "surge version %s\n", version)
		},
	}
}

func sortedScenarioNames(cfg *config.TestConfig) []string {
	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
