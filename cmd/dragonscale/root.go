package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/config"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	noColor    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "dragonscale",
		Short: "Query orchestration engine",
		Long: `dragonscale classifies a query, plans the execution units that can answer it,
runs them in dependency batches and synthesizes a single response.

Configuration is read from --config, $XDG_CONFIG_HOME/dragonscale/config.yaml
or ./dragonscale.yaml, and DRAGONSCALE_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newAskCmd(opts),
		newPlanCmd(opts),
		newUnitsCmd(opts),
		newFlowsCmd(opts),
	)
	return rootCmd
}

// wire loads configuration and assembles the engine for one command.
func (o *rootOptions) wire(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	logger := logging.NewStdLogger(cmd.ErrOrStderr(), logging.ParseLevel(cfg.Log.Level))
	return wireApp(cmd.Context(), cfg, logger)
}
