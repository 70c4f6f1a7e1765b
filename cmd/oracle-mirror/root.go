package main

import (
	"OracleMirror/internal/config"
	"OracleMirror/internal/observability"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "oracle-mirror",
		Short: "Mirror of a remote price-oracle account graph",
		Long: `oracle-mirror keeps an in-memory copy of the price-oracle accounts on a
remote ledger, refreshed by periodic polling and a push subscription, and
renders a dashboard that compares confirmed prices with pending local ones.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file (overlays MIRROR_* environment variables)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newDashboardCmd(flags))
	return cmd
}

// load reads configuration and builds the root logger.
func (f *rootFlags) load(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cmd.Context(), f.configPath)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, zerolog.Logger{}, err
		}
	}
	logger := observability.NewLoggerWithLevel("oracle-mirror", observability.ParseLogLevel(cfg.LogLevel)).
		With().Str("version", version).Logger()
	return cfg, logger, nil
}
