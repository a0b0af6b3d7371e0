package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/cashflow-assistant/internal/app"
	"github.com/dvloznov/cashflow-assistant/internal/config"
	"github.com/dvloznov/cashflow-assistant/internal/logger"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLedger   string
	flagSession  string

	cfg config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "cashflow",
	Short:         "Cash-flow assistant CLI",
	Long:          "Project balances, optimize payment dates and manage per-session modification ledgers.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagLedger != "" {
			cfg.Ledger.Backend = flagLedger
		}
		if flagLogLevel != "" {
			cfg.Log.Level = flagLogLevel
		}
		log = logger.New(logger.Options{
			Level:  cfg.Log.Level,
			Format: logger.Format(cfg.Log.Format),
			Out:    os.Stderr,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", os.Getenv("CASHFLOW_CONFIG"), "Path to TOML config")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level")
	rootCmd.PersistentFlags().StringVar(&flagLedger, "ledger", "sqlite", "Ledger backend: memory, sqlite, postgres or bigquery")
	rootCmd.PersistentFlags().StringVarP(&flagSession, "session", "s", "cli", "Session ID")
}

// build wires the service for commands that need a ledger or the dispatcher.
func build(cmd *cobra.Command) (*app.App, error) {
	return app.Build(cmd.Context(), cfg, log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
