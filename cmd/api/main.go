package main

import (
	"os"

	"github.com/spf13/cobra"

	"proppy/api/internal/config"
	"proppy/api/internal/logging"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:           "proppy-api",
	Short:         "Proposal editing, sharing and signing API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logging.Init(cfg.LogLevel, cfg.Env)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, keygenCmd, verifyCmd, bootstrapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
