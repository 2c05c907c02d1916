package main

import (
	"fmt"
	"os"

	"github.com/ireside/ireside/internal/platform/config"
	"github.com/ireside/ireside/internal/platform/telemetry"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ireside",
		Short:         "iReside property management backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newKBCmd())
	return root
}

// loadConfig reads configuration and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	telemetry.SetDefault(telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format))
	return cfg, nil
}

func migrationsURL(cfg *config.Config) string {
	return "file://" + cfg.Database.MigrationsPath
}
