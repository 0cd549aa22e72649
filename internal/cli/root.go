// Package cli wires the route-shield commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/half-blood-labs/route-shield/internal/config"
	"github.com/half-blood-labs/route-shield/internal/logging"
)

var configPath string

// NewRootCommand builds the route-shield command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "route-shield",
		Short:         "Route-scoped access control in front of an HTTP application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newRoutesCommand())
	root.AddCommand(newRulesCommand())
	root.AddCommand(newSnapshotCommand())
	return root
}

// loadConfig reads the configured (or default) config and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if _, err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}
