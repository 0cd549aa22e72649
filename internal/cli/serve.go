package cli

import (
	"github.com/spf13/cobra"

	"github.com/half-blood-labs/route-shield/internal/server"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the shield in front of the configured upstream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return server.Run(cfg, server.Options{ConfigPath: configPath})
		},
	}
}
