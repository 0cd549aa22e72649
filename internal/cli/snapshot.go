package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/half-blood-labs/route-shield/internal/storage"
)

func newSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Dump the store's rule graph as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.LoadSnapshot()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
}
