package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/half-blood-labs/route-shield/internal/model"
	"github.com/half-blood-labs/route-shield/internal/storage"
)

func newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage the discovered route table",
	}
	cmd.AddCommand(newRoutesImportCommand(), newRoutesListCommand())
	return cmd
}

func newRoutesImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <routes.yaml>",
		Short: "Batch-load routes from a discovery file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var routes []model.Route
			if err := yaml.Unmarshal(data, &routes); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			for i := range routes {
				routes[i].Method = strings.ToUpper(routes[i].Method)
				if routes[i].Method == "" || routes[i].PathPattern == "" {
					return fmt.Errorf("route %d: method and path are required", i)
				}
			}

			store, err := storage.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.PutRoutes(routes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d routes into %s\n", len(routes), cfg.Store.Path)
			return nil
		},
	}
}

func newRoutesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the stored route table",
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

			routes, err := store.Routes()
			if err != nil {
				return err
			}
			sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
			for _, r := range routes {
				fmt.Fprintf(cmd.OutOrStdout(), "%4d  %-7s %s\n", r.ID, r.Method, r.PathPattern)
			}
			return nil
		},
	}
}
