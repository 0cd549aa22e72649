package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/half-blood-labs/route-shield/internal/model"
	"github.com/half-blood-labs/route-shield/internal/storage"
)

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage enforcement rules",
	}
	cmd.AddCommand(newRulesAddCommand())
	return cmd
}

func newRulesAddCommand() *cobra.Command {
	var (
		routeID       int64
		priority      int
		description   string
		rate          int64
		window        int64
		maxConcurrent int
		whitelist     []string
		blacklist     []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule with its configs on a route",
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

			rule := &model.Rule{
				RouteID:     routeID,
				Enabled:     true,
				Priority:    priority,
				Description: description,
			}
			if err := store.PutRule(rule); err != nil {
				return err
			}

			if rate > 0 && window > 0 {
				rl := &model.RateLimitConfig{
					RuleID:            rule.ID,
					RequestsPerWindow: rate,
					WindowSeconds:     window,
					Enabled:           true,
				}
				if err := store.PutRateLimit(rl); err != nil {
					return err
				}
			}
			if maxConcurrent > 0 {
				cl := &model.ConcurrentLimitConfig{
					RuleID:        rule.ID,
					MaxConcurrent: maxConcurrent,
					Enabled:       true,
				}
				if err := store.PutConcurrentLimit(cl); err != nil {
					return err
				}
			}
			for _, spec := range whitelist {
				f := &model.IPFilter{RuleID: rule.ID, IPSpec: spec, Kind: model.FilterWhitelist, Enabled: true}
				if err := store.PutIPFilter(f); err != nil {
					return err
				}
			}
			for _, spec := range blacklist {
				f := &model.IPFilter{RuleID: rule.ID, IPSpec: spec, Kind: model.FilterBlacklist, Enabled: true}
				if err := store.PutIPFilter(f); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created rule %d on route %d\n", rule.ID, routeID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&routeID, "route", 0, "route id the rule protects (required)")
	cmd.Flags().IntVar(&priority, "priority", 0, "rule priority, higher first")
	cmd.Flags().StringVar(&description, "description", "", "rule description")
	cmd.Flags().Int64Var(&rate, "rate", 0, "requests per window")
	cmd.Flags().Int64Var(&window, "window", 0, "rate window in seconds")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "max in-flight requests")
	cmd.Flags().StringSliceVar(&whitelist, "whitelist", nil, "whitelist IP or CIDR (repeatable)")
	cmd.Flags().StringSliceVar(&blacklist, "blacklist", nil, "blacklist IP or CIDR (repeatable)")
	_ = cmd.MarkFlagRequired("route")
	return cmd
}
