package admin

import (
	"fmt"

	"github.com/spf13/cobra"

	serverrun "github.com/rzbill/trustchain/internal/cmd/server"
)

func newServeCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Hold chains open and serve metrics until interrupted",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("http")
			chains, _ := cmd.Flags().GetStringSlice("chain")
			cfg, err := g.config()
			if err != nil {
				return err
			}
			logger, err := g.logger(cfg)
			if err != nil {
				return err
			}
			if err := serverrun.Run(cmd.Context(), serverrun.Options{
				Config:   cfg,
				HTTPAddr: addr,
				Chains:   chains,
				Logger:   logger,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("http", ":9464", "Metrics and health listen address (empty disables)")
	cmd.Flags().StringSlice("chain", nil, "Chain to hold open, as namespace/name (repeatable)")
	return cmd
}
