package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

func newDrainCmd() *cobra.Command {
	var (
		parent   string
		maxItems int
	)
	cmd := &cobra.Command{
		Use:   "drain <source>",
		Short: "Fetches unfetched work items and persists their detail records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			src, fetcher, err := a.Source(args[0])
			if err != nil {
				return err
			}
			cfg := pipeline.DrainConfig{MaxItems: a.Config.Drain.MaxItems, Archive: a.Archive()}
			if cmd.Flags().Changed("max-items") {
				cfg.MaxItems = maxItems
			}

			report, err := pipeline.NewDrainer(a.Store, fetcher, cfg, a.Options()).Drain(cmd.Context(), src, parent)
			if err != nil {
				return err
			}
			a.Logger.Info("drain finished",
				zap.String("parent", parent),
				zap.Bool("drained", report.Drained),
				zap.Int("succeeded", report.Tally.Succeeded),
				zap.Int("failed", report.Tally.Failed),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "only drain items of this collection")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop after this many claims (0 = until empty)")
	return cmd
}
