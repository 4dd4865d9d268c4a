package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var ro pipeline.RunOptions
	cmd := &cobra.Command{
		Use:   "run <source>",
		Short: "Discovers collections, then enqueues, drains and marks every unsynced one",
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

			report, err := a.Driver(fetcher).Run(cmd.Context(), src, ro)
			if err != nil {
				return err
			}
			for _, pr := range report.Parents {
				if !pr.Synced {
					a.Logger.Info("collection left unsynced",
						zap.String("parent", pr.Key),
						zap.Int("failed", pr.Drain.Tally.Failed),
						zap.Int("pending", pr.Pending),
						zap.Error(pr.Err),
					)
				}
			}
			a.Logger.Info("run finished",
				zap.Int("discovered", len(report.Discovery.Collections)),
				zap.Int("synced", report.Synced),
				zap.Int("unsynced", report.Unsynced),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ro.Reenqueue, "reenqueue", false, "re-walk every unsynced collection's child listing")
	cmd.Flags().BoolVar(&ro.SkipDiscovery, "skip-discovery", false, "work from the collections already stored")
	return cmd
}
