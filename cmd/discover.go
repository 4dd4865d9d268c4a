package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

func newDiscoverCmd() *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "discover <source>",
		Short: "Walks the collection directory and upserts every parent collection",
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
			ctx := cmd.Context()
			opts := a.Options()

			report, err := pipeline.NewDiscovery(a.Store, fetcher, opts).Run(ctx, src)
			if err := tolerate(a.Logger, "discovery", err); err != nil {
				return err
			}
			a.Logger.Info("discovery finished",
				zap.Int("pages", report.Pages),
				zap.Int("collections", len(report.Collections)),
				zap.Int("skipped", report.Tally.Skipped),
			)
			if !enqueue {
				return nil
			}

			parents, err := pipeline.NewTracker(a.Store, a.Logger).ListByState(ctx, src.Name(), catalog.SyncUnsynced)
			if err != nil {
				return err
			}
			tally, err := pipeline.NewEnqueuer(a.Store, fetcher, opts).EnqueueAll(ctx, src, parents)
			if err != nil {
				return err
			}
			logTally(a.Logger, "enqueue finished", tally)
			return nil
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "enqueue the children of every unsynced collection afterwards")
	return cmd
}
