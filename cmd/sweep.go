package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <source>",
		Short: "Walks the ordered listing from the saved cursor, upserting records page by page",
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

			report, err := pipeline.NewSweep(a.Store, fetcher, a.Options()).Run(cmd.Context(), src)
			fields := []zap.Field{
				zap.Int("start_page", report.StartPage),
				zap.Int("next_page", report.NextPage),
				zap.Int("total_pages", report.TotalPages),
				zap.Int("records", report.Tally.Succeeded),
			}
			if errors.Is(err, pipeline.ErrSweepHalted) {
				a.Logger.Warn("sweep halted; rerun to resume", append(fields, zap.Error(err))...)
				return nil
			}
			if err != nil {
				return err
			}
			a.Logger.Info("sweep finished", fields...)
			return nil
		},
	}
}
