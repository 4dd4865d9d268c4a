package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

func newResyncCmd() *cobra.Command {
	var (
		parents []string
		all     bool
		run     bool
	)
	cmd := &cobra.Command{
		Use:   "resync <source>",
		Short: "Marks collections unsynced and re-enqueues their items for a full re-fetch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(parents) == 0 && !all {
				return errors.New("resync needs --parent or --all")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			src, fetcher, err := a.Source(args[0])
			if err != nil {
				return err
			}
			driver := a.Driver(fetcher)

			tally, err := driver.Resync(cmd.Context(), src, parents)
			if err != nil {
				return err
			}
			logTally(a.Logger, "resync finished", tally)
			if !run {
				return nil
			}
			_, err = driver.Run(cmd.Context(), src, pipeline.RunOptions{SkipDiscovery: true})
			return err
		},
	}
	cmd.Flags().StringSliceVar(&parents, "parent", nil, "collection key to resync (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "resync every collection of the source")
	cmd.Flags().BoolVar(&run, "run", false, "drain the resynced collections immediately")
	cmd.MarkFlagsMutuallyExclusive("parent", "all")
	return cmd
}
