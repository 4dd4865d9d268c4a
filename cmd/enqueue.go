package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

func newEnqueueCmd() *cobra.Command {
	var (
		parent string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue <source>",
		Short: "Enqueues the work items of unsynced collections",
		Long: `Walks each collection's child listing and inserts its work item keys.
Existing items are reset to unfetched. By default only unsynced collections
are enqueued; --all includes synced ones and --parent selects one.`,
		Args: cobra.ExactArgs(1),
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

			var parents []catalog.ParentCollection
			switch {
			case parent != "":
				p, err := a.Store.GetCollection(ctx, src.Name(), parent)
				if errors.Is(err, catalog.ErrNotFound) {
					return fmt.Errorf("collection %s/%s not found; run discover first", src.Name(), parent)
				}
				if err != nil {
					return err
				}
				parents = []catalog.ParentCollection{p}
			default:
				state := catalog.SyncUnsynced
				if all {
					state = catalog.SyncAny
				}
				if parents, err = a.Store.ListCollections(ctx, src.Name(), state); err != nil {
					return err
				}
			}

			tally, err := pipeline.NewEnqueuer(a.Store, fetcher, a.Options()).EnqueueAll(ctx, src, parents)
			if err != nil {
				return err
			}
			logTally(a.Logger, "enqueue finished", tally)
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "enqueue a single collection")
	cmd.Flags().BoolVar(&all, "all", false, "include synced collections")
	cmd.MarkFlagsMutuallyExclusive("parent", "all")
	return cmd
}
