package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

func newStatusCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "status <source>",
		Short: "Prints each collection's sync state and frontier counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			filter, ok := catalog.ParseSyncState(state)
			if !ok {
				return fmt.Errorf("unknown state %q (want synced, unsynced or all)", state)
			}
			ctx := cmd.Context()
			source := args[0]

			parents, err := a.Store.ListCollections(ctx, source, filter)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Key", "Name", "Synced", "Items", "Pending", "Records"})

			var total catalog.ItemCounts
			records := 0
			for _, p := range parents {
				counts, err := a.Store.CountItems(ctx, source, p.Key)
				if err != nil {
					return err
				}
				n, err := a.Store.CountRecords(ctx, catalog.RecordFilter{Source: source, ParentKey: p.Key})
				if err != nil {
					return err
				}
				total.Total += counts.Total
				total.Pending += counts.Pending
				records += n
				t.AppendRow(table.Row{p.Key, p.Name, p.IsSynced, counts.Total, counts.Pending, n})
			}
			t.AppendFooter(table.Row{"Total", len(parents), "", total.Total, total.Pending, records})
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "all", "synced, unsynced or all")
	return cmd
}
