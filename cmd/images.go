package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

func newImagesCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "images <source>",
		Short: "Downloads the image of every stored record into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Blobs == nil {
				return errors.New("images needs archive.provider local or gcs")
			}
			src, _, err := a.Source(args[0])
			if err != nil {
				return err
			}
			fetcher, err := a.Fetcher(false)
			if err != nil {
				return err
			}

			filter := catalog.RecordFilter{Source: src.Name(), ParentKey: parent}
			tally, err := pipeline.NewImageArchiver(a.Store, fetcher, a.Blobs, a.Options()).Run(cmd.Context(), filter)
			if err != nil {
				return err
			}
			logTally(a.Logger, "images finished", tally)
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "only archive images of this collection")
	return cmd
}
