package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		parent string
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export <source>",
		Short: "Writes stored detail records as CSV or JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				file, cerr := os.Create(out) // #nosec G304 -- operator supplied output path
				if cerr != nil {
					return fmt.Errorf("create %s: %w", out, cerr)
				}
				defer func() {
					if cerr := file.Close(); cerr != nil && err == nil {
						err = fmt.Errorf("close %s: %w", out, cerr)
					}
				}()
				w = file
			}

			filter := catalog.RecordFilter{Source: args[0], ParentKey: parent}
			n, err := export.Records(cmd.Context(), a.Store, filter, f, w)
			if err != nil {
				return err
			}
			a.Logger.Info("export finished", zap.Int("records", n), zap.String("format", string(f)), zap.String("out", out))
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "only export records of this collection")
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format: csv or jsonl")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
