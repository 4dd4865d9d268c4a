package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/api"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the status API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(a.Config.Sources))
			for name := range a.Config.Sources {
				names = append(names, name)
			}
			sort.Strings(names)

			srv := api.NewServer(a.Store, api.Config{Sources: names, APIKey: a.Config.Server.APIKey}, a.Logger.Named("api"))
			return server.Run(cmd.Context(), fmt.Sprintf(":%d", a.Config.Server.Port), srv.Handler(), a.Logger)
		},
	}
}
