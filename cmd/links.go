package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/pipeline"
)

// Lease drain stages.
const (
	stageFanOut  = "fanout"
	stagePersist = "persist"
)

func newLinksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Manages chained leased-link queues",
	}
	cmd.AddCommand(newLinksSeedCmd(), newLinksDrainCmd())
	return cmd
}

func newLinksSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <queue> <url>...",
		Short: "Adds URLs to a lease queue; URLs already queued are ignored",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			links, bad := pipeline.NormalizeLinks(args[1:])
			for _, err := range bad {
				a.Logger.Warn("skipping link", zap.Error(err))
			}
			if len(links) == 0 {
				return errors.New("no valid links to seed")
			}
			n, err := a.Store.SeedLinks(cmd.Context(), args[0], links)
			if err != nil {
				return err
			}
			a.Logger.Info("links seeded", zap.String("queue", args[0]), zap.Int("inserted", n), zap.Int("skipped", len(bad)))
			return nil
		},
	}
}

func newLinksDrainCmd() *cobra.Command {
	var (
		source string
		stage  string
		next   string
	)
	cmd := &cobra.Command{
		Use:   "drain <queue>",
		Short: "Leases each queued URL, fetches it and hands it to a stage",
		Long: `Each link is claimed under a row lock held for the whole fetch. The
fanout stage pushes the links matched by the source's children rules onto
--next; the persist stage stores records matched by its details rules. A
link is deleted only when its stage succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			src, fetcher, err := a.Source(source)
			if err != nil {
				return err
			}

			var handler pipeline.LeaseHandler
			switch stage {
			case stageFanOut:
				if next == "" {
					return errors.New("--next is required for the fanout stage")
				}
				handler = pipeline.FanOut(a.Store, src.Children(), next)
			case stagePersist:
				handler = pipeline.Persist(a.Store, src.Name(), src.Details(), system.New())
			default:
				return fmt.Errorf("unknown stage %q (want fanout or persist)", stage)
			}

			queue := args[0]
			tally, err := pipeline.NewLeaseDrain(a.Store, fetcher, handler, a.Config.Drain.ClaimDelay, a.Options()).Run(cmd.Context(), queue)
			if err != nil {
				return err
			}
			pending, err := a.Store.PendingLinks(cmd.Context(), queue)
			if err != nil {
				return err
			}
			logTally(a.Logger.With(zap.String("queue", queue), zap.Int("pending", pending)), "lease drain finished", tally)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source whose extraction rules apply")
	cmd.Flags().StringVar(&stage, "stage", stagePersist, "fanout or persist")
	cmd.Flags().StringVar(&next, "next", "", "queue receiving fanned-out links")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
