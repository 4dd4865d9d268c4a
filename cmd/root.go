// Package cmd defines the CLI commands for the catalog crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/app"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey    appKeyType = "app"
	configKey appKeyType = "config"

	// skipApp marks commands that only need configuration.
	skipApp = "skip-app"
)

// loadConfig and newApp are variables so tests can inject a memory store.
var (
	loadConfig = config.Load
	newApp     = app.Build
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Crawls trading-card catalogs into a resumable frontier store.",
		Long: `catalog discovers parent collections (sets, expansions) on a card
catalog site, enqueues their cards as work items, and drains the frontier
into normalized detail records. Every stage can be interrupted and resumed.`,
		SilenceUsage: true,

		// Config is loaded and the App built before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			if cmd.Annotations[skipApp] == "" {
				appInstance, err := newApp(ctx, cfg, cmd.Name())
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CATALOG_* environment variables override it")

	cmd.AddCommand(
		newDiscoverCmd(),
		newEnqueueCmd(),
		newDrainCmd(),
		newSweepCmd(),
		newRunCmd(),
		newResyncCmd(),
		newExportCmd(),
		newLinksCmd(),
		newImagesCmd(),
		newMigrateCmd(),
		newServeCmd(),
		newStatusCmd(),
	)
	return cmd
}

// Execute runs the CLI and exits non-zero on configuration, connection or
// store failures. Per-item failures are logged and never change the exit code.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services are not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration is not loaded")
	}
	return cfg, nil
}
