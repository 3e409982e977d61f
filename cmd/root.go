// Package cmd defines the CLI commands for the pricewatch executable.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/logging"
	"github.com/JakeFAU/pricewatch/internal/server"
)

// options carries state shared by every subcommand once the root's
// pre-run hook has loaded configuration.
type options struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

// buildApp is the application factory; tests swap it out.
var buildApp = server.Build

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "pricewatch",
		Short: "Tracks retailer prices and alerts owners when they drop below target.",
		Long: `pricewatch searches a retailer for tracked items, records every observed
price, and emails the owner when a price falls below their target. It runs
a daily re-scrape on a schedule and serves an HTTP API for everything else.`,
		SilenceUsage: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (env PRICEWATCH_* overrides)")

	cmd.AddCommand(
		newServeCmd(opts),
		newScrapeCmd(opts),
		newPlanCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

// withApp builds the application, hands it to fn and closes it afterwards.
func withApp(ctx context.Context, opts *options, fn func(*server.App) error) error {
	app, err := buildApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer app.Close(context.WithoutCancel(ctx))
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
