package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/server"
	"github.com/JakeFAU/pricewatch/internal/session"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// newScrapeCmd runs one batch in the foreground: the listed items, or the
// items today's plan marks as due.
func newScrapeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape [item-id...]",
		Short: "Scrapes the given items, or today's planned batch, and prints the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, func(app *server.App) error {
				var report tracker.BatchReport
				if len(args) > 0 {
					items, err := app.Catalog.LookupItems(ctx, args)
					if err != nil {
						return err
					}
					report = app.Orchestrator.RunManual(ctx, items)
				} else {
					plan, err := app.Planner.Plan(ctx, app.Now())
					if err != nil {
						return err
					}
					report = app.Orchestrator.RunBatch(ctx, plan.Items(), plan.Event, session.TriggerManual)
				}
				c := report.Counters()
				opts.logger.Info("scrape finished",
					zap.String("run_id", report.RunID),
					zap.Int("recorded", c.Recorded),
					zap.Int("skipped", c.Skipped),
					zap.Int("failed", c.Failed),
				)
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
