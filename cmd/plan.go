package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricewatch/internal/server"
)

func newPlanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Prints which items today's batch would scrape, and why",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, func(app *server.App) error {
				plan, err := app.Planner.Plan(ctx, app.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), plan)
			})
		},
	}
}
