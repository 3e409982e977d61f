package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the daily scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
