package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/JakeFAU/pricewatch/internal/storage/postgres"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.Database.DSN == "" {
				return errors.New("database.dsn is required")
			}
			store, err := pgstore.New(cmd.Context(), pgstore.Config{DSN: opts.cfg.Database.DSN, MaxConns: 1})
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
