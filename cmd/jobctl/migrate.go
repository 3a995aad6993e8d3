package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/jobnex-queue/migrations"
)

var errNoDatabase = errors.New("migrations require the postgres driver")

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		newMigrateStep("up", "Apply all pending migrations", opts, migrations.Up),
		newMigrateStep("down", "Roll back the most recent migration", opts, migrations.Down),
		newMigrateStep("status", "Print the state of every migration", opts, migrations.Status),
	)

	return cmd
}

func newMigrateStep(use, short string, opts *rootOptions, step func(ctx context.Context, db *sql.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.db.Client == nil {
				return errNoDatabase
			}

			if err := step(cmd.Context(), e.db.Client.GetDB().DB); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", use)
			return nil
		},
	}
}
