package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgewatch/edgewatch/pkg/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations. The migration files are embedded
in the binary, so nothing else needs to be on disk.

  edgewatch migrate
  edgewatch migrate status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				if err := store.Migrate(st.DB()); err != nil {
					return err
				}
				fmt.Println(green("Migrations applied."))
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.Store) error {
				return store.MigrationStatus(st.DB())
			})
		},
	})
	return cmd
}
