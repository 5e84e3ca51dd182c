package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store applies every migration.
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.db.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "database ready at %s\n", a.db.Path())
				return nil
			})
		},
	}
}
