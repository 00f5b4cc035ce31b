package commands

import (
	"github.com/spf13/cobra"

	"github.com/tripstack/credstore/internal/store"
)

// NewMigrateCommand creates the credential table.
func NewMigrateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the credential database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := store.Migrate(cmd.Context(), a.db, a.driver); err != nil {
				return err
			}
			a.logger.Info("schema is up to date")
			return nil
		},
	}
}
