package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackzilla/stackzilla/pkg/stores"
)

func newDatabaseCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "database",
		Aliases: []string{"db"},
		Short:   "Manage the state database",
	}

	cmd.AddCommand(newDatabaseCreateCommand(a))
	cmd.AddCommand(newDatabaseDeleteCommand(a))
	cmd.AddCommand(newDatabaseShowCommand(a))

	return cmd
}

func newDatabaseCreateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the state database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.settings.Database.Path
			if stores.Exists(path) {
				return fmt.Errorf("database %s already exists", path)
			}

			store, err := a.initStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			a.logger.Info().Str("path", path).Msg("Database created")
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
}

func newDatabaseDeleteCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the state database",
		Long: `Delete the state database.

Only the database is removed. Resources recorded in it are not deleted, use
'zilla blueprint delete' for that first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.settings.Database.Path
			if !stores.Exists(path) {
				return fmt.Errorf("database %s does not exist", path)
			}

			if !yes {
				ok, err := confirm(cmd, fmt.Sprintf("Delete database %s?", path))
				if err != nil || !ok {
					return err
				}
			}

			if err := stores.Destroy(path); err != nil {
				return err
			}
			a.logger.Info().Str("path", path).Msg("Database deleted")
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking for confirmation")
	return cmd
}

func newDatabaseShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show what the state database holds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				if err := store.HealthCheck(ctx); err != nil {
					return err
				}

				resources, err := store.ListResources(ctx)
				if err != nil {
					return err
				}
				modules, err := store.ListBlueprintModules(ctx)
				if err != nil {
					return err
				}
				runs, err := store.ListRuns(ctx, 1, 0)
				if err != nil && !errors.Is(err, stores.ErrNotFound) {
					return err
				}

				rows := [][]string{
					{"Path", store.Path()},
					{"Resources", fmt.Sprint(len(resources))},
					{"Blueprint modules", fmt.Sprint(len(modules))},
				}
				if len(runs) > 0 {
					last := runs[0]
					rows = append(rows, []string{"Last run", fmt.Sprintf("%s %s at %s", last.ID, last.Status, last.StartedAt.Format(timeFormat))})
				} else {
					rows = append(rows, []string{"Last run", "<none>"})
				}
				return renderTable(cmd.OutOrStdout(), []string{"Property", "Value"}, rows)
			})
		},
	}
}
