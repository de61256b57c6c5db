package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackzilla/stackzilla/pkg/blueprint"
	"github.com/stackzilla/stackzilla/pkg/resource"
	"github.com/stackzilla/stackzilla/pkg/stores"
)

func newResourceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Inspect applied resources",
	}

	cmd.AddCommand(newResourceListCommand(a))
	cmd.AddCommand(newResourceShowCommand(a))

	return cmd
}

func newResourceListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List applied resources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				records, err := store.ListResources(ctx)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No resources")
					return nil
				}

				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					version := resource.Version{
						Major: rec.VersionMajor,
						Minor: rec.VersionMinor,
						Build: rec.VersionBuild,
						Name:  rec.VersionName,
					}
					rows = append(rows, []string{
						rec.Path,
						rec.Type,
						version.String(),
						strings.Join(rec.DependsOn, ", "),
						rec.UpdatedAt.Format(timeFormat),
					})
				}
				return renderTable(cmd.OutOrStdout(), []string{"Path", "Type", "Version", "Depends On", "Updated"}, rows)
			})
		},
	}
}

func newResourceShowCommand(a *app) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the attributes of an applied resource",
		Long: `Show the attributes of an applied resource.

Secret attributes are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				loader, registry, err := a.newLoader()
				if err != nil {
					return err
				}
				persisted, err := blueprint.NewImporter(store, loader, registry, a.logger).Load(ctx)
				if err != nil {
					return err
				}
				r, ok := persisted[path]
				if !ok {
					return fmt.Errorf("resource %s not found", path)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s %s)\n", r.Path(), r.Type(), r.SavedVersion())
				if deps := r.DependsOn(); len(deps) > 0 {
					fmt.Fprintf(out, "depends on: %s\n", strings.Join(deps, ", "))
				}

				rows := make([][]string, 0, len(r.Attributes()))
				for _, attr := range r.Attributes() {
					value := formatValue(r.MustGet(attr.Name))
					if attr.Secret {
						value = "<secret>"
					}
					rows = append(rows, []string{attr.Name, value})
				}
				if len(rows) == 0 {
					return nil
				}
				return renderTable(out, []string{"Attribute", "Value"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "full resource path, e.g. main.Web")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}
