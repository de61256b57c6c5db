package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackzilla/stackzilla/pkg/stores"
)

func newMetadataCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Manage free-form metadata kept in the state database",
		Long: `Manage free-form metadata kept in the state database.

Values are parsed as JSON when possible, so numbers, booleans, lists and
objects keep their type. Anything else is stored as a string.`,
		Example: `  zilla metadata set --key owner --value platform
  zilla metadata set --key replicas --value 3
  zilla metadata get --key owner`,
	}

	cmd.AddCommand(newMetadataGetCommand(a))
	cmd.AddCommand(newMetadataSetCommand(a))
	cmd.AddCommand(newMetadataDeleteCommand(a))
	cmd.AddCommand(newMetadataExistsCommand(a))

	return cmd
}

func keyFlag(cmd *cobra.Command, key *string) {
	cmd.Flags().StringVar(key, "key", "", "metadata key")
	_ = cmd.MarkFlagRequired("key")
}

func notFound(key string, err error) error {
	if errors.Is(err, stores.ErrNotFound) {
		return fmt.Errorf("key (%s) not found", key)
	}
	return err
}

// parseMetadataValue decodes s as JSON, falling back to the raw string.
func parseMetadataValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func newMetadataGetCommand(a *app) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a metadata value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				v, err := store.GetMetadata(ctx, key)
				if err != nil {
					return notFound(key, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
				return nil
			})
		},
	}

	keyFlag(cmd, &key)
	return cmd
}

func newMetadataSetCommand(a *app) *cobra.Command {
	var key, value string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a metadata value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				if err := store.SetMetadata(ctx, key, parseMetadataValue(value)); err != nil {
					return err
				}
				a.logger.Debug().Str("key", key).Msg("Metadata set")
				return nil
			})
		},
	}

	keyFlag(cmd, &key)
	cmd.Flags().StringVar(&value, "value", "", "metadata value")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newMetadataDeleteCommand(a *app) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a metadata value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				return notFound(key, store.DeleteMetadata(ctx, key))
			})
		},
	}

	keyFlag(cmd, &key)
	return cmd
}

func newMetadataExistsCommand(a *app) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Print whether a metadata key is set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				ok, err := store.HasMetadata(ctx, key)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	}

	keyFlag(cmd, &key)
	return cmd
}
