package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackzilla/stackzilla/pkg/stores"
)

func newRunsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect apply and delete runs",
	}

	cmd.AddCommand(newRunsListCommand(a))

	return cmd
}

func newRunsListCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List apply and delete runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return errors.New("--limit must be at least 1")
			}

			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs")
					return nil
				}

				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					duration := ""
					if run.CompletedAt != nil {
						duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
					}
					errMsg := ""
					if run.Error != nil {
						errMsg = *run.Error
					}
					rows = append(rows, []string{
						run.ID,
						string(run.Status),
						run.Blueprint,
						formatSummary(run.Summary),
						run.StartedAt.Format(timeFormat),
						duration,
						errMsg,
					})
				}
				return renderTable(cmd.OutOrStdout(),
					[]string{"ID", "Status", "Blueprint", "Operations", "Started", "Duration", "Error"}, rows)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func formatSummary(summary map[string]int) string {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, summary[k])
	}
	return strings.Join(parts, " ")
}
