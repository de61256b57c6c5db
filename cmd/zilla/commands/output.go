package commands

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stackzilla/stackzilla/pkg/blueprint"
	"github.com/stackzilla/stackzilla/pkg/diff"
	"github.com/stackzilla/stackzilla/pkg/engine"
	"github.com/stackzilla/stackzilla/pkg/policy"
	"github.com/stackzilla/stackzilla/pkg/resource"
)

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

const timeFormat = time.RFC3339

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unsupported output format %q, use text, json or yaml", format)
}

func writeDiff(w io.Writer, d *diff.BlueprintDiff, format string, noColor bool) error {
	switch format {
	case outputJSON:
		return diff.WriteJSON(w, d)
	case outputYAML:
		return diff.WriteYAML(w, d)
	}
	if !d.Result.Changed() {
		_, err := fmt.Fprintln(w, "No differences")
		return err
	}
	return diff.NewPrinter(w, noColor).Print(d)
}

func writePlan(w io.Writer, plan *engine.Plan, format string) error {
	switch format {
	case outputJSON:
		return writeJSON(w, plan)
	case outputYAML:
		return writeYAML(w, plan)
	}

	s := plan.Summary
	fmt.Fprintf(w, "Plan %s: %d to create, %d to update, %d to rebuild, %d to delete, %d unchanged\n",
		plan.ID, s.ToCreate, s.ToUpdate, s.ToRecreate, s.ToDelete, s.NoChange)
	if !plan.HasChanges() {
		return nil
	}

	rows := make([][]string, 0, len(plan.Units))
	for _, u := range plan.Units {
		if u.Operation == engine.OperationNoop {
			continue
		}
		rows = append(rows, []string{
			fmt.Sprint(u.Phase),
			u.Path,
			u.Type,
			string(u.Operation),
			strings.Join(u.Dependencies, ", "),
		})
	}
	return renderTable(w, []string{"Phase", "Resource", "Type", "Operation", "Depends On"}, rows)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// printErrors lists the individual problems behind a load or verify
// failure, one per line.
func printErrors(w io.Writer, err error) {
	var parseErr *blueprint.ParseError
	var verifyErr *blueprint.VerifyFailure
	switch {
	case errors.As(err, &parseErr):
		for _, ve := range parseErr.Errors {
			fmt.Fprintf(w, "  %s\n", ve.Error())
		}
	case errors.As(err, &verifyErr):
		for _, e := range verifyErr.Errors {
			var resErr *resource.VerifyError
			if errors.As(e, &resErr) {
				fmt.Fprintf(w, "  %s\n", resErr.Resource)
				for _, ae := range resErr.Errors {
					fmt.Fprintf(w, "    %s: %s\n", ae.Name, ae.Message)
				}
				continue
			}
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
	default:
		fmt.Fprintf(w, "  %s\n", err.Error())
	}
}

func printViolations(w io.Writer, result *policy.Result) {
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, v := range result.Warnings {
		yellow.Fprintf(w, "WARNING [%s] %s\n", v.Policy, v.Message)
	}
	for _, v := range result.Violations {
		red.Fprintf(w, "DENIED [%s] %s\n", v.Policy, v.Message)
		if v.Remediation != "" {
			fmt.Fprintf(w, "  %s\n", v.Remediation)
		}
	}
}

func printApplyResult(w io.Writer, result *engine.ApplyResult) {
	rows := make([][]string, 0, len(result.Units))
	for _, u := range result.Units {
		rows = append(rows, []string{u.UnitID, string(u.Operation), string(u.Status), u.Duration.Round(time.Millisecond).String(), u.Error})
	}
	if len(rows) > 0 {
		if err := renderTable(w, []string{"Resource", "Operation", "Status", "Duration", "Error"}, rows); err != nil {
			fmt.Fprintf(w, "failed to render results: %v\n", err)
		}
	}

	s := result.Summary
	fmt.Fprintf(w, "Run %s %s in %s: %d succeeded, %d failed, %d skipped\n",
		result.RunID, result.Status, result.Duration.Round(time.Millisecond), s.Succeeded, s.Failed, s.Skipped)
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
	)
	table.Header(toAny(header)...)
	for _, row := range rows {
		if err := table.Append(toAny(row)...); err != nil {
			return err
		}
	}
	return table.Render()
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// confirm asks a yes/no question on the command's input. Anything but y or
// yes declines.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
	return false, nil
}

func sortedPaths[V any](m map[string]V) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// formatValue renders an attribute or metadata value for display.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "<none>"
	case string:
		return val
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
