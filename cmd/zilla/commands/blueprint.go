package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/stackzilla/stackzilla/pkg/blueprint"
	"github.com/stackzilla/stackzilla/pkg/diff"
	"github.com/stackzilla/stackzilla/pkg/engine"
	"github.com/stackzilla/stackzilla/pkg/policy"
	"github.com/stackzilla/stackzilla/pkg/resource"
	"github.com/stackzilla/stackzilla/pkg/stores"
	"github.com/stackzilla/stackzilla/pkg/telemetry"
)

func newBlueprintCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blueprint",
		Short: "Verify, diff, plan, apply and delete blueprints",
	}

	cmd.AddCommand(newBlueprintVerifyCommand(a))
	cmd.AddCommand(newBlueprintDiffCommand(a))
	cmd.AddCommand(newBlueprintPlanCommand(a))
	cmd.AddCommand(newBlueprintApplyCommand(a))
	cmd.AddCommand(newBlueprintDeleteCommand(a))

	return cmd
}

// comparison is the on-disk blueprint diffed against the persisted one.
type comparison struct {
	disk      *blueprint.Blueprint
	persisted map[string]*resource.Persisted
	diff      *diff.BlueprintDiff
}

// loadBlueprint loads and optionally verifies the blueprint at path,
// printing every problem found to w.
func (a *app) loadBlueprint(ctx context.Context, w io.Writer, loader *blueprint.Loader, path string, verify bool) (*blueprint.Blueprint, error) {
	bp, err := loader.LoadDir(ctx, path)
	if err != nil {
		printErrors(w, err)
		return nil, fmt.Errorf("failed to load blueprint %s", path)
	}
	if verify {
		if err := bp.Verify(); err != nil {
			printErrors(w, err)
			return nil, errors.New("on-disk blueprint verification failed")
		}
	}
	return bp, nil
}

// compare loads the blueprint at path and the persisted blueprint and
// diffs them.
func (a *app) compare(ctx context.Context, w io.Writer, store stores.Store, path string, verify bool) (*comparison, error) {
	loader, registry, err := a.newLoader()
	if err != nil {
		return nil, err
	}

	disk, err := a.loadBlueprint(ctx, w, loader, path, verify)
	if err != nil {
		return nil, err
	}

	persisted, err := blueprint.NewImporter(store, loader, registry, a.logger).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to import the persisted blueprint: %w", err)
	}
	if verify {
		if err := verifyPersisted(persisted); err != nil {
			printErrors(w, err)
			return nil, errors.New("database blueprint verification failed")
		}
	}

	bd, err := diff.NewDiffer(a.logger,
		diff.WithMetrics(a.telemetry.Metrics),
		diff.WithTracer(a.telemetry.Tracer),
		diff.WithEvents(a.telemetry.Events),
	).Diff(ctx, disk.Resources, persisted)
	if err != nil {
		return nil, err
	}

	return &comparison{disk: disk, persisted: persisted, diff: bd}, nil
}

func verifyPersisted(persisted map[string]*resource.Persisted) error {
	var errs []error
	for _, path := range sortedPaths(persisted) {
		if err := persisted[path].Verify(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &blueprint.VerifyFailure{Errors: errs}
	}
	return nil
}

func (a *app) newPlanner() *engine.Planner {
	return engine.NewPlanner(a.logger, a.telemetry.Metrics)
}

func (a *app) buildPlan(ctx context.Context, c *comparison, source string) (*engine.Plan, error) {
	plan, err := a.newPlanner().BuildPlan(ctx, c.diff)
	if err != nil {
		return nil, err
	}
	plan.Source = source
	return plan, nil
}

func newBlueprintVerifyCommand(a *app) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:     "verify",
		Short:   "Verify the on-disk blueprint",
		Example: `  zilla blueprint verify --path ./infra`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, _, err := a.newLoader()
			if err != nil {
				return err
			}
			if _, err := a.loadBlueprint(cmd.Context(), cmd.ErrOrStderr(), loader, path, true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Verified")
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to the on-disk blueprint")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newBlueprintDiffCommand(a *app) *cobra.Command {
	var (
		path   string
		verify bool
		output string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show the differences between the on-disk and the applied blueprint",
		Example: `  zilla blueprint diff --path ./infra
  zilla blueprint diff --path ./infra --output json
  zilla blueprint diff --path ./infra --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				show := func() error {
					c, err := a.compare(ctx, cmd.ErrOrStderr(), store, path, verify)
					if err != nil {
						return err
					}
					return writeDiff(cmd.OutOrStdout(), c.diff, output, a.noColor)
				}

				if err := show(); err != nil && !watch {
					return err
				} else if err != nil {
					a.logger.Error().Err(err).Msg("Diff failed")
				}
				if !watch {
					return nil
				}

				return blueprint.Watch(ctx, path, blueprint.DefaultWatchDelay, a.logger, func() {
					fmt.Fprintln(cmd.OutOrStdout())
					if err := show(); err != nil {
						a.logger.Error().Err(err).Msg("Diff failed")
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to the on-disk blueprint")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify both blueprints before diffing them")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")
	cmd.Flags().BoolVar(&watch, "watch", false, "diff again whenever a module changes")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newBlueprintPlanCommand(a *app) *cobra.Command {
	var (
		path    string
		dotFile string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the execution plan that apply would run",
		Long: `Show the execution plan that apply would run.

Resources are grouped into phases. Every resource in a phase only depends on
resources of earlier phases, so the resources of one phase are applied
concurrently.`,
		Example: `  zilla blueprint plan --path ./infra
  zilla blueprint plan --path ./infra --dot plan.dot`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				c, err := a.compare(ctx, cmd.ErrOrStderr(), store, path, true)
				if err != nil {
					return err
				}
				plan, err := a.buildPlan(ctx, c, path)
				if err != nil {
					return err
				}

				if dotFile != "" {
					dot, err := a.newPlanner().DOT(plan)
					if err != nil {
						return err
					}
					if err := os.WriteFile(dotFile, []byte(dot), 0o644); err != nil {
						return fmt.Errorf("failed to write DOT graph: %w", err)
					}
					a.logger.Info().Str("file", dotFile).Msg("Execution graph written")
				}

				return writePlan(cmd.OutOrStdout(), plan, output)
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to the on-disk blueprint")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the execution graph in DOT format to this file")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newBlueprintApplyCommand(a *app) *cobra.Command {
	var (
		path         string
		yes          bool
		allowRebuild bool
		eventsFile   string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the on-disk blueprint",
		Long: `Apply the on-disk blueprint.

Both blueprints are verified, diffed and planned. The plan is checked against
the built-in and configured policies before anything is changed. Rebuilding
a resource, which deletes and creates it again, must be allowed explicitly.`,
		Example: `  zilla blueprint apply --path ./infra
  zilla blueprint apply --path ./infra --yes --allow-rebuild
  zilla blueprint apply --path ./infra --policy ./policies --protect main.Db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				out := cmd.OutOrStdout()

				c, err := a.compare(ctx, cmd.ErrOrStderr(), store, path, true)
				if err != nil {
					return err
				}
				if !c.diff.Result.Changed() {
					fmt.Fprintln(out, "No differences")
					return nil
				}
				if err := diff.NewPrinter(out, a.noColor).Print(c.diff); err != nil {
					return err
				}

				plan, err := a.buildPlan(ctx, c, path)
				if err != nil {
					return err
				}
				if err := a.checkPolicies(ctx, out, plan, allowRebuild); err != nil {
					return err
				}

				if !yes {
					ok, err := confirm(cmd, "Apply changes?")
					if err != nil || !ok {
						return err
					}
				}

				applier, done, err := a.newApplier(store, out, eventsFile)
				if err != nil {
					return err
				}
				defer done()

				result, err := applier.Apply(ctx, plan, c.diff, c.disk.StoredModules())
				if result != nil {
					printApplyResult(out, result)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to the on-disk blueprint")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "apply without asking for confirmation")
	cmd.Flags().BoolVar(&allowRebuild, "allow-rebuild", false, "allow resources to be deleted and created again")
	cmd.Flags().StringVar(&eventsFile, "events", "", "append run and resource events as JSON lines to this file")
	cmd.Flags().Int("parallelism", 0, "resources applied at once within a phase")
	cmd.Flags().StringSlice("policy", nil, "policy file or directory, may be repeated")
	cmd.Flags().StringSlice("protect", nil, "resource path that must not be deleted or rebuilt, may be repeated")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func newBlueprintDeleteCommand(a *app) *cobra.Command {
	var (
		yes        bool
		eventsFile string
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every resource of the applied blueprint",
		Long: `Delete every resource of the applied blueprint.

Resources are deleted in reverse dependency order, then the applied blueprint
is forgotten. Protected resources block the delete.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd, func(ctx context.Context, store *stores.SQLiteStore) error {
				out := cmd.OutOrStdout()

				loader, registry, err := a.newLoader()
				if err != nil {
					return err
				}
				persisted, err := blueprint.NewImporter(store, loader, registry, a.logger).Load(ctx)
				if err != nil {
					return fmt.Errorf("failed to import the persisted blueprint: %w", err)
				}
				if len(persisted) == 0 {
					fmt.Fprintln(out, "Nothing to delete")
					return store.DeleteBlueprintModules(ctx)
				}

				for _, path := range sortedPaths(persisted) {
					fmt.Fprintf(out, "- %s (%s)\n", path, persisted[path].Type())
				}

				plan, err := planDestroy(ctx, a, persisted)
				if err != nil {
					return err
				}
				if err := a.checkPolicies(ctx, out, plan, true); err != nil {
					return err
				}

				if !yes {
					ok, err := confirm(cmd, "Delete blueprint?")
					if err != nil || !ok {
						return err
					}
				}

				applier, done, err := a.newApplier(store, out, eventsFile)
				if err != nil {
					return err
				}
				defer done()

				result, err := applier.Destroy(ctx, persisted, "")
				if result != nil {
					printApplyResult(out, result)
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking for confirmation")
	cmd.Flags().StringVar(&eventsFile, "events", "", "append run and resource events as JSON lines to this file")
	cmd.Flags().StringSlice("policy", nil, "policy file or directory, may be repeated")
	cmd.Flags().StringSlice("protect", nil, "resource path that must not be deleted, may be repeated")
	return cmd
}

// planDestroy builds the plan Destroy runs so policies can see it first.
func planDestroy(ctx context.Context, a *app, persisted map[string]*resource.Persisted) (*engine.Plan, error) {
	bd, err := diff.NewDiffer(a.logger).Diff(ctx, nil, persisted)
	if err != nil {
		return nil, err
	}
	return a.buildPlan(ctx, &comparison{persisted: persisted, diff: bd}, "")
}

// checkPolicies evaluates the plan, printing warnings and violations.
func (a *app) checkPolicies(ctx context.Context, w io.Writer, plan *engine.Plan, allowRebuild bool) error {
	eng, err := policy.NewEngine(a.logger, policy.WithMetrics(a.telemetry.Metrics))
	if err != nil {
		return err
	}
	if len(a.settings.Apply.Policies) > 0 {
		if err := eng.LoadPolicies(ctx, a.settings.Apply.Policies); err != nil {
			return err
		}
	}

	result, err := eng.EvaluatePlan(ctx, plan, policy.PolicyContext{
		AllowRebuild: allowRebuild,
		Protected:    a.settings.Apply.Protected,
	})
	if err != nil {
		return err
	}

	printViolations(w, result)
	return result.Err()
}

// newApplier returns an applier that prints resource events to out, and
// journals every event to eventsFile when set, until the returned func is
// called.
func (a *app) newApplier(store stores.Store, out io.Writer, eventsFile string) (*engine.Applier, func(), error) {
	events := a.telemetry.Events

	// Resource events arrive from the worker goroutines.
	var mu sync.Mutex
	ids := []int{events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "  %s %s\n", e.Type, e.Resource)
	}, telemetry.FilterByType(
		telemetry.EventResourceCreated,
		telemetry.EventResourceUpdated,
		telemetry.EventResourceDeleted,
	))}

	var journalFile *os.File
	var journal *telemetry.JournalWriter
	if eventsFile != "" {
		f, err := os.OpenFile(eventsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			_ = events.Unsubscribe(ids[0])
			return nil, nil, fmt.Errorf("failed to open event journal: %w", err)
		}
		journalFile = f
		journal = telemetry.NewJournalWriter(f)
		ids = append(ids, events.Subscribe(journal.Handler(), nil))
	}

	done := func() {
		for _, id := range ids {
			_ = events.Unsubscribe(id)
		}
		if journalFile != nil {
			if err := journal.Err(); err != nil {
				a.logger.Error().Err(err).Str("file", eventsFile).Msg("Event journal incomplete")
			}
			_ = journalFile.Close()
		}
	}

	applier := engine.NewApplier(store, a.logger,
		engine.WithParallelism(a.settings.Apply.Parallelism),
		engine.WithMetrics(a.telemetry.Metrics),
		engine.WithTracer(a.telemetry.Tracer),
		engine.WithEvents(events),
	)
	return applier, done, nil
}
