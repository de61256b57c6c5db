package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackzilla/stackzilla/pkg/blueprint"
	"github.com/stackzilla/stackzilla/pkg/provider/null"
	"github.com/stackzilla/stackzilla/pkg/resource"
	"github.com/stackzilla/stackzilla/pkg/settings"
	"github.com/stackzilla/stackzilla/pkg/stores"
	"github.com/stackzilla/stackzilla/pkg/telemetry"
)

// app carries the state shared by every command once settings are loaded.
type app struct {
	version    string
	configFile string
	noColor    bool

	settings  *settings.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := &app{version: version}
	rootCmd := newRootCommand(a, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate))

	err := rootCmd.ExecuteContext(ctx)
	if shutdownErr := a.shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

func newRootCommand(a *app, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zilla",
		Short: "Stackzilla - declarative infrastructure blueprints",
		Long: `Stackzilla reconciles a blueprint on disk with the blueprint last applied.

Blueprints are directories of CUE (.cue) and Starlark (.star) modules that
declare resource classes and resource instances. The applied blueprint and
every resource's attributes are kept in a SQLite database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (default ./zilla.yaml)")
	flags.String("database", "", "path of the state database")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	flags.String("trace-exporter", "", "trace exporter: otlp, stdout or none")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newBlueprintCommand(a))
	rootCmd.AddCommand(newDatabaseCommand(a))
	rootCmd.AddCommand(newMetadataCommand(a))
	rootCmd.AddCommand(newResourceCommand(a))
	rootCmd.AddCommand(newRunsCommand(a))

	return rootCmd
}

// setup loads the settings and builds telemetry.
func (a *app) setup(cmd *cobra.Command) error {
	s, err := settings.Load(a.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	s.Telemetry.ServiceVersion = a.version

	tel, err := telemetry.New(&s.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	if a.noColor {
		color.NoColor = true
	}

	a.settings = s
	a.telemetry = tel
	a.logger = tel.Logger.Zerolog()

	tel.Metrics.StartServer(func(err error) {
		a.logger.Error().Err(err).Msg("Metrics server failed")
	})

	a.logger.Debug().
		Str("database", s.Database.Path).
		Str("command", cmd.CommandPath()).
		Msg("Settings loaded")
	return nil
}

func (a *app) shutdown() error {
	if a.telemetry == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.telemetry.Shutdown(ctx)
}

// openStore opens the existing state database.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	path := a.settings.Database.Path
	if !stores.Exists(path) {
		return nil, fmt.Errorf("database %s does not exist, run 'zilla database create' first", path)
	}
	return a.initStore(ctx, path)
}

func (a *app) initStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newLoader registers the providers and returns a blueprint loader.
func (a *app) newLoader() (*blueprint.Loader, *resource.Registry, error) {
	registry := resource.NewRegistry()
	if err := null.Register(registry, null.NewHandler(a.logger)); err != nil {
		return nil, nil, err
	}

	loader, err := blueprint.NewLoader(registry, a.logger,
		blueprint.WithStarlarkTimeout(a.settings.Apply.StarlarkTimeout))
	if err != nil {
		return nil, nil, err
	}
	return loader, registry, nil
}

// withStore opens the database for the duration of fn.
func (a *app) withStore(cmd *cobra.Command, fn func(context.Context, *stores.SQLiteStore) error) error {
	ctx := cmd.Context()
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(ctx, store)
}
