// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, flag overrides, logger setup and database
// opening to reduce boilerplate across commands.
package appctx

import (
	"fmt"

	"github.com/lherron/subsync/internal/config"
	"github.com/lherron/subsync/internal/db"
	"github.com/lherron/subsync/internal/events"
	"github.com/lherron/subsync/internal/logging"
	"github.com/lherron/subsync/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded and validated configuration
	Config *config.Config

	// Logger writes structured logs to stderr
	Logger zerolog.Logger

	// DB is the opened database connection (nil if NeedsDB is false)
	DB *db.DB

	// Store wraps DB (nil if NeedsDB is false)
	Store *store.Store

	// Events writes and reads the event log (nil if NeedsDB is false)
	Events *events.Writer
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsDB indicates whether to open the database.
	NeedsDB bool

	// AllowPending skips the pending-migrations check. Only the migrate
	// command itself should set it.
	AllowPending bool
}

// DefaultOptions returns default options (DB required, schema up to date).
func DefaultOptions() Options {
	return Options{
		NeedsDB:      true,
		AllowPending: false,
	}
}

// ForMigrations returns options that open the database regardless of
// pending migrations.
func ForMigrations() Options {
	return Options{
		NeedsDB:      true,
		AllowPending: true,
	}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The database is closed automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	app := &App{}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	// Flags override config
	if v := flagValue(cmd, "driver"); v != "" {
		app.Config.DBDriver = v
	}
	if v := flagValue(cmd, "db"); v != "" {
		app.Config.DBPath = v
	}
	if v := flagValue(cmd, "log-level"); v != "" {
		app.Config.LogLevel = v
	}
	app.Config.ApplyDefaults()

	if err := app.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = app.Config.LogLevel
	logCfg.Format = app.Config.LogFormat
	logCfg.Output = cmd.ErrOrStderr()
	app.Logger = logging.New(logCfg).With().Str("command", cmd.Name()).Logger()

	if !opts.NeedsDB {
		return app, nil
	}

	database, err := db.Open(app.Config.DBDriver, app.Config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if !opts.AllowPending {
		if err := database.RequiresMigrationError(); err != nil {
			database.Close()
			return nil, err
		}
	}

	app.DB = database
	app.Store = store.New(database)
	app.Events = events.NewWriter(database)

	return app, nil
}

func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}
