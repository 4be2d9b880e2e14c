package cli

import (
	"context"
	"errors"

	"github.com/lherron/subsync/internal/cli/appctx"
	"github.com/lherron/subsync/internal/events"
)

// ExitError carries the process exit code for a failed command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
// 2 is used for usage and configuration errors, 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// recordRun brackets fn with run.started and run.finished (or run.failed)
// events under a fresh run UUID. fn returns the summary stored as the
// run.finished payload.
func recordRun(ctx context.Context, app *appctx.App, command string, dryRun bool, fn func(runUUID string) (any, error)) error {
	runUUID := events.NewRunUUID()
	log := app.Logger.With().Str("run_uuid", runUUID).Logger()

	started := map[string]any{"command": command, "dry_run": dryRun}
	if err := app.Events.LogRunEvent(ctx, runUUID, events.TypeRunStarted, started); err != nil {
		return err
	}
	log.Info().Bool("dry_run", dryRun).Msg("run started")

	summary, err := fn(runUUID)
	if err != nil {
		failed := map[string]any{"command": command, "error": err.Error()}
		if logErr := app.Events.LogRunEvent(context.WithoutCancel(ctx), runUUID, events.TypeRunFailed, failed); logErr != nil {
			log.Error().Err(logErr).Msg("failed to record run failure")
		}
		log.Error().Err(err).Msg("run failed")
		return err
	}

	if err := app.Events.LogRunEvent(ctx, runUUID, events.TypeRunFinished, summary); err != nil {
		return err
	}
	log.Info().Msg("run finished")
	return nil
}
