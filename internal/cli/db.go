package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lherron/subsync/internal/cli/appctx"
	"github.com/lherron/subsync/internal/db"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance operations",
	Long:  `Commands for database snapshot and maintenance operations.`,
}

var dbSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create a point-in-time copy of a SQLite database",
	Long: `Creates a consistent point-in-time snapshot of the SQLite database using
VACUUM INTO. The snapshot is immediately usable without WAL/SHM files.

Take a snapshot before migrate-subscribers or migrate-gdpr-consents to keep
a restorable copy of the pre-migration state. Postgres stores should use
their own backup tooling.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.ForMigrations(), runDBSnapshot),
}

var (
	dbSnapshotOut  string
	dbSnapshotJSON bool
)

type snapshotManifest struct {
	Timestamp      string `json:"timestamp"`
	SourceDBPath   string `json:"source_db_path"`
	SnapshotDBPath string `json:"snapshot_db_path"`
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbSnapshotCmd)

	dbSnapshotCmd.Flags().StringVar(&dbSnapshotOut, "out", "", "Output path for snapshot database (required)")
	dbSnapshotCmd.Flags().BoolVar(&dbSnapshotJSON, "json", false, "Output JSON manifest")
	dbSnapshotCmd.MarkFlagRequired("out")
}

func runDBSnapshot(app *appctx.App, cmd *cobra.Command, args []string) error {
	if app.DB.Driver() != db.DriverSQLite {
		return exitError(2, fmt.Errorf("db snapshot only supports the %s driver", db.DriverSQLite))
	}
	if strings.Contains(dbSnapshotOut, "'") {
		return exitError(2, fmt.Errorf("output path must not contain single quotes: %s", dbSnapshotOut))
	}

	// Validate output path doesn't exist
	if _, err := os.Stat(dbSnapshotOut); err == nil {
		return exitError(2, fmt.Errorf("output file already exists: %s (remove it first or choose a different path)", dbSnapshotOut))
	}

	// VACUUM INTO creates a clean, optimized copy without WAL/SHM files
	if _, err := app.DB.ExecContext(cmd.Context(), fmt.Sprintf("VACUUM INTO '%s'", dbSnapshotOut)); err != nil {
		os.Remove(dbSnapshotOut)
		return exitError(1, fmt.Errorf("failed to create snapshot: %w", err))
	}

	manifest := snapshotManifest{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		SourceDBPath:   app.DB.Path(),
		SnapshotDBPath: dbSnapshotOut,
	}

	if dbSnapshotJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(manifest)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Created snapshot: %s\n", dbSnapshotOut)
	fmt.Fprintf(cmd.OutOrStdout(), "  Source: %s\n", manifest.SourceDBPath)
	fmt.Fprintf(cmd.OutOrStdout(), "  Timestamp: %s\n", manifest.Timestamp)
	fmt.Fprintf(cmd.OutOrStdout(), "\nTo restore, point subsync at the snapshot:\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  export SUBSYNC_DB_PATH=%s\n", dbSnapshotOut)

	return nil
}
