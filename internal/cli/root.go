package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "subsync",
	Short: "Reconcile legacy subscribers into unified users",
	Long: `subsync merges the legacy email and SMS subscriber tables into the unified
users table and backfills user consent from the newest legacy record.

Run migrate-subscribers first, then migrate-gdpr-consents. Both commands
accept --dry-run to preview their effect without writing users.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with ctx available to every
// subcommand through cmd.Context()
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Database path or connection string (overrides SUBSYNC_DB_PATH)")
	rootCmd.PersistentFlags().String("driver", "", "Database driver: sqlite3 or pgx (overrides SUBSYNC_DB_DRIVER)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides SUBSYNC_LOG_LEVEL)")
}
