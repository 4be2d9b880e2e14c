package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/lherron/subsync/internal/bulk"
	"github.com/lherron/subsync/internal/cli/appctx"
	"github.com/lherron/subsync/internal/merge"
	"github.com/lherron/subsync/internal/render"
	"github.com/spf13/cobra"
)

var migrateSubscribersCmd = &cobra.Command{
	Use:   "migrate-subscribers",
	Short: "Create users from legacy email and SMS subscribers",
	Long: `Create unified users from the subscribers and subscriber_sms tables, using
the clients table to pair emails with phones.

Rows that cannot be merged safely are written to three CSV reports in the
report directory instead of being resolved:

  clients_with_duplicated_phones.csv  clients sharing a phone number
  subscriber_conflicts.csv            subscribers whose phone belongs to another user
  subscriber_sms_conflicts.csv        SMS subscribers whose email belongs to another user

Reports are rewritten from scratch on every run. Users that already exist
are skipped, so the command may be re-run safely.

Use --dry-run to compute the result without inserting users or writing
reports, and --diff to show how the reports would change.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runMigrateSubscribers),
}

var (
	migrateSubscribersDryRun    bool
	migrateSubscribersReportDir string
	migrateSubscribersDiff      bool
	migrateSubscribersJSON      bool
	migrateSubscribersYAML      bool
	migrateSubscribersPorcelain bool
)

func init() {
	rootCmd.AddCommand(migrateSubscribersCmd)

	migrateSubscribersCmd.Flags().BoolVar(&migrateSubscribersDryRun, "dry-run", false, "Compute the merge without writing users or reports")
	migrateSubscribersCmd.Flags().StringVar(&migrateSubscribersReportDir, "report-dir", "", "Directory for CSV reports (overrides SUBSYNC_REPORT_DIR)")
	migrateSubscribersCmd.Flags().BoolVar(&migrateSubscribersDiff, "diff", false, "Show a unified diff of each report against the previous run")
	migrateSubscribersCmd.Flags().BoolVar(&migrateSubscribersJSON, "json", false, "Output result as JSON")
	migrateSubscribersCmd.Flags().BoolVar(&migrateSubscribersYAML, "yaml", false, "Output result as YAML")
	migrateSubscribersCmd.Flags().BoolVar(&migrateSubscribersPorcelain, "porcelain", false, "Machine-readable output: the pass table only, tab separated")
}

func runMigrateSubscribers(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.FormatFromFlags(migrateSubscribersJSON, migrateSubscribersYAML)
	if err != nil {
		return exitError(2, err)
	}

	reportDir := app.Config.ReportDir
	if migrateSubscribersReportDir != "" {
		reportDir = migrateSubscribersReportDir
	}

	merger := &merge.Merger{
		Subscribers:   app.Store.Subscribers,
		SubscriberSMS: app.Store.SubscriberSMS,
		Clients:       app.Store.Clients,
		Users:         app.Store.Users,
		Logger:        app.Logger,
	}

	var result *merge.Result
	err = recordRun(cmd.Context(), app, cmd.Name(), migrateSubscribersDryRun, func(runUUID string) (any, error) {
		res, err := merger.Run(cmd.Context(), merge.Options{
			RunUUID:             runUUID,
			ChunkSize:           app.Config.ChunkSize,
			SubscriberBatchSize: app.Config.SubscriberBatchSize,
			SMSBatchSize:        app.Config.SMSBatchSize,
			ReportDir:           reportDir,
			DryRun:              migrateSubscribersDryRun,
			Diff:                migrateSubscribersDiff,
		})
		if err != nil {
			return nil, err
		}
		result = res
		return map[string]any{
			"dry_run":                  result.DryRun,
			"email_pass":               result.EmailPass,
			"phone_pass":               result.PhonePass,
			"duplicated_phones":        len(result.DuplicatedPhones),
			"subscriber_conflicts":     len(result.SubscriberConflicts),
			"subscriber_sms_conflicts": len(result.SubscriberSMSConflicts),
		}, nil
	})
	if err != nil {
		return exitError(1, err)
	}

	if format != render.FormatTable {
		return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format}).Render(result, nil, nil)
	}

	headers := []string{"PASS", "SCANNED", "EXISTING", "CREATED", "DEFERRED", "CONFLICTS"}
	rows := [][]string{
		passRow("email", result.EmailPass),
		passRow("phone", result.PhonePass),
	}
	if migrateSubscribersPorcelain {
		return render.NewRenderer(cmd.OutOrStdout(), render.Options{Porcelain: true}).RenderTable(headers, rows)
	}

	printMergeSummary(cmd, result, headers, rows)
	return nil
}

func printMergeSummary(cmd *cobra.Command, result *merge.Result, headers []string, rows [][]string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run: %s\n", result.RunUUID)
	if result.DryRun {
		fmt.Fprintln(out, "Mode: dry-run")
	}

	render.NewRenderer(out, render.Options{}).RenderTable(headers, rows)

	for _, pass := range []struct {
		name   string
		insert *bulk.Result
	}{
		{"email", result.EmailInsert},
		{"phone", result.PhoneInsert},
	} {
		if pass.insert == nil {
			continue
		}
		fmt.Fprintf(out, "%s pass: ", pass.name)
		pass.insert.PrintSummary(out)
	}

	fmt.Fprintf(out, "Duplicated phones: %d\n", len(result.DuplicatedPhones))
	fmt.Fprintf(out, "Subscriber conflicts: %d\n", len(result.SubscriberConflicts))
	fmt.Fprintf(out, "Subscriber SMS conflicts: %d\n", len(result.SubscriberSMSConflicts))

	for _, path := range result.Reports {
		fmt.Fprintf(out, "✓ Report written to %s\n", path)
	}

	names := make([]string, 0, len(result.Diffs))
	for name := range result.Diffs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "\n%s changes:\n%s", name, result.Diffs[name])
	}
}

func passRow(name string, s merge.PassStats) []string {
	return []string{
		name,
		strconv.Itoa(s.Scanned),
		strconv.Itoa(s.SkippedExisting),
		strconv.Itoa(s.Created),
		strconv.Itoa(s.Deferred),
		strconv.Itoa(s.Conflicts),
	}
}
