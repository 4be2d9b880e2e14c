package cli

import (
	"fmt"
	"strconv"

	"github.com/lherron/subsync/internal/backfill"
	"github.com/lherron/subsync/internal/cli/appctx"
	"github.com/lherron/subsync/internal/domain"
	"github.com/lherron/subsync/internal/render"
	"github.com/spf13/cobra"
)

var migrateGDPRConsentsCmd = &cobra.Command{
	Use:   "migrate-gdpr-consents",
	Short: "Backfill user consent from the newest legacy subscriber record",
	Long: `For every user with both an email and a phone, compare the user's
create_date with the matching subscriber and subscriber_sms records. When
either legacy record is newer than the user, the user's gdpr_consent is
overwritten with the consent of the newer legacy record.

Equal legacy timestamps are resolved by --tie-break (default: subscriber).
Users without a matching subscriber or subscriber_sms are skipped and
logged as warnings.

Run migrate-subscribers first so that the users exist.`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runMigrateGDPRConsents),
}

var (
	migrateGDPRDryRun    bool
	migrateGDPRTieBreak  string
	migrateGDPRJSON      bool
	migrateGDPRYAML      bool
	migrateGDPRPorcelain bool
)

func init() {
	rootCmd.AddCommand(migrateGDPRConsentsCmd)

	migrateGDPRConsentsCmd.Flags().BoolVar(&migrateGDPRDryRun, "dry-run", false, "Compute updates without writing users")
	migrateGDPRConsentsCmd.Flags().StringVar(&migrateGDPRTieBreak, "tie-break", "", "Winner on equal timestamps: subscriber or sms (overrides SUBSYNC_TIE_BREAK)")
	migrateGDPRConsentsCmd.Flags().BoolVar(&migrateGDPRJSON, "json", false, "Output result as JSON")
	migrateGDPRConsentsCmd.Flags().BoolVar(&migrateGDPRYAML, "yaml", false, "Output result as YAML")
	migrateGDPRConsentsCmd.Flags().BoolVar(&migrateGDPRPorcelain, "porcelain", false, "Machine-readable output")
}

func runMigrateGDPRConsents(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.FormatFromFlags(migrateGDPRJSON, migrateGDPRYAML)
	if err != nil {
		return exitError(2, err)
	}

	tieBreak := app.Config.TieBreak
	if migrateGDPRTieBreak != "" {
		tieBreak = migrateGDPRTieBreak
	}
	if err := domain.ValidateTieBreak(tieBreak); err != nil {
		return exitError(2, err)
	}

	backfiller := &backfill.Backfiller{
		Subscribers:   app.Store.Subscribers,
		SubscriberSMS: app.Store.SubscriberSMS,
		Users:         app.Store.Users,
		Logger:        app.Logger,
	}

	var result *backfill.Result
	err = recordRun(cmd.Context(), app, cmd.Name(), migrateGDPRDryRun, func(runUUID string) (any, error) {
		res, err := backfiller.Run(cmd.Context(), backfill.Options{
			RunUUID:   runUUID,
			ChunkSize: app.Config.ChunkSize,
			TieBreak:  domain.TieBreak(tieBreak),
			DryRun:    migrateGDPRDryRun,
		})
		if err != nil {
			return nil, err
		}
		result = res
		return res, nil
	})
	if err != nil {
		return exitError(1, err)
	}

	headers := []string{"SCANNED", "UPDATED", "UNCHANGED", "SKIPPED", "FROM SUBSCRIBER", "FROM SMS"}
	rows := [][]string{{
		strconv.Itoa(result.Scanned),
		strconv.Itoa(result.Updated),
		strconv.Itoa(result.Unchanged),
		strconv.Itoa(result.SkippedMissing),
		strconv.Itoa(result.FromSubscriber),
		strconv.Itoa(result.FromSMS),
	}}

	if format == render.FormatTable && !migrateGDPRPorcelain {
		fmt.Fprintf(cmd.OutOrStdout(), "Run: %s\n", result.RunUUID)
		if result.DryRun {
			fmt.Fprintln(cmd.OutOrStdout(), "Mode: dry-run")
		}
	}
	return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format, Porcelain: migrateGDPRPorcelain}).Render(result, headers, rows)
}
