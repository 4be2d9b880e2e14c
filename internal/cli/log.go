package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lherron/subsync/internal/cli/appctx"
	"github.com/lherron/subsync/internal/domain"
	"github.com/lherron/subsync/internal/events"
	"github.com/lherron/subsync/internal/render"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the event log of past runs",
	Long: `Show entries from the event log, newest first.

Every migrate-subscribers and migrate-gdpr-consents run records run.started
and run.finished (or run.failed) events under its run UUID, plus one
users.created event per bulk insert and one user.consent_updated event per
consent change.

Examples:
  subsync log                       # Last 50 events
  subsync log --run <uuid>          # Events of one run
  subsync log --limit 10 --json     # Machine-readable output
`,
	Args: cobra.NoArgs,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runLog),
}

var (
	logRun       string
	logJSON      bool
	logPorcelain bool
	logLimit     int
)

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().StringVar(&logRun, "run", "", "Only show events of this run UUID")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "Output as JSON")
	logCmd.Flags().BoolVar(&logPorcelain, "porcelain", false, "Machine-readable output")
	logCmd.Flags().IntVar(&logLimit, "limit", 50, "Limit number of events")
}

func runLog(app *appctx.App, cmd *cobra.Command, args []string) error {
	if logRun != "" {
		if err := domain.ValidateUUID(logRun); err != nil {
			return exitError(2, err)
		}
	}

	list, err := app.Events.List(cmd.Context(), events.ListOptions{RunUUID: logRun, Limit: logLimit})
	if err != nil {
		return exitError(1, err)
	}

	format := render.FormatTable
	if logJSON {
		format = render.FormatJSON
	}

	headers := []string{"ID", "TIME", "RUN", "EVENT", "RESOURCE", "PAYLOAD"}
	rows := make([][]string, 0, len(list))
	for _, e := range list {
		resource := e.ResourceType
		if e.ResourceID != nil {
			resource += ":" + strconv.FormatInt(*e.ResourceID, 10)
		}
		payload := ""
		if e.Payload != nil {
			payload = *e.Payload
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.RunUUID,
			e.EventType,
			resource,
			payload,
		})
	}

	if len(list) == 0 && format == render.FormatTable && !logPorcelain {
		fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
		return nil
	}
	if list == nil {
		list = []domain.Event{}
	}

	return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format, Porcelain: logPorcelain}).Render(list, headers, rows)
}
