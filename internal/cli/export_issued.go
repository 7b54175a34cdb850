package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var exportIssuedIncremental bool

var exportIssuedCmd = &cobra.Command{
	Use:   "export-issued-cards",
	Short: "Export every issued personal card",
	Long: `Export all issued personal cards to the output file, without the
person enrichment the query-driven export performs.

With --incremental-update an existing export is refreshed in place from
the cards changed since its most recent record: un-issued cards are
removed, changed cards updated, and newly issued cards appended.`,
	RunE: runExportIssued,
}

func init() {
	exportIssuedCmd.Flags().BoolVarP(&exportIssuedIncremental, "incremental-update", "i", false,
		"Update the existing export from changes since its most recent record")
}

func runExportIssued(cmd *cobra.Command, args []string) error {
	svc, logger, err := setup()
	if err != nil {
		return err
	}
	defer svc.Close()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.ExportIssuedCards(ctx, exportIssuedIncremental)
}
