package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var exportIncremental bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export card records for the configured queries",
	Long: `Run the configured queries against the Card API and identity
directories and write the aggregated card records to the output file.

With --incremental-update the existing export is merged rather than
replaced: records the queries no longer return are preserved, so cards
only ever leave the export on positive evidence.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().BoolVarP(&exportIncremental, "incremental-update", "i", false,
		"Merge into the existing export instead of replacing it")
}

func runExport(cmd *cobra.Command, args []string) error {
	svc, logger, err := setup()
	if err != nil {
		return err
	}
	defer svc.Close()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.Export(ctx, exportIncremental)
}
