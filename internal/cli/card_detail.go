package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cardDetailScheme    string
	cardDetailNormalize bool
)

var cardDetailCmd = &cobra.Command{
	Use:   "card-detail <identifier>",
	Short: "Print the detail of one or more cards as JSON",
	Long: `Fetch the detail view of a card and print it to stdout as JSON.

The identifier is a card UUID, or with --identifier-scheme any known
identifier (crsid, usn, barcode, ...), in which case every card carrying
that identifier is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runCardDetail,
}

func init() {
	cardDetailCmd.Flags().StringVar(&cardDetailScheme, "identifier-scheme", "",
		"Identifier scheme of the provided identifier")
	cardDetailCmd.Flags().BoolVarP(&cardDetailNormalize, "normalize", "n", false,
		"Print canonical card records instead of raw API responses")
}

func runCardDetail(cmd *cobra.Command, args []string) error {
	svc, logger, err := setup()
	if err != nil {
		return err
	}
	defer svc.Close()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.CardDetail(ctx, args[0], cardDetailScheme, cardDetailNormalize)
}
