package cli

import (
	"go.uber.org/zap"

	"github.com/spf13/cobra"

	"card-exporter/internal/export"
	"card-exporter/internal/logging"
)

var (
	verifyKey    string
	verifyFields []string
	verifyOutput string
)

var verifyCmd = &cobra.Command{
	Use:   "verify-export <expected> <actual>",
	Short: "Compare two exports and write the differences",
	Long: `Compare an expected export against an actual one, matching rows on
the key column, and write one row per differing key to the output file.
Needs no configuration or API access.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyKey, "key", export.DefaultVerifyKey,
		"Column rows are matched on")
	verifyCmd.Flags().StringSliceVar(&verifyFields, "fields", export.DefaultVerifyFields,
		"Columns compared for matched rows")
	verifyCmd.Flags().StringVar(&verifyOutput, "output", "differences.csv",
		"File the differences are written to")
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewLogger(logLevel(""), "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	expected, err := export.LoadSnapshot(args[0])
	if err != nil {
		return err
	}
	actual, err := export.LoadSnapshot(args[1])
	if err != nil {
		return err
	}

	opts := export.VerifyOptions{Key: verifyKey, Fields: verifyFields}
	differences, err := export.VerifyExports(expected, actual, opts)
	if err != nil {
		return err
	}
	if err := export.WriteDifferences(verifyOutput, opts, differences); err != nil {
		return err
	}

	logger.Info("Verification complete",
		zap.Int("differences", len(differences)),
		zap.String("output", verifyOutput),
	)
	return nil
}
