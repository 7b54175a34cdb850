// Package cli defines the card-exporter command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"card-exporter/internal/config"
	"card-exporter/internal/logging"
	"card-exporter/internal/service"
)

var (
	configPaths []string
	quiet       bool
	debug       bool

	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "card-exporter",
		Short: "Export University Card records to CSV or XLSX",
		Long: `card-exporter fetches card records from the Card API, enriches them
with person information from the university identity directories, and
writes them to a CSV or XLSX export. Exports can be rebuilt from
scratch or updated incrementally against a previous run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringSliceVarP(&configPaths, "config", "c",
		[]string{"config.yml"}, "Configuration file(s) to use; later files override earlier ones")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Reduce logging verbosity")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Log debugging information")
}

// Execute runs the root command.
func Execute() error {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(exportIssuedCmd)
	rootCmd.AddCommand(cardDetailCmd)
	rootCmd.AddCommand(verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// logLevel resolves the logging level: the flags win over configuration.
func logLevel(configured string) string {
	if debug {
		return "debug"
	}
	if quiet {
		return "warn"
	}
	if configured != "" {
		return configured
	}
	return "info"
}

// setup loads configuration, builds the logger, and wires the exporter
// service shared by the commands that talk to the APIs.
func setup() (*service.ExporterService, *zap.Logger, error) {
	// A .env file supplies credentials in development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPaths)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(logLevel(cfg.Log.Level), cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}

	svc, err := service.NewExporterService(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return svc, logger, nil
}
