package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	cliapi "invoice-ingest/internal/cli"
)

var (
	serverURL string
	format    string
	quiet     bool
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "invoice-ingest",
	Short: "CLI client for the invoice ingestion API",
	Long: `invoice-ingest manages email monitors and invoice ingestion through
the REST API: trigger checks, inspect run history and per-message
outcomes, upload documents directly, and operate database backups.`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	fang.Execute(context.Background(), rootCmd)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", getEnvOrDefault("INVOICE_INGEST_SERVER", "http://localhost:8080"), "API server address")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", getEnvOrDefault("INVOICE_INGEST_FORMAT", "table"), "Output format (table, json)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (minimal output)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable color output")
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(envVar, defaultVal string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultVal
}

// initializeClient sets up configuration, formatter, and API client
func initializeClient() (*cliapi.OutputFormatter, *cliapi.Client, error) {
	config, err := cliapi.LoadConfig(serverURL, format, quiet)
	if err != nil {
		return nil, nil, err
	}

	formatter := cliapi.NewOutputFormatter(config.Format, config.Quiet, noColor)
	client := cliapi.NewClient(config.ServerURL, config.RequestTimeout)

	if err := client.HealthCheck(); err != nil {
		formatter.PrintError(err)
		return nil, nil, err
	}
	return formatter, client, nil
}
