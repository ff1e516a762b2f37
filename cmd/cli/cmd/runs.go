package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs <monitor-id>",
	Short: "List recent check runs for a monitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runListRuns,
}

var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs <run-uuid>",
	Short: "List per-message outcomes for a check run",
	Args:  cobra.ExactArgs(1),
	RunE:  runListLogs,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Max runs to list")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 100, "Max entries to list")

	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(logsCmd)
}

func runListRuns(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	runs, err := client.ListCheckRuns(id, runsLimit)
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	return formatter.PrintCheckRuns(runs)
}

func runListLogs(cmd *cobra.Command, args []string) error {
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	logs, err := client.ListProcessingLogs(args[0], logsLimit)
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	return formatter.PrintProcessingLogs(logs)
}
