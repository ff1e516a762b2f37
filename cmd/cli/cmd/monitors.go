package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var monitorsCmd = &cobra.Command{
	Use:     "monitors",
	Aliases: []string{"ls"},
	Short:   "List email monitors",
	RunE:    runListMonitors,
}

var (
	checkSinceDays int
	checkLimit     int
	checkFolder    string
)

var checkCmd = &cobra.Command{
	Use:   "check <monitor-id>",
	Short: "Trigger a manual check on a monitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var (
	diagnoseBypassKeywords bool
	diagnoseBypassDedupe   bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <monitor-id>",
	Short: "Dry-run a check and explain per-message gating",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagnose,
}

func init() {
	checkCmd.Flags().IntVar(&checkSinceDays, "since-days", 0, "Search window in days (default 7)")
	checkCmd.Flags().IntVar(&checkLimit, "limit", 0, "Max messages per run (default 50)")
	checkCmd.Flags().StringVar(&checkFolder, "folder", "", "Folder override")

	diagnoseCmd.Flags().BoolVar(&diagnoseBypassKeywords, "bypass-keywords", false, "Ignore the keyword filter")
	diagnoseCmd.Flags().BoolVar(&diagnoseBypassDedupe, "bypass-dedupe", false, "Ignore dedupe state")

	rootCmd.AddCommand(monitorsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(diagnoseCmd)
}

func runListMonitors(cmd *cobra.Command, args []string) error {
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	monitors, err := client.ListMonitors()
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	return formatter.PrintMonitors(monitors)
}

func runCheck(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	result, err := client.CheckMonitor(id, checkSinceDays, checkLimit, checkFolder)
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	return formatter.PrintCheckResult(result)
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	diag, err := client.DiagnoseMonitor(id, diagnoseBypassKeywords, diagnoseBypassDedupe)
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	return formatter.PrintJSON(diag)
}
