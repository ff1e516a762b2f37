package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Operate database backups",
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	RunE:  runBackupList,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a snapshot now",
	RunE:  runBackupCreate,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore a named snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupRestore,
}

var backupStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the backup directory",
	RunE:  runBackupStats,
}

func init() {
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupStatsCmd)
	rootCmd.AddCommand(backupCmd)
}

func runBackupList(cmd *cobra.Command, args []string) error {
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	snapshots, err := client.ListBackups()
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	return formatter.PrintJSON(snapshots)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	snapshot, err := client.CreateBackup()
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	formatter.PrintSuccess(fmt.Sprintf("Created %s (%d bytes)", snapshot.Name, snapshot.SizeBytes))
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	result, err := client.RestoreBackup(args[0])
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	formatter.PrintSuccess(fmt.Sprintf("Restored from %s (pre-restore snapshot: %s)",
		result.RestoredFrom, result.PreRestoreSnapshotName))
	return nil
}

func runBackupStats(cmd *cobra.Command, args []string) error {
	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}
	stats, err := client.BackupStats()
	if err != nil {
		formatter.PrintError(err)
		return err
	}
	return formatter.PrintJSON(stats)
}
