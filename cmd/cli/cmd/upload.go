package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document for direct ingestion",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	formatter, client, err := initializeClient()
	if err != nil {
		return err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	result, err := client.Upload(filepath.Base(path), contentType, data)
	if err != nil {
		formatter.PrintError(err)
		return err
	}

	formatter.PrintSuccess(fmt.Sprintf("Ingested as %s (%d items, confidence %.2f)",
		result.RunID, result.ItemCount, result.Confidence))
	for _, warning := range result.Warnings {
		formatter.PrintWarning(warning)
	}
	if format == "json" {
		return formatter.PrintJSON(result)
	}
	return nil
}
