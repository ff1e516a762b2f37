package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"invoice-ingest/internal/database"
	"invoice-ingest/internal/workers"
)

// OutputFormatter handles different output formats
type OutputFormatter struct {
	format string
	quiet  bool

	okStyle   lipgloss.Style
	errStyle  lipgloss.Style
	warnStyle lipgloss.Style
}

// NewOutputFormatter creates a new output formatter. Colors are applied
// only on a TTY and can be forced off.
func NewOutputFormatter(format string, quiet, noColor bool) *OutputFormatter {
	useColor := !noColor && isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""

	f := &OutputFormatter{format: format, quiet: quiet}
	if useColor {
		f.okStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
		f.errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
		f.warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	}
	return f
}

// PrintSuccess prints a success message
func (f *OutputFormatter) PrintSuccess(message string) {
	if !f.quiet {
		fmt.Println(f.okStyle.Render("✓ " + message))
	}
}

// PrintError prints an error message
func (f *OutputFormatter) PrintError(err error) {
	if !f.quiet {
		fmt.Fprintln(os.Stderr, f.errStyle.Render(fmt.Sprintf("✗ Error: %v", err)))
	}
}

// PrintWarning prints a warning message
func (f *OutputFormatter) PrintWarning(message string) {
	if !f.quiet {
		fmt.Println(f.warnStyle.Render("! " + message))
	}
}

// PrintMonitors prints the monitor list
func (f *OutputFormatter) PrintMonitors(monitors []database.Monitor) error {
	if f.quiet {
		for _, m := range monitors {
			fmt.Printf("%d\n", m.ID)
		}
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(monitors)
	}
	if len(monitors) == 0 {
		fmt.Println("No monitors configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tEMAIL\tHOST\tFOLDER\tACTIVE\tPROCESSED\tINVOICES\tLAST CHECKED")
	for _, m := range monitors {
		lastChecked := "never"
		if m.LastCheckedAt != nil {
			lastChecked = m.LastCheckedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%d\t%d\t%s\n",
			m.ID, truncate(m.EmailAddress, 30), m.IMAPHost, m.Folder,
			m.Active, m.EmailsProcessedCount, m.InvoicesCreatedCount, lastChecked)
	}
	return nil
}

// PrintCheckResult prints the outcome of a manual check
func (f *OutputFormatter) PrintCheckResult(result *workers.CheckResult) error {
	if f.quiet {
		fmt.Println(result.RunUUID)
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Printf("Run: %s\n", result.RunUUID)
	fmt.Printf("Status: %s (stage %s)\n", result.Status, result.Stage)
	fmt.Printf("Found: %d  Fetched: %d  Processed: %d  Skipped: %d  Errors: %d\n",
		result.Found, result.Fetched, result.Processed, result.Skipped, result.Errors)
	fmt.Printf("Invoices created: %d\n", result.InvoicesCreated)
	fmt.Printf("Took: %dms\n", result.TotalTimeMs)
	if result.Error != "" {
		fmt.Println(f.errStyle.Render("Error: " + result.Error))
	}

	if len(result.EmailDetails) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "UID\tSTATUS\tREASON\tSUBJECT")
		for _, d := range result.EmailDetails {
			reason := d.SkipReason
			if d.Error != "" {
				reason = d.Error
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.UID, d.Status, truncate(reason, 40), truncate(d.Subject, 40))
		}
	}
	return nil
}

// PrintCheckRuns prints run history
func (f *OutputFormatter) PrintCheckRuns(runs []database.CheckRun) error {
	if f.quiet {
		for _, r := range runs {
			fmt.Println(r.RunUUID)
		}
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No check runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "RUN\tTRIGGER\tSTATUS\tSTAGE\tFOUND\tPROCESSED\tINVOICES\tERRORS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.RunUUID[:8], r.Trigger, r.Status, r.LastStage,
			r.Found, r.EmailsProcessed, r.InvoicesCreated, r.ErrorsCount,
			r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// PrintProcessingLogs prints per-message outcomes
func (f *OutputFormatter) PrintProcessingLogs(logs []database.ProcessingLogEntry) error {
	if f.quiet {
		for _, e := range logs {
			fmt.Printf("%d\n", e.UID)
		}
		return nil
	}
	if f.format == "json" {
		return json.NewEncoder(os.Stdout).Encode(logs)
	}
	if len(logs) == 0 {
		fmt.Println("No processing log entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "UID\tSTATUS\tREASON\tATTACH\tINVOICES\tSUBJECT")
	for _, e := range logs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%d\t%s\n",
			e.UID, e.Status, truncate(e.SkipReason, 35),
			e.SupportedCount, e.AttachmentCount, e.InvoicesCreated,
			truncate(e.Subject, 40))
	}
	return nil
}

// PrintJSON prints any payload as JSON, used by commands without a table
// rendering.
func (f *OutputFormatter) PrintJSON(payload interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return strings.TrimSpace(s[:max-3]) + "..."
}
