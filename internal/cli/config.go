// Package cli implements the API client, configuration and output
// formatting shared by the CLI commands.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds CLI settings resolved from flags and environment.
type Config struct {
	ServerURL      string
	Format         string
	Quiet          bool
	RequestTimeout time.Duration
}

// LoadConfig validates and normalizes the CLI settings. Flags win over
// environment variables.
func LoadConfig(serverURL, format string, quiet bool) (*Config, error) {
	if serverURL == "" {
		serverURL = os.Getenv("INVOICE_INGEST_SERVER")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	serverURL = strings.TrimRight(serverURL, "/")
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("server URL must start with http:// or https://, got %q", serverURL)
	}

	if format == "" {
		format = os.Getenv("INVOICE_INGEST_FORMAT")
	}
	if format == "" {
		format = "table"
	}
	if format != "table" && format != "json" {
		return nil, fmt.Errorf("unsupported format %q (table, json)", format)
	}

	timeout := 5 * time.Minute // checks can hold the connection for a while
	return &Config{
		ServerURL:      serverURL,
		Format:         format,
		Quiet:          quiet,
		RequestTimeout: timeout,
	}, nil
}
