package main

import "invoice-ingest/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
