package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Submit an event JSON document (or - for stdin) to the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}

	var resp struct {
		Status  string `json:"status"`
		EventID string `json:"event_id"`
	}
	if err := apiRequest("POST", "/api/v1/events", bytes.NewReader(data), &resp); err != nil {
		return fmt.Errorf("submit event: %w", err)
	}
	fmt.Printf("%s: %s\n", resp.Status, resp.EventID)
	return nil
}
