package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/orionsec/ad-guardian/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator and module status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status types.OrchestratorStatus
	if err := apiRequest("GET", "/api/v1/status", nil, &status); err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	running := color.New(color.FgGreen).SprintFunc()("running")
	if !status.Running {
		running = color.New(color.FgRed).SprintFunc()("stopped")
	}
	fmt.Printf("Orchestrator: %s\n", running)
	fmt.Printf("Queue depth:  %d\n", status.QueueDepth)
	fmt.Printf("Uptime:       %.0fs\n\n", status.Uptime)

	names := make([]string, 0, len(status.Modules))
	for name := range status.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Module", "Status", "Last Heartbeat"})
	for _, name := range names {
		h := status.Modules[name]
		table.Append([]string{
			name,
			moduleStatusColor(h.Status),
			h.LastHeartbeat.Format("15:04:05"),
		})
	}
	table.Render()
	return nil
}

func moduleStatusColor(s types.ModuleStatus) string {
	switch s {
	case types.StatusRunning:
		return color.New(color.FgGreen).SprintFunc()(string(s))
	case types.StatusError:
		return color.New(color.FgRed).SprintFunc()(string(s))
	default:
		return color.New(color.FgYellow).SprintFunc()(string(s))
	}
}
