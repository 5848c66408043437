package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/orionsec/ad-guardian/internal/types"
)

var (
	alertSeverity string
	alertStatus   string
	alertLimit    int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recent alerts",
	RunE:  runAlerts,
}

func init() {
	alertsCmd.Flags().StringVar(&alertSeverity, "severity", "", "filter by severity (info/warning/error/critical)")
	alertsCmd.Flags().StringVar(&alertStatus, "status", "", "filter by status (new/read/remediated)")
	alertsCmd.Flags().IntVar(&alertLimit, "limit", 20, "maximum alerts to show")
	rootCmd.AddCommand(alertsCmd)
}

func runAlerts(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if alertSeverity != "" {
		q.Set("severity", alertSeverity)
	}
	if alertStatus != "" {
		q.Set("status", alertStatus)
	}
	q.Set("limit", strconv.Itoa(alertLimit))

	var resp struct {
		Alerts []types.Alert `json:"alerts"`
		Total  int           `json:"total"`
	}
	if err := apiRequest("GET", "/api/v1/alerts?"+q.Encode(), nil, &resp); err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}
	if len(resp.Alerts) == 0 {
		fmt.Println("No alerts.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Time", "Source", "Severity", "Risk", "Target", "Status", "Justification"})
	for _, a := range resp.Alerts {
		target := a.User
		if target == "" {
			target = a.Device
		}
		table.Append([]string{
			shortID(a.ID),
			a.Timestamp.Format("15:04:05"),
			a.Source,
			severityColor(a.Severity),
			a.RiskLevel.String(),
			target,
			string(a.Status),
			a.Justification,
		})
	}
	table.Render()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).SprintFunc()(string(s))
	case types.SeverityError:
		return color.New(color.FgRed).SprintFunc()(string(s))
	case types.SeverityWarning:
		return color.New(color.FgYellow).SprintFunc()(string(s))
	default:
		return color.New(color.FgCyan).SprintFunc()(string(s))
	}
}
