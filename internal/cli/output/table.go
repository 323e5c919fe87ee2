package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Table wraps tablewriter with build-specific functionality.
type Table struct {
	table *tablewriter.Table
}

// TableConfig holds table configuration options.
type TableConfig struct {
	Writer   io.Writer
	NoHeader bool
	Center   bool
}

// NewTable creates a new table with the given headers.
func NewTable(headers []string) *Table {
	return NewTableWithConfig(headers, TableConfig{})
}

// NewTableWithConfig creates a table with custom configuration.
func NewTableWithConfig(headers []string, cfg TableConfig) *Table {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	t := tablewriter.NewWriter(writer)

	if !cfg.NoHeader && len(headers) > 0 {
		t.SetHeader(headers)
	}

	// Default styling
	t.SetBorder(false)
	t.SetHeaderLine(true)
	t.SetColumnSeparator(" ")
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)

	if cfg.Center {
		t.SetAlignment(tablewriter.ALIGN_CENTER)
	}

	return &Table{table: t}
}

// Append adds a row to the table.
func (t *Table) Append(row []string) {
	t.table.Append(row)
}

// AppendBulk adds multiple rows to the table.
func (t *Table) AppendBulk(rows [][]string) {
	t.table.AppendBulk(rows)
}

// Render outputs the table.
func (t *Table) Render() {
	t.table.Render()
}

// SetColWidth sets the column width for a specific column.
func (t *Table) SetColWidth(width int) {
	t.table.SetColWidth(width)
}

// WorkerInfo holds worker information for the workers table.
type WorkerInfo struct {
	ID             string
	Type           string
	Capabilities   []string
	TasksCompleted int64
	TasksFailed    int64
	AssignedTaskID string
	Status         string
}

// PrintWorkersTable prints a colored workers table.
func PrintWorkersTable(workers []WorkerInfo, totalWorkers, onlineWorkers int) {
	if len(workers) == 0 {
		fmt.Println(Warning("No workers registered"))
		return
	}

	fmt.Printf("Workers: %s total, %s online\n\n",
		Bold(fmt.Sprintf("%d", totalWorkers)),
		Success(fmt.Sprintf("%d", onlineWorkers)))

	table := NewTable([]string{"ID", "TYPE", "CAPABILITIES", "DONE", "FAILED", "ASSIGNED", "STATUS"})

	for _, w := range workers {
		assigned := w.AssignedTaskID
		if assigned == "" {
			assigned = Dim("-")
		} else {
			assigned = truncateString(assigned, 12)
		}
		table.Append([]string{
			truncateString(w.ID, 20),
			w.Type,
			fmt.Sprintf("%v", w.Capabilities),
			fmt.Sprintf("%d", w.TasksCompleted),
			fmt.Sprintf("%d", w.TasksFailed),
			assigned,
			StatusLabel(w.Status),
		})
	}

	table.Render()
}

// StatusInfo holds orchestrator status information.
type StatusInfo struct {
	Address       string
	Healthy       bool
	TasksPending  int
	TasksAssigned int
	WorkersOnline int
	Uptime        time.Duration
}

// PrintStatus prints a colored status summary.
func PrintStatus(status StatusInfo) {
	fmt.Println(Bold("Orchestrator Status"))
	fmt.Println("───────────────────")

	table := NewTable([]string{})
	table.table.SetHeader(nil)

	table.Append([]string{"Address:", Info(status.Address)})
	table.Append([]string{"Status:", Healthy(status.Healthy)})
	table.Append([]string{"Tasks Pending:", fmt.Sprintf("%d", status.TasksPending)})
	table.Append([]string{"Tasks Assigned:", fmt.Sprintf("%d", status.TasksAssigned)})
	table.Append([]string{"Workers Online:", fmt.Sprintf("%d", status.WorkersOnline)})

	if status.Uptime > 0 {
		table.Append([]string{"Uptime:", formatDuration(status.Uptime)})
	}

	table.Render()
}

// truncateString truncates a string to the given max length.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	} else if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
