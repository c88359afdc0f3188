package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/report"
	"github.com/user/edgegate/internal/storage"
)

var (
	reportLast   string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a markdown report from stored history",
	Long: `Generate a markdown report of recorded runs: totals per tool,
reachability, traceroute paths and path changes, open ports and port state
changes, and failures.

Examples:
  edgegate report --last 24h
  edgegate report --last 7d --output ./report.md
  edgegate report --last 1h --output -`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportLast, "last", "24h",
		"time range (e.g., 1h, 24h, 7d, 2w)")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		"output file, - for stdout (default: <data_dir>/reports)")
}

func runReport(cmd *cobra.Command, args []string) error {
	duration, err := parseDuration(reportLast)
	if err != nil {
		return fmt.Errorf("invalid time range: %w", err)
	}

	until := time.Now()
	since := until.Add(-duration)

	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	data, err := report.NewGenerator(storage.NewHistoryStore(db)).Generate(since, until)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	switch reportOutput {
	case "-":
		fmt.Print(report.FormatMarkdown(data))
		return nil
	case "":
		path, err := report.WriteMarkdownFile(data, filepath.Join(cfg.DataDir, "reports"))
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report saved to: %s\n", path)
	default:
		if err := os.WriteFile(reportOutput, []byte(report.FormatMarkdown(data)), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report saved to: %s\n", reportOutput)
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Report Summary"))
	for _, s := range data.Stats {
		printField(s.Tool, fmt.Sprintf("%d runs, %d ok", s.Total, s.Succeeded))
	}
	printField("Path changes", len(data.TraceChanges))
	printField("Port changes", len(data.PortChanges))
	printField("Failures", len(data.Failures))
	return nil
}

// parseDuration accepts time.ParseDuration input plus whole days (7d) and
// weeks (2w).
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 {
		var n int
		switch s[len(s)-1] {
		case 'd':
			if _, err := fmt.Sscanf(s, "%dd", &n); err == nil && n > 0 {
				return time.Duration(n) * 24 * time.Hour, nil
			}
		case 'w':
			if _, err := fmt.Sscanf(s, "%dw", &n); err == nil && n > 0 {
				return time.Duration(n) * 7 * 24 * time.Hour, nil
			}
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", s)
	}
	return d, nil
}
