package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/edgegate/internal/util"
)

const timeLayout = "2006-01-02 15:04:05"

// FormatMarkdown renders the report as markdown.
func FormatMarkdown(data *ReportData) string {
	var sb strings.Builder

	sb.WriteString("# edgegate Report\n\n")
	fmt.Fprintf(&sb, "Generated %s for %s to %s.\n\n",
		data.GeneratedAt.Local().Format(timeLayout),
		data.Since.Local().Format(timeLayout),
		data.Until.Local().Format(timeLayout))

	sb.WriteString("## Summary\n\n")
	if len(data.Stats) == 0 {
		sb.WriteString("No runs recorded in this period.\n\n")
		return sb.String()
	}
	sb.WriteString("| Tool | Runs | Succeeded | Targets |\n")
	sb.WriteString("|------|-----:|----------:|--------:|\n")
	for _, s := range data.Stats {
		fmt.Fprintf(&sb, "| %s | %d | %d | %d |\n", s.Tool, s.Total, s.Succeeded, s.Targets)
	}
	sb.WriteString("\n")

	if len(data.Pings) > 0 {
		sb.WriteString("## Reachability\n\n")
		sb.WriteString("| Host | Runs | Sent | Received | Loss | Avg RTT |\n")
		sb.WriteString("|------|-----:|-----:|---------:|-----:|--------:|\n")
		for _, p := range data.Pings {
			fmt.Fprintf(&sb, "| %s | %d | %d | %d | %.1f%% | %.2f ms |\n",
				p.Host, p.Runs, p.Sent, p.Received, p.LossPercent, p.AvgMs)
		}
		sb.WriteString("\n")
	}

	if len(data.Paths) > 0 {
		sb.WriteString("## Paths\n\n")
		for _, p := range data.Paths {
			fmt.Fprintf(&sb, "### %s\n\n", p.Target)
			fmt.Fprintf(&sb, "%d runs, reached the target in %d, last traced %s.\n\n",
				p.Runs, p.Reached, p.Last.Local().Format(timeLayout))
			sb.WriteString("| Hop | Responders | Loss | Min | Avg | Max |\n")
			sb.WriteString("|----:|------------|-----:|----:|----:|----:|\n")
			for _, h := range p.Hops {
				addrs := make([]string, len(h.Responders))
				for i, r := range h.Responders {
					addrs[i] = r.Label()
				}
				if len(addrs) == 0 {
					addrs = []string{"*"}
				}
				fmt.Fprintf(&sb, "| %d | %s | %.0f%% | %s | %s | %s |\n",
					h.HopNum, strings.Join(addrs, ", "), h.LossPercent(),
					ms(h, h.MinMs), ms(h, h.AvgMs), ms(h, h.MaxMs))
			}
			sb.WriteString("\n")
			sb.WriteString(PathDiagram(p))
			if chart := LatencyChart(p); chart != "" {
				sb.WriteString("\n")
				sb.WriteString(chart)
			}
			sb.WriteString("\n")
		}
	}

	if len(data.TraceChanges) > 0 {
		sb.WriteString("## Path Changes\n\n")
		for _, c := range data.TraceChanges {
			fmt.Fprintf(&sb, "- **%s** at %s", c.Target, c.Timestamp.Local().Format(timeLayout))
			if len(c.Added) > 0 {
				fmt.Fprintf(&sb, ", added %s", strings.Join(c.Added, ", "))
			}
			if len(c.Removed) > 0 {
				fmt.Fprintf(&sb, ", removed %s", strings.Join(c.Removed, ", "))
			}
			if len(c.Added) == 0 && len(c.Removed) == 0 {
				sb.WriteString(", hop order changed")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(data.LatestScans) > 0 {
		sb.WriteString("## Open Ports\n\n")
		sb.WriteString("| Host | Open | Scanned | Last scan |\n")
		sb.WriteString("|------|------|--------:|-----------|\n")
		for _, s := range data.LatestScans {
			open := make([]string, len(s.OpenPorts))
			for i, p := range s.OpenPorts {
				open[i] = fmt.Sprint(p)
			}
			fmt.Fprintf(&sb, "| %s | %s | %d | %s |\n",
				s.Target, strings.Join(open, ", "), len(s.Ports), s.Timestamp.Local().Format(timeLayout))
		}
		sb.WriteString("\n")
	}

	if len(data.PortChanges) > 0 {
		sb.WriteString("## Port Changes\n\n")
		for _, c := range data.PortChanges {
			fmt.Fprintf(&sb, "- **%s:%d** %s → %s at %s\n",
				c.Host, c.Port, c.OldState, c.NewState, c.Timestamp.Local().Format(timeLayout))
		}
		sb.WriteString("\n")
	}

	if len(data.Failures) > 0 {
		sb.WriteString("## Failures\n\n")
		sb.WriteString("| Time | Tool | Target | Kind | Summary |\n")
		sb.WriteString("|------|------|--------|------|---------|\n")
		for _, e := range data.Failures {
			kind := e.ErrorKind
			if kind == "" {
				kind = "-"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
				e.Timestamp.Local().Format(timeLayout), e.Tool, e.Target, kind,
				strings.ReplaceAll(e.Summary, "|", "\\|"))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func ms(h HopProfile, v float64) string {
	if len(h.Samples) == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

// WriteMarkdownFile writes the report into dir under a timestamped name and
// returns the path.
func WriteMarkdownFile(data *ReportData, dir string) (string, error) {
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	name := fmt.Sprintf("edgegate-report-%s.md", data.GeneratedAt.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(FormatMarkdown(data)), 0644); err != nil {
		return "", err
	}
	return path, nil
}
