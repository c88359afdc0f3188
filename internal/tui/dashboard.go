package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/edgegate/internal/model"
)

// DashboardData holds data for the dashboard view.
type DashboardData struct {
	Running  bool
	PID      int
	Status   *model.DaemonStatus
	Stats    []model.HistoryStats
	Recent   []model.HistoryEntry
	LoadedAt time.Time
}

// Dashboard is the main dashboard view.
type Dashboard struct {
	data   *DashboardData
	width  int
	height int
}

// NewDashboard creates a new dashboard.
func NewDashboard(data *DashboardData, width, height int) *Dashboard {
	return &Dashboard{
		data:   data,
		width:  width,
		height: height,
	}
}

// SetSize updates the dashboard size.
func (d *Dashboard) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	var sb strings.Builder

	sb.WriteString(HeaderStyle.Width(d.sectionWidth()).Render("edgegate"))
	sb.WriteString("\n\n")
	sb.WriteString(d.renderServerSection())
	sb.WriteString("\n")
	if d.data.Status != nil && len(d.data.Status.Jobs) > 0 {
		sb.WriteString(d.renderJobsSection())
		sb.WriteString("\n")
	}
	sb.WriteString(d.renderStatsSection())
	sb.WriteString("\n")
	sb.WriteString(d.renderRecentSection())
	sb.WriteString("\n")
	sb.WriteString(HelpStyle.Render(fmt.Sprintf("Updated %s • 'r' to refresh • 'q' to quit",
		d.data.LoadedAt.Format("15:04:05"))))

	return sb.String()
}

func (d *Dashboard) sectionWidth() int {
	w := d.width - 4
	if w < 60 {
		w = 60
	}
	return w
}

func (d *Dashboard) section(title, content string) string {
	return SectionStyle.Width(d.sectionWidth()).Render(
		SectionTitleStyle.Render(title) + "\n" + content)
}

func (d *Dashboard) renderServerSection() string {
	lines := []string{
		LabelStyle.Render("Server:") + " " +
			RenderStatus(d.data.Running, fmt.Sprintf("running (PID %d)", d.data.PID), "stopped"),
	}
	if st := d.data.Status; st != nil {
		lines = append(lines,
			LabelStyle.Render("Listen:")+" "+ValueStyle.Render(st.Listen),
			LabelStyle.Render("Uptime:")+" "+ValueStyle.Render(st.Uptime),
		)
		if st.Controller != "" {
			lines = append(lines,
				LabelStyle.Render("Controller:")+" "+ValueStyle.Render(st.Controller),
				LabelStyle.Render("Session:")+" "+sessionState(st.SessionState),
				LabelStyle.Render("Cached:")+" "+ValueStyle.Render(fmt.Sprintf("%d series", st.CacheEntries)),
			)
		} else {
			lines = append(lines, LabelStyle.Render("Controller:")+" "+DimStyle.Render("not configured"))
		}
	}
	return d.section("Server", strings.Join(lines, "\n"))
}

func sessionState(s string) string {
	switch s {
	case "active":
		return SuccessStyle.Render(s)
	case "expired", "authenticating":
		return WarningStyle.Render(s)
	case "":
		return DimStyle.Render("unknown")
	}
	return DimStyle.Render(s)
}

func (d *Dashboard) renderJobsSection() string {
	rows := []string{fmt.Sprintf("%-20s %-10s %-10s %s", "Job", "Every", "Last run", "Errors")}
	for _, j := range d.data.Status.Jobs {
		last := "never"
		if !j.LastRun.IsZero() {
			last = j.LastRun.Local().Format("15:04:05")
		}
		errs := SuccessStyle.Render("0")
		if j.ErrorCount > 0 {
			errs = ErrorStyle.Render(fmt.Sprintf("%d", j.ErrorCount))
		}
		rows = append(rows, fmt.Sprintf("%-20s %-10s %-10s %s", j.Name, j.Interval, last, errs))
	}
	return d.section("Jobs", strings.Join(rows, "\n"))
}

func (d *Dashboard) renderStatsSection() string {
	if len(d.data.Stats) == 0 {
		return d.section("History", DimStyle.Render("No runs recorded yet"))
	}
	var rows []string
	for _, s := range d.data.Stats {
		rows = append(rows, fmt.Sprintf("%s %s %d/%d ok, %d targets",
			LabelStyle.Render(s.Tool),
			RenderBar(s.Succeeded, s.Total, 20),
			s.Succeeded, s.Total, s.Targets))
	}
	return d.section("History", strings.Join(rows, "\n"))
}

func (d *Dashboard) renderRecentSection() string {
	if len(d.data.Recent) == 0 {
		return d.section("Recent", DimStyle.Render("Nothing yet"))
	}

	rows := []string{
		fmt.Sprintf("%-9s %-10s %-20s %s", "Time", "Tool", "Target", "Summary"),
		strings.Repeat("─", 60),
	}
	for _, e := range d.data.Recent {
		target := e.Target
		if len(target) > 18 {
			target = target[:15] + "..."
		}
		summary := e.Summary
		if !e.Success {
			summary = ErrorStyle.Render(summary)
		}
		rows = append(rows, fmt.Sprintf("%-9s %-10s %-20s %s",
			e.Timestamp.Local().Format("15:04:05"), e.Tool, target, summary))
	}
	return d.section("Recent", strings.Join(rows, "\n"))
}
