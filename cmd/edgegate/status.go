package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/daemon"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  "Show whether the server is running, its session state, background jobs and stored history.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.PIDPath())
	sf, sfErr := daemon.ReadStatusFile(cfg.StatusPath())

	var stats []model.HistoryStats
	if db, err := storage.Open(cfg.DBPath()); err == nil {
		stats, _ = storage.NewHistoryStore(db).Stats()
		db.Close()
	}

	if jsonOut {
		out := map[string]interface{}{"running": running, "pid": pid, "history": stats}
		if sfErr == nil && running {
			out["status"] = sf
		}
		return printJSON(out)
	}

	fmt.Println(titleStyle.Render("edgegate Status"))

	fmt.Print(labelStyle.Render("Server: "))
	printState(running, fmt.Sprintf("Running (PID %d)", pid), "Stopped")

	if sfErr == nil && running {
		printField("Started", sf.StartTime.Format("2006-01-02 15:04:05"))
		printField("Uptime", sf.Uptime)
		printField("Listen", sf.Listen)
		if sf.Controller != "" {
			printField("Controller", sf.Controller)
			printField("Session", sf.SessionState)
			printField("Cached series", sf.CacheEntries)
		}

		if len(sf.Jobs) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Jobs"))
			for _, job := range sf.Jobs {
				state := "idle"
				if job.Running {
					state = "running"
				}
				line := fmt.Sprintf("  %s: %s (every %s, last: %s, errors: %d)",
					labelStyle.Render(job.Name),
					valueStyle.Render(state),
					job.Interval,
					lastRun(job.LastRun),
					job.ErrorCount)
				if job.LastError != "" {
					line += " " + badStyle.Render(job.LastError)
				}
				fmt.Println(line)
			}
		}
	}

	if len(stats) > 0 {
		fmt.Println()
		fmt.Println(titleStyle.Render("History"))
		for _, s := range stats {
			printField(s.Tool, fmt.Sprintf("%d runs, %d ok, %d targets", s.Total, s.Succeeded, s.Targets))
		}
	}

	return nil
}

func lastRun(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("15:04:05")
}
