package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/storage"
)

var (
	historyTool   string
	historyTarget string
	historyLimit  int
	historyPrune  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored diagnostic and command history",
	Long: `Show stored runs of ping, traceroute, portscan and device commands,
newest first.

Examples:
  edgegate history --tool ping --target 8.8.8.8
  edgegate history --prune 30`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyTool, "tool", "", "only this tool (ping, traceroute, portscan, command)")
	historyCmd.Flags().StringVar(&historyTarget, "target", "", "only this target")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum entries to show")
	historyCmd.Flags().IntVar(&historyPrune, "prune", 0, "delete entries older than this many days and exit")
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	store := storage.NewHistoryStore(db)

	if historyPrune > 0 {
		n, err := store.Prune(time.Now().AddDate(0, 0, -historyPrune))
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d entries\n", n)
		return nil
	}

	entries, err := store.List(historyTool, historyTarget, historyLimit)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(entries)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("History (%d)", len(entries))))
	for _, e := range entries {
		state := goodStyle.Render("ok  ")
		if !e.Success {
			state = badStyle.Render("fail")
		}
		fmt.Printf("  %5d  %s  %-10s %-20s %s %s\n",
			e.ID,
			labelStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
			e.Tool,
			e.Target,
			state,
			valueStyle.Render(e.Summary))
	}
	return nil
}
