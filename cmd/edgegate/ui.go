package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/storage"
	"github.com/user/edgegate/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long: `Launch an interactive terminal dashboard showing:
- Server and controller session state
- Background jobs
- History totals and the most recent runs

The view refreshes every few seconds. Press 'r' to refresh, 'q' to quit.`,
	RunE: runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return tui.NewApp(storage.NewHistoryStore(db), cfg).Run()
}
