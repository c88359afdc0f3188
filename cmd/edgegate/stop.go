package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running edgegate server",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.PIDPath())
	if !running {
		fmt.Println("edgegate is not running")
		return nil
	}

	fmt.Printf("Stopping edgegate (PID %d)...\n", pid)

	if err := daemon.SendStop(cfg.PIDPath()); err != nil {
		return fmt.Errorf("failed to stop edgegate: %w", err)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(time.Second)
		if running, _ := daemon.CheckRunning(cfg.PIDPath()); !running {
			fmt.Println("edgegate stopped")
			return nil
		}
	}

	fmt.Println("Warning: edgegate may not have stopped completely")
	return nil
}
