package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/daemon"
	"github.com/user/edgegate/internal/util"
	"github.com/user/edgegate/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway API and background jobs",
	Long: `Run edgegate in the foreground: the JSON API, the Prometheus
endpoint, cache sweeping, session keepalive and history pruning.

Stop it with Ctrl+C or "edgegate stop".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "listen address (overrides web.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if running, pid := daemon.CheckRunning(cfg.PIDPath()); running {
		fmt.Printf("edgegate is already running (PID %d)\n", pid)
		return nil
	}
	if serveListen != "" {
		cfg.Web.Listen = serveListen
	}

	gin.SetMode(gin.ReleaseMode)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if a.sessions == nil {
		util.Warn("No controller configured; controller endpoints will answer 503")
	}

	d := daemon.New(cfg, daemon.Services{
		Sessions: a.sessions,
		Stats:    a.stats,
		History:  a.history,
	})
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	srv := web.NewServer(cfg, a.webDeps(d.GetStatus, d.TriggerJob))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(d.Context())
	}()

	fmt.Printf("edgegate listening on http://%s\n", cfg.Web.Listen)
	fmt.Println("Press Ctrl+C to stop")

	var serveErr error
	select {
	case <-d.Context().Done():
		d.Stop()
		serveErr = <-errCh
	case serveErr = <-errCh:
		d.Stop()
	}
	if serveErr != nil {
		return fmt.Errorf("web server: %w", serveErr)
	}
	fmt.Println("edgegate stopped")
	return nil
}
