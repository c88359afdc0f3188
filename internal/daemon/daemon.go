// Package daemon runs the long-lived gateway process: background jobs, PID
// and status files, and signal handling.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/stats"
	"github.com/user/edgegate/internal/storage"
	"github.com/user/edgegate/internal/util"
	"github.com/user/edgegate/internal/vmanage"
)

const stopTimeout = 30 * time.Second

// Services are the components the daemon's jobs maintain. Any may be nil:
// Sessions and Stats are absent when no controller is configured.
type Services struct {
	Sessions *vmanage.Manager
	Stats    *stats.Gateway
	History  *storage.HistoryStore
}

// Daemon manages the background service.
type Daemon struct {
	config    *util.Config
	services  Services
	scheduler *Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	startTime time.Time
	cleanup   sync.Once
	mu        sync.RWMutex
}

// New creates a new daemon instance.
func New(cfg *util.Config, svc Services) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:   cfg,
		services: svc,
		ctx:      ctx,
		cancel:   cancel,
	}
	d.scheduler = NewScheduler(ctx)
	return d
}

// Start writes the PID file, registers jobs and starts the scheduler.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	util.Info("Daemon starting...")

	d.registerJobs()
	if err := d.writeStatus(); err != nil {
		util.Warn("Failed to write status file: %v", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.scheduler.Run()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handleSignals()
	}()

	util.Info("Daemon started with PID %d", os.Getpid())

	return nil
}

// Wait blocks until the daemon context is cancelled by Stop or a signal.
func (d *Daemon) Wait() {
	<-d.ctx.Done()
}

// Stop stops the daemon gracefully and removes its PID and status files.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	wasRunning := d.running
	d.running = false
	d.mu.Unlock()

	d.cancel()
	if !wasRunning {
		return nil
	}

	util.Info("Daemon stopping...")

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		util.Info("Daemon stopped gracefully")
	case <-time.After(stopTimeout):
		util.Warn("Daemon stop timed out")
	}

	d.cleanup.Do(func() {
		os.Remove(d.config.PIDPath())
		os.Remove(d.config.StatusPath())
		if d.services.Sessions != nil {
			d.services.Sessions.Close()
		}
	})

	return nil
}

func (d *Daemon) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		util.Info("Received signal: %v", sig)
		d.cancel()
	case <-d.ctx.Done():
	}
}

func (d *Daemon) writePIDFile() error {
	if err := util.EnsureDir(d.config.DataDir); err != nil {
		return err
	}
	pid := os.Getpid()
	return os.WriteFile(d.config.PIDPath(), []byte(strconv.Itoa(pid)), 0644)
}

func (d *Daemon) writeStatus() error {
	return WriteStatusFile(d.config.StatusPath(), d.GetStatus())
}

// IsRunning returns whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// GetStatus returns the daemon status.
func (d *Daemon) GetStatus() *model.DaemonStatus {
	d.mu.RLock()
	status := &model.DaemonStatus{
		Running:   d.running,
		PID:       os.Getpid(),
		StartTime: d.startTime,
		Uptime:    time.Since(d.startTime).Round(time.Second).String(),
		Listen:    d.config.Web.Listen,
	}
	d.mu.RUnlock()

	if s := d.services.Sessions; s != nil {
		status.Controller = s.Profile().String()
		status.SessionState = s.State().String()
	}
	if g := d.services.Stats; g != nil {
		status.CacheEntries = g.CacheLen()
	}
	status.Jobs = d.scheduler.GetJobStatuses()
	return status
}

// TriggerJob runs the named job on the next scheduler tick.
func (d *Daemon) TriggerJob(name string) bool {
	return d.scheduler.TriggerJob(name)
}

// Context returns the daemon context. It is cancelled on stop.
func (d *Daemon) Context() context.Context {
	return d.ctx
}
