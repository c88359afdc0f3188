package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/device"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/probes"
	"github.com/user/edgegate/internal/retry"
	"github.com/user/edgegate/internal/stats"
	"github.com/user/edgegate/internal/storage"
	"github.com/user/edgegate/internal/util"
	"github.com/user/edgegate/internal/vmanage"
	"github.com/user/edgegate/internal/web"
)

// app wires the components shared by the CLI commands and the server.
type app struct {
	db       *storage.DB
	history  *storage.HistoryStore
	registry *vmanage.Registry
	sessions *vmanage.Manager
	client   *vmanage.Client
	stats    *stats.Gateway
	executor *device.Executor
	ping     *probes.PingProbe
	trace    *probes.TracerouteProbe
	scan     *probes.PortScanner
}

func newApp(cfg *util.Config) (*app, error) {
	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		db:       db,
		history:  storage.NewHistoryStore(db),
		executor: device.NewExecutor(cfg.Device, device.WithRetryPolicy(retry.FromConfig("device.connect", cfg.Retry))),
		ping:     probes.NewPingProbe(nil, cfg.Diag.PingCeiling),
		trace:    probes.NewTracerouteProbe(nil, cfg.Diag.TraceCeiling),
		scan:     probes.NewPortScanner(cfg.Diag.ScanConcurrency, nil),
	}

	if cfg.Controller.Configured() {
		profile, err := vmanage.ProfileFromConfig(cfg.Controller)
		if err != nil {
			db.Close()
			return nil, err
		}
		policy := retry.FromConfig("controller", cfg.Retry)
		a.registry = vmanage.NewRegistry(vmanage.WithRetryPolicy(policy))
		a.sessions = a.registry.Get(profile)
		a.client = vmanage.NewClient(a.sessions)
		a.stats = stats.NewGateway(a.sessions, vmanage.NewStatsAPI(a.sessions),
			stats.WithTTLs(stats.TTLsFromConfig(cfg.Cache)),
			stats.WithRetryPolicy(policy))
	}

	return a, nil
}

func (a *app) close() {
	if a.registry != nil {
		a.registry.Close()
	}
	a.db.Close()
}

func (a *app) requireController() error {
	if a.sessions == nil {
		return fmt.Errorf("no controller configured (set controller.host in the config file or EDGEGATE_CONTROLLER_HOST)")
	}
	return nil
}

// record stores a run in history. Rejected input is not stored.
func (a *app) record(d model.Diagnostic, runErr error) {
	if apperr.KindOf(runErr) == apperr.KindValidation {
		return
	}
	if _, err := a.history.Record(d, runErr); err != nil {
		util.Warn("Failed to record %s history: %v", d.Tool(), err)
	}
}

func (a *app) webDeps(status func() *model.DaemonStatus, trigger func(string) bool) web.Deps {
	deps := web.Deps{
		Sessions:   a.sessions,
		Controller: a.client,
		Commands:   a.executor,
		Ping:       a.ping,
		Trace:      a.trace,
		Scan:       a.scan,
		History:    a.history,
		Status:     status,
		TriggerJob: trigger,
		Version:    version,
	}
	if a.stats != nil {
		deps.Stats = a.stats
	}
	return deps
}

// signalContext is cancelled on Ctrl+C so long-running probes stop cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
