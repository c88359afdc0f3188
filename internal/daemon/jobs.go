package daemon

import (
	"context"
	"time"

	"github.com/user/edgegate/internal/util"
	"github.com/user/edgegate/internal/vmanage"
)

// registerJobs registers the maintenance jobs for the configured services.
func (d *Daemon) registerJobs() {
	if d.services.Stats != nil {
		d.scheduler.AddJob(&Job{
			Name:     "cache_sweep",
			Interval: d.config.Cache.SweepInterval,
			Run:      d.runCacheSweep,
		})
	}

	if d.services.Sessions != nil {
		d.scheduler.AddJob(&Job{
			Name:     "session_keepalive",
			Interval: d.config.Daemon.KeepaliveInterval,
			Run:      d.runKeepalive,
		})
	}

	if d.services.History != nil {
		d.scheduler.AddJob(&Job{
			Name:     "history_prune",
			Interval: d.config.Daemon.PruneInterval,
			Run:      d.runHistoryPrune,
		})
	}

	d.scheduler.AddJob(&Job{
		Name:     "status_write",
		Interval: d.config.Daemon.StatusInterval,
		Run: func(ctx context.Context) error {
			return d.writeStatus()
		},
	})
}

func (d *Daemon) runCacheSweep(ctx context.Context) error {
	if n := d.services.Stats.Sweep(); n > 0 {
		util.WithFields(util.Fields{"evicted": n, "remaining": d.services.Stats.CacheLen()}).Debug("statistics cache swept")
	}
	return nil
}

// runKeepalive re-authenticates ahead of the session expiry estimate. Idle
// managers are left alone; the next request logs in on demand.
func (d *Daemon) runKeepalive(ctx context.Context) error {
	m := d.services.Sessions
	switch m.State() {
	case vmanage.StateExpired:
	case vmanage.StateActive:
		if !m.ExpiresWithin(d.config.Daemon.KeepaliveWindow) {
			return nil
		}
	default:
		return nil
	}

	util.WithFields(util.Fields{"controller": m.Profile().String()}).Info("session near expiry, refreshing")
	return m.Refresh(ctx)
}

func (d *Daemon) runHistoryPrune(ctx context.Context) error {
	retention := d.config.Daemon.HistoryRetention
	if retention <= 0 {
		return nil
	}
	n, err := d.services.History.Prune(time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if n > 0 {
		util.Info("Pruned %d history entries older than %s", n, retention)
	}
	return nil
}
