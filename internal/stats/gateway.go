// Package stats fetches, normalizes and caches controller statistics series.
package stats

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/metrics"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/retry"
	"github.com/user/edgegate/internal/util"
	"github.com/user/edgegate/internal/vmanage"
)

// Source runs one statistics query with an authenticated handle.
type Source interface {
	Query(ctx context.Context, h *vmanage.Handle, q model.StatQuery) ([]map[string]interface{}, error)
}

// TTLs maps each interval bucket to its cache lifetime.
type TTLs map[model.Interval]time.Duration

// DefaultTTLs keeps 5-minute series shortest and daily series longest.
func DefaultTTLs() TTLs {
	return TTLs{
		model.Interval5Min: time.Minute,
		model.Interval1Hr:  5 * time.Minute,
		model.Interval1Day: 30 * time.Minute,
	}
}

// TTLsFromConfig builds TTLs from the cache config section, falling back to
// defaults for unset values.
func TTLsFromConfig(c util.CacheConfig) TTLs {
	t := DefaultTTLs()
	if c.TTL5Min > 0 {
		t[model.Interval5Min] = c.TTL5Min
	}
	if c.TTL1Hr > 0 {
		t[model.Interval1Hr] = c.TTL1Hr
	}
	if c.TTL1Day > 0 {
		t[model.Interval1Day] = c.TTL1Day
	}
	return t
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTTLs overrides the per-interval cache TTLs.
func WithTTLs(t TTLs) Option {
	return func(g *Gateway) {
		for k, v := range t {
			g.ttls[k] = v
		}
	}
}

// WithRetryPolicy sets the policy for transient upstream failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithClock overrides time.Now for the cache.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithFetchTimeout bounds one coalesced upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.fetchTimeout = d }
}

// Gateway serves statistics queries through the session manager with
// per-key request coalescing and an interval-scoped cache.
type Gateway struct {
	m      *vmanage.Manager
	src    Source
	cache  *Cache
	ttls   TTLs
	policy retry.Policy
	now    func() time.Time

	fetchTimeout time.Duration
	flight       singleflight.Group
}

// NewGateway creates a gateway and subscribes it to tenant switches.
func NewGateway(m *vmanage.Manager, src Source, opts ...Option) *Gateway {
	g := &Gateway{
		m:            m,
		src:          src,
		ttls:         DefaultTTLs(),
		policy:       retry.DefaultPolicy("stats.fetch"),
		now:          time.Now,
		fetchTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.policy.Name = "stats.fetch"
	g.cache = NewCache(g.now)
	g.cache.SetTenant(m.CurrentTenant())

	m.OnTenantChange(func(prev, cur string) {
		n := g.cache.SetTenant(cur)
		util.WithFields(util.Fields{"from": prev, "to": cur, "dropped": n}).Info("statistics cache dropped for previous tenant")
	})
	return g
}

// Fetch returns the series for q, from cache when an unexpired entry exists.
// Concurrent callers with the same key share one upstream fetch.
func (g *Gateway) Fetch(ctx context.Context, q model.StatQuery) (*model.StatSeries, error) {
	const op = "stats.fetch"

	if err := q.Validate(); err != nil {
		return nil, err
	}
	tenant := g.m.CurrentTenant()
	key := q.Key()

	if s, ok := g.cache.Get(tenant, key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		util.WithFields(util.Fields{"key": key, "tenant": tenant}).Debug("statistics cache hit")
		return s, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	util.WithFields(util.Fields{"key": key, "tenant": tenant}).Debug("statistics cache miss")

	ch := g.flight.DoChan(tenant+"#"+key, func() (interface{}, error) {
		if s, ok := g.cache.Get(tenant, key); ok {
			return s, nil
		}
		// Shared by every coalesced caller, so detached from the first one.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.fetchTimeout)
		defer cancel()

		s, scope, err := g.fetch(fctx, q)
		if err != nil {
			return nil, err
		}
		if scope != tenant || !g.cache.Put(tenant, key, s, g.ttl(q.Interval)) {
			util.WithFields(util.Fields{"key": key, "tenant": tenant, "scope": scope}).Debug("statistics series not cached")
		}
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, apperr.FromContext(op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.StatSeries).Clone(), nil
	}
}

// fetch queries upstream and also returns the tenant the answering session
// was scoped to.
func (g *Gateway) fetch(ctx context.Context, q model.StatQuery) (*model.StatSeries, string, error) {
	const op = "stats.fetch"
	start := time.Now()

	var (
		rows  []map[string]interface{}
		scope string
	)
	err := retry.Do(ctx, g.policy, func(ctx context.Context, attempt int) error {
		return g.m.Run(ctx, func(ctx context.Context, h *vmanage.Handle) error {
			var err error
			scope = h.Tenant()
			rows, err = g.src.Query(ctx, h, q)
			return err
		})
	})
	metrics.FetchLatency.WithLabelValues(string(q.Metric)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamFetches.WithLabelValues(string(q.Metric), "error").Inc()
		util.WithFields(util.Fields{
			"device": q.DeviceID,
			"metric": q.Metric,
			"kind":   apperr.KindOf(err),
			"error":  err.Error(),
		}).Warn("statistics fetch failed")
		return nil, "", upstreamError(op, err)
	}
	metrics.UpstreamFetches.WithLabelValues(string(q.Metric), "ok").Inc()

	s, err := Normalize(q, rows)
	if err != nil {
		util.WithFields(util.Fields{"device": q.DeviceID, "error": err.Error()}).Warn("statistics parse failed")
		return nil, "", err
	}
	s.FetchedAt = g.now()
	return s, scope, nil
}

// upstreamError folds a rejected session or unreachable controller into an
// upstream error; validation, timeout and parse kinds pass through.
func upstreamError(op string, err error) error {
	switch {
	case apperr.IsExpired(err):
		return &apperr.Error{
			Kind:    apperr.KindUpstream,
			Op:      op,
			Status:  401,
			Message: "controller rejected the session after re-authentication",
			Err:     err,
		}
	case apperr.KindOf(err) == apperr.KindConnection:
		return &apperr.Error{
			Kind:    apperr.KindUpstream,
			Op:      op,
			Message: "controller unreachable: " + err.Error(),
			Err:     err,
		}
	}
	return err
}

func (g *Gateway) ttl(iv model.Interval) time.Duration {
	if d, ok := g.ttls[iv]; ok {
		return d
	}
	return time.Minute
}

// Sweep evicts expired cache entries.
func (g *Gateway) Sweep() int {
	return g.cache.Sweep()
}

// CacheLen returns the number of cached series.
func (g *Gateway) CacheLen() int {
	return g.cache.Len()
}
