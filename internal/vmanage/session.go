package vmanage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/metrics"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/retry"
	"github.com/user/edgegate/internal/util"
)

// State is the session lifecycle state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateActive
	StateExpired
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type session struct {
	cookies     []*http.Cookie
	csrfToken   string
	sessionID   string
	tenant      string
	vsessionID  string
	multiTenant bool
	provider    bool
	version     string
	issuedAt    time.Time
	expiresAt   time.Time
	generation  uint64
}

func (s *session) clone() *session {
	ns := *s
	ns.cookies = make([]*http.Cookie, len(s.cookies))
	copy(ns.cookies, s.cookies)
	return &ns
}

// TenantListener is called after the tenant context changes.
type TenantListener func(previous, current string)

// SessionInfo is a read-only view of the session for status reporting.
type SessionInfo struct {
	Controller  string    `json:"controller"`
	State       string    `json:"state"`
	Tenant      string    `json:"tenant,omitempty"`
	MultiTenant bool      `json:"multi_tenant"`
	Version     string    `json:"version,omitempty"`
	IssuedAt    time.Time `json:"issued_at,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Generation  uint64    `json:"generation"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithTransport sets the HTTP transport used for controller requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(m *Manager) { m.client = &http.Client{Transport: rt} }
}

// WithRetryPolicy sets the backoff used for login attempts. The attempt
// count always comes from the profile.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithClock overrides time.Now, for session expiry tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the authenticated session for one controller profile.
type Manager struct {
	profile Profile
	client  *http.Client
	policy  retry.Policy
	now     func() time.Time

	mu        sync.RWMutex
	state     State
	sess      *session
	gen       uint64
	tenant    string
	listeners []TenantListener

	flight singleflight.Group
}

// NewManager creates a Manager in the Unauthenticated state.
func NewManager(p Profile, opts ...Option) *Manager {
	m := &Manager{
		profile: p,
		policy:  retry.DefaultPolicy("session.login"),
		now:     time.Now,
		tenant:  p.Tenant(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = &http.Client{Transport: defaultTransport(p)}
	}
	m.policy.Name = "session.login"
	m.policy = m.policy.WithAttempts(p.Retries())
	return m
}

func defaultTransport(p Profile) http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: !p.VerifyTLS()} //nolint:gosec // lab controllers use self-signed certificates
	return t
}

// Profile returns the connection profile.
func (m *Manager) Profile() Profile { return m.profile }

// State reports the lifecycle state. An active session past its expiry
// estimate reports Expired.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateActive && m.expiredLocked() {
		return StateExpired
	}
	return m.state
}

// Info returns a snapshot for status reporting.
func (m *Manager) Info() SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := SessionInfo{Controller: m.profile.String(), State: m.state.String(), Tenant: m.tenant}
	if m.state == StateActive && m.expiredLocked() {
		info.State = StateExpired.String()
	}
	if m.sess != nil {
		info.MultiTenant = m.sess.multiTenant
		info.Version = m.sess.version
		info.IssuedAt = m.sess.issuedAt
		info.ExpiresAt = m.sess.expiresAt
		info.Generation = m.sess.generation
	}
	return info
}

// CurrentTenant is the tenant context sessions are scoped to.
func (m *Manager) CurrentTenant() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenant
}

// OnTenantChange registers l to be called after every tenant switch.
func (m *Manager) OnTenantChange(l TenantListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Acquire returns a handle valid for immediate use, logging in first when no
// live session exists. Concurrent callers share a single login.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	h, err := m.current()
	if err != nil || h != nil {
		return h, err
	}
	return m.login(ctx)
}

func (m *Manager) current() (*Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateClosed {
		return nil, errClosed("session.acquire")
	}
	if m.liveLocked() {
		return newHandle(m.sess), nil
	}
	return nil, nil
}

func (m *Manager) liveLocked() bool {
	return m.state == StateActive && m.sess != nil && !m.expiredLocked()
}

func (m *Manager) expiredLocked() bool {
	return m.sess != nil && !m.sess.expiresAt.IsZero() && !m.now().Before(m.sess.expiresAt)
}

func (m *Manager) login(ctx context.Context) (*Handle, error) {
	const op = "session.acquire"

	ch := m.flight.DoChan(m.profile.Key(), func() (interface{}, error) {
		m.mu.Lock()
		if m.state == StateClosed {
			m.mu.Unlock()
			return nil, errClosed(op)
		}
		if m.liveLocked() {
			h := newHandle(m.sess)
			m.mu.Unlock()
			return h, nil
		}
		m.state = StateAuthenticating
		tenant := m.tenant
		m.mu.Unlock()

		// The login is shared, so it must not die with the first caller.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.loginBudget())
		defer cancel()
		s, err := m.authenticate(lctx, tenant)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == StateClosed {
			return nil, errClosed(op)
		}
		if err != nil {
			if m.sess != nil {
				m.state = StateExpired
			} else {
				m.state = StateUnauthenticated
			}
			return nil, err
		}
		m.gen++
		s.generation = m.gen
		m.sess = s
		m.state = StateActive
		return newHandle(s), nil
	})

	select {
	case <-ctx.Done():
		return nil, apperr.FromContext(op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

func (m *Manager) loginBudget() time.Duration {
	attempts := time.Duration(m.policy.MaxAttempts)
	return m.profile.RequestTimeout()*4*attempts + m.policy.MaxBackoff*attempts
}

func (m *Manager) authenticate(ctx context.Context, tenant string) (*session, error) {
	var s *session
	err := retry.Do(ctx, m.policy, func(ctx context.Context, attempt int) error {
		util.WithFields(util.Fields{
			"controller": m.profile.String(),
			"attempt":    attempt,
		}).Info("controller login")
		var err error
		s, err = m.attemptLogin(ctx)
		return err
	})
	if err != nil {
		kind := apperr.KindOf(err)
		metrics.Logins.WithLabelValues(metrics.Result(err, string(kind))).Inc()
		util.WithFields(util.Fields{
			"controller": m.profile.String(),
			"kind":       kind,
			"error":      err.Error(),
		}).Warn("controller login failed")

		switch kind {
		case apperr.KindAuthentication, apperr.KindTimeout:
			return nil, err
		}
		return nil, &apperr.Error{
			Kind:    apperr.KindAuthentication,
			Op:      "session.login",
			Message: fmt.Sprintf("controller unreachable after %d attempts: %v", m.policy.MaxAttempts, err),
			Err:     err,
		}
	}
	metrics.Logins.WithLabelValues("ok").Inc()

	if tenant != "" {
		if err := m.scope(ctx, s, tenant); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (m *Manager) attemptLogin(ctx context.Context) (*session, error) {
	const op = "session.login"
	base := m.profile.BaseURL()

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Transport: m.client.Transport, Jar: jar}

	form := url.Values{
		"j_username": {m.profile.username},
		"j_password": {m.profile.secret},
	}
	status, body, err := m.send(ctx, client, op, http.MethodPost, base+"/j_security_check",
		strings.NewReader(form.Encode()), func(req *http.Request) {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		})
	if err != nil {
		return nil, err
	}
	if err := loginStatus(op, status); err != nil {
		return nil, err
	}
	if looksLikeLoginPage(body) {
		return nil, apperr.New(apperr.KindAuthentication, op, "invalid credentials")
	}

	status, body, err = m.send(ctx, client, op, http.MethodGet, base+"/client/server", nil, func(req *http.Request) {
		req.Header.Set("Accept", "application/json")
	})
	if err != nil {
		return nil, err
	}
	if err := loginStatus(op, status); err != nil {
		return nil, err
	}
	var facts struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(body, &facts); err != nil || facts.Data == nil {
		return nil, apperr.New(apperr.KindAuthentication, op, "could not retrieve controller server information")
	}

	u, _ := url.Parse(base)
	now := m.now()
	s := &session{
		cookies:     jar.Cookies(u),
		csrfToken:   stringField(facts.Data, "CSRFToken"),
		sessionID:   stringField(facts.Data, "sessionId", "sessionID", "sessionid"),
		multiTenant: stringField(facts.Data, "tenancyMode") == "MultiTenant",
		provider:    stringField(facts.Data, "userMode") == "provider",
		version:     stringField(facts.Data, "platformVersion"),
		issuedAt:    now,
	}
	if ttl := m.profile.SessionTTL(); ttl > 0 {
		s.expiresAt = now.Add(ttl)
	}
	util.WithFields(util.Fields{
		"controller": m.profile.String(),
		"version":    s.version,
		"multi":      s.multiTenant,
	}).Info("controller login succeeded")
	return s, nil
}

func loginStatus(op string, status int) error {
	switch {
	case status >= 500:
		return apperr.UpstreamStatus(op, status, "controller unavailable")
	case status >= 400:
		return &apperr.Error{Kind: apperr.KindAuthentication, Op: op, Status: status, Message: "login rejected"}
	}
	return nil
}

// SwitchTenant re-scopes the session to tenantID and returns a handle for the
// new context. Listeners are notified so tenant-scoped caches can be dropped.
func (m *Manager) SwitchTenant(ctx context.Context, h *Handle, tenantID string) (*Handle, error) {
	const op = "session.switch_tenant"

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, apperr.Validationf(op, "tenant id is required")
	}
	if h == nil || !m.isCurrent(h) {
		var err error
		if h, err = m.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	if m.sess == nil || m.sess.generation != h.generation {
		m.mu.RUnlock()
		return nil, apperr.SessionExpired(op, 0)
	}
	ns := m.sess.clone()
	prev := m.tenant
	m.mu.RUnlock()

	if err := m.scope(ctx, ns, tenantID); err != nil {
		if apperr.IsExpired(err) {
			m.Invalidate(h)
		}
		return nil, err
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil, errClosed(op)
	}
	if m.sess == nil || m.sess.generation != ns.generation {
		m.mu.Unlock()
		return nil, apperr.SessionExpired(op, 0)
	}
	m.gen++
	ns.generation = m.gen
	m.sess = ns
	m.tenant = tenantID
	listeners := make([]TenantListener, len(m.listeners))
	copy(listeners, m.listeners)
	nh := newHandle(ns)
	m.mu.Unlock()

	util.WithFields(util.Fields{
		"controller": m.profile.String(),
		"from":       prev,
		"to":         tenantID,
		"vsession":   ns.vsessionID != "",
	}).Info("tenant switched")

	if prev != tenantID {
		for _, l := range listeners {
			l(prev, tenantID)
		}
	}
	return nh, nil
}

// scope applies the tenant context to s. Provider-mode controllers issue a
// VSessionId; others fall back to the X-Tenant-Id header.
func (m *Manager) scope(ctx context.Context, s *session, tenantID string) error {
	const op = "session.switch_tenant"

	if !s.multiTenant {
		return apperr.New(apperr.KindTenant, op, "controller is not multi-tenant")
	}
	provider := newHandle(s).unscoped()

	tenants, err := m.listTenants(ctx, provider)
	if err != nil {
		return err
	}
	known := false
	for _, t := range tenants {
		if t.ID == tenantID {
			known = true
			break
		}
	}
	if !known {
		return apperr.New(apperr.KindTenant, op, "unknown tenant %q", tenantID)
	}

	if s.provider {
		resp, err := m.Do(ctx, provider, Request{
			Method: http.MethodPost,
			Path:   "/tenant/" + url.PathEscape(tenantID) + "/vsessionid",
			Body:   map[string]interface{}{},
		})
		if err == nil {
			var out struct {
				VSessionID string `json:"VSessionId"`
			}
			if resp.Decode(&out) == nil && out.VSessionID != "" {
				s.tenant = tenantID
				s.vsessionID = out.VSessionID
				return nil
			}
		} else if apperr.IsExpired(err) {
			return err
		}
		util.Debug("vsessionid unavailable for tenant %s, using tenant header", tenantID)
	}

	s.tenant = tenantID
	s.vsessionID = ""
	return nil
}

// Tenants lists the tenants visible to the provider account.
func (m *Manager) Tenants(ctx context.Context) ([]model.Tenant, error) {
	var out []model.Tenant
	err := m.Run(ctx, func(ctx context.Context, h *Handle) error {
		var err error
		out, err = m.listTenants(ctx, h.unscoped())
		return err
	})
	return out, err
}

func (m *Manager) listTenants(ctx context.Context, h *Handle) ([]model.Tenant, error) {
	resp, err := m.Do(ctx, h, Request{Method: http.MethodGet, Path: "/tenant"})
	if err != nil {
		return nil, err
	}
	rows, err := resp.Rows()
	if err != nil {
		return nil, err
	}
	tenants := make([]model.Tenant, 0, len(rows))
	for _, r := range rows {
		t := model.Tenant{
			ID:        stringField(r, "tenantId", "tenant-id", "id"),
			Name:      stringField(r, "name"),
			OrgName:   stringField(r, "orgName"),
			SubDomain: stringField(r, "subDomain"),
		}
		if t.ID != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants, nil
}

// Invalidate marks the session h was issued from as expired. Handles from an
// older generation are ignored so they cannot kill a newer session.
func (m *Manager) Invalidate(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive || m.sess == nil || m.sess.generation != h.generation {
		return
	}
	m.state = StateExpired
	metrics.SessionInvalidations.Inc()
	util.WithFields(util.Fields{
		"controller": m.profile.String(),
		"generation": h.generation,
	}).Info("session invalidated")
}

func (m *Manager) isCurrent(h *Handle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liveLocked() && m.sess.generation == h.generation
}

// ExpiresWithin reports whether the live session's expiry estimate falls
// within d.
func (m *Manager) ExpiresWithin(d time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateActive || m.sess == nil || m.sess.expiresAt.IsZero() {
		return false
	}
	return !m.now().Add(d).Before(m.sess.expiresAt)
}

// Refresh forces a fresh login for the current session.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateActive {
		m.state = StateExpired
	}
	m.mu.Unlock()
	_, err := m.Acquire(ctx)
	return err
}

// Run calls fn with a live handle. When the controller rejects the session,
// it is invalidated and fn runs once more on a fresh login.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context, h *Handle) error) error {
	h, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, h)
	if !apperr.IsExpired(err) {
		return err
	}

	util.WithFields(util.Fields{
		"controller": m.profile.String(),
		"handle":     h.ID(),
	}).Info("controller rejected session, re-authenticating")
	m.Invalidate(h)

	if h, err = m.Acquire(ctx); err != nil {
		return err
	}
	err = fn(ctx, h)
	if apperr.IsExpired(err) {
		m.Invalidate(h)
	}
	return err
}

// Close moves the manager to its terminal state.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateClosed
	m.sess = nil
	m.listeners = nil
}

func errClosed(op string) error {
	return apperr.New(apperr.KindAuthentication, op, "session manager closed")
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t
				}
			case float64:
				return fmt.Sprintf("%v", t)
			case bool:
				return fmt.Sprintf("%t", t)
			}
		}
	}
	return ""
}
