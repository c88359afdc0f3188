package vmanage

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/retry"
	"github.com/user/edgegate/internal/vmanage/vmanagetest"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Factor: 1}
}

func newTestManager(t *testing.T, srv *vmanagetest.Server, opts ProfileOptions, mopts ...Option) *Manager {
	t.Helper()
	opts.Host = srv.URL
	if opts.Username == "" {
		opts.Username = "admin"
	}
	if opts.Secret == "" {
		opts.Secret = "admin"
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	p, err := NewProfile(opts)
	require.NoError(t, err)
	m := NewManager(p, append([]Option{WithRetryPolicy(fastRetry())}, mopts...)...)
	t.Cleanup(m.Close)
	return m
}

func TestNewProfile_Validation(t *testing.T) {
	_, err := NewProfile(ProfileOptions{Username: "admin"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = NewProfile(ProfileOptions{Host: "vmanage", Port: 70000, Username: "admin"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = NewProfile(ProfileOptions{Host: "vmanage"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	p, err := NewProfile(ProfileOptions{Host: "https://vmanage.example.net:8443", Username: "admin", Secret: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, 8443, p.Port())
	assert.Equal(t, "https://vmanage.example.net:8443/dataservice", p.BaseURL())
	assert.NotContains(t, p.String(), "s3cret")
	assert.NotContains(t, p.Key(), "s3cret")
}

func TestAcquire_ConcurrentCallersShareOneLogin(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.LoginDelay = 100 * time.Millisecond

	m := newTestManager(t, srv, ProfileOptions{})

	const callers = 20
	var wg sync.WaitGroup
	handles := make([]*Handle, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = m.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, handles[0].Generation(), handles[i].Generation())
	}
	assert.Equal(t, 1, srv.Logins())
	assert.Equal(t, StateActive, m.State())
}

func TestAcquire_BadCredentials(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()

	m := newTestManager(t, srv, ProfileOptions{Secret: "wrong", Retries: 3})
	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.Authentication))
	assert.False(t, apperr.IsExpired(err))
	assert.Equal(t, 1, srv.Logins(), "bad credentials are not retried")
	assert.Equal(t, StateUnauthenticated, m.State())
}

func TestAcquire_UnreachableIsAuthenticationError(t *testing.T) {
	srv := vmanagetest.New()
	url := srv.URL
	srv.Close()

	p, err := NewProfile(ProfileOptions{Host: url, Username: "admin", Secret: "admin", Retries: 2, RequestTimeout: time.Second})
	require.NoError(t, err)
	m := NewManager(p, WithRetryPolicy(fastRetry()))
	defer m.Close()

	_, err = m.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "unreachable after 2 attempts")
}

func TestAcquire_CallerDeadline(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.LoginDelay = 300 * time.Millisecond

	m := newTestManager(t, srv, ProfileOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Acquire(ctx)
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))

	// The shared login keeps going and a later caller reuses it.
	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Equal(t, 1, srv.Logins())
}

func TestRun_ReauthenticatesOnceAfterExpiry(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.Devices = []map[string]interface{}{{"system-ip": "10.0.0.1", "device-type": "vedge"}}

	m := newTestManager(t, srv, ProfileOptions{})
	c := NewClient(m)

	_, err := c.Devices(context.Background())
	require.NoError(t, err)
	first, err := m.Acquire(context.Background())
	require.NoError(t, err)

	srv.ExpireSessions()

	devices, err := c.Devices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, 2, srv.Logins())

	second, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Greater(t, second.Generation(), first.Generation())
}

func TestInvalidate_StaleHandleIgnored(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	m := newTestManager(t, srv, ProfileOptions{})

	old, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Invalidate(old)
	assert.Equal(t, StateExpired, m.State())

	fresh, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Logins())

	m.Invalidate(old)
	assert.Equal(t, StateActive, m.State())

	again, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh.Generation(), again.Generation())
	assert.Equal(t, 2, srv.Logins())
}

func TestSessionTTL_ProactiveExpiry(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()

	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := newTestManager(t, srv, ProfileOptions{SessionTTL: time.Minute}, WithClock(clock))

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, m.ExpiresWithin(10*time.Second))
	assert.True(t, m.ExpiresWithin(2*time.Minute))

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	assert.Equal(t, StateExpired, m.State())

	_, err = m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Logins())
}

func TestSwitchTenant(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.MultiTenant = true
	srv.Provider = true
	srv.Tenants = []map[string]interface{}{
		{"tenantId": "t1", "name": "Acme"},
		{"tenantId": "t2", "name": "Globex"},
	}

	m := newTestManager(t, srv, ProfileOptions{})
	var changes [][2]string
	m.OnTenantChange(func(prev, cur string) { changes = append(changes, [2]string{prev, cur}) })

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)

	h2, err := m.SwitchTenant(context.Background(), h, "t2")
	require.NoError(t, err)
	assert.Equal(t, "t2", h2.Tenant())
	assert.Equal(t, "t2", m.CurrentTenant())
	assert.Equal(t, [][2]string{{"", "t2"}}, changes)

	_, err = m.Do(context.Background(), h2, Request{Method: http.MethodGet, Path: "/device"})
	require.NoError(t, err)
	_, vsess := srv.LastTenantHeaders()
	assert.Equal(t, "vs-t2", vsess)

	_, err = m.SwitchTenant(context.Background(), h2, "nope")
	assert.True(t, errors.Is(err, apperr.Tenant))
	assert.Equal(t, "t2", m.CurrentTenant())

	tenants, err := m.Tenants(context.Background())
	require.NoError(t, err)
	assert.Len(t, tenants, 2)
}

func TestRun_ReloginRestoresSwitchedTenant(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.MultiTenant = true
	srv.Provider = true
	srv.Tenants = []map[string]interface{}{
		{"tenantId": "t1", "name": "Acme"},
		{"tenantId": "t2", "name": "Globex"},
	}
	m := newTestManager(t, srv, ProfileOptions{})

	_, err := m.SwitchTenant(context.Background(), nil, "t2")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Logins())

	srv.ExpireSessions()

	var seen string
	err = m.Run(context.Background(), func(ctx context.Context, h *Handle) error {
		seen = h.Tenant()
		_, err := m.Do(ctx, h, Request{Method: http.MethodGet, Path: "/device"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Logins())
	assert.Equal(t, "t2", seen)
	assert.Equal(t, "t2", m.CurrentTenant())

	_, vsess := srv.LastTenantHeaders()
	assert.Equal(t, "vs-t2", vsess)
}

func TestSwitchTenant_HeaderFallbackAndSingleTenant(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.MultiTenant = true
	srv.Tenants = []map[string]interface{}{{"tenantId": "t1"}}

	m := newTestManager(t, srv, ProfileOptions{})
	h, err := m.SwitchTenant(context.Background(), nil, "t1")
	require.NoError(t, err)

	_, err = m.Do(context.Background(), h, Request{Method: http.MethodGet, Path: "/device"})
	require.NoError(t, err)
	tenant, vsess := srv.LastTenantHeaders()
	assert.Equal(t, "t1", tenant)
	assert.Empty(t, vsess)

	single := vmanagetest.New()
	defer single.Close()
	m2 := newTestManager(t, single, ProfileOptions{})
	_, err = m2.SwitchTenant(context.Background(), nil, "t1")
	assert.Equal(t, apperr.KindTenant, apperr.KindOf(err))
}

func TestDo_ClassifiesUpstreamStatus(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.Stats = func(path string, body map[string]interface{}) (int, interface{}) {
		return http.StatusServiceUnavailable, map[string]string{"error": "busy"}
	}
	m := newTestManager(t, srv, ProfileOptions{})
	h, err := m.Acquire(context.Background())
	require.NoError(t, err)

	_, err = m.Do(context.Background(), h, Request{Method: http.MethodPost, Path: "/statistics/interface/aggregation", Body: map[string]string{}})
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusOf(err))
}

func TestClose_IsTerminal(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	m := newTestManager(t, srv, ProfileOptions{})
	m.Close()
	_, err := m.Acquire(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateClosed, m.State())
}

func TestRegistry_OneManagerPerProfile(t *testing.T) {
	p, err := NewProfile(ProfileOptions{Host: "vmanage", Username: "admin"})
	require.NoError(t, err)
	r := NewRegistry()
	defer r.Close()
	assert.Same(t, r.Get(p), r.Get(p))
	assert.Len(t, r.Managers(), 1)
}
