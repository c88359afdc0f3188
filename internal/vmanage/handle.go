package vmanage

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Handle is an opaque reference to one authenticated session generation.
// It carries an immutable snapshot of the session credentials and can only
// attach them to outgoing requests.
type Handle struct {
	id         string
	generation uint64
	tenant     string
	issuedAt   time.Time

	cookies   []*http.Cookie
	csrfToken string
	sessionID string
	vsession  string
}

func newHandle(s *session) *Handle {
	h := &Handle{
		id:         uuid.NewString(),
		generation: s.generation,
		tenant:     s.tenant,
		issuedAt:   s.issuedAt,
		csrfToken:  s.csrfToken,
		sessionID:  s.sessionID,
		vsession:   s.vsessionID,
	}
	h.cookies = make([]*http.Cookie, len(s.cookies))
	copy(h.cookies, s.cookies)
	return h
}

// Attach adds the session cookies and headers to req.
func (h *Handle) Attach(req *http.Request) {
	for _, c := range h.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	if h.csrfToken != "" {
		req.Header.Set("X-XSRF-TOKEN", h.csrfToken)
	}
	if h.sessionID != "" {
		req.Header.Set("session-id", h.sessionID)
	}
	switch {
	case h.vsession != "":
		req.Header.Set("VSessionId", h.vsession)
	case h.tenant != "":
		req.Header.Set("X-Tenant-Id", h.tenant)
	}
}

// ID is unique per handle and useful in logs.
func (h *Handle) ID() string { return h.id }

// Tenant is the tenant context the handle is scoped to, or "".
func (h *Handle) Tenant() string { return h.tenant }

// Generation identifies the session the handle was issued from.
func (h *Handle) Generation() uint64 { return h.generation }

// IssuedAt is when the underlying session was established.
func (h *Handle) IssuedAt() time.Time { return h.issuedAt }

// unscoped returns a copy of h without tenant context, for provider-level
// calls such as listing tenants.
func (h *Handle) unscoped() *Handle {
	c := *h
	c.tenant = ""
	c.vsession = ""
	return &c
}
