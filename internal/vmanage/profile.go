// Package vmanage maintains authenticated sessions against an SD-WAN
// controller and exposes the controller endpoints the gateway consumes.
package vmanage

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/util"
)

const apiPrefix = "/dataservice"

// ProfileOptions are the raw inputs to NewProfile.
type ProfileOptions struct {
	// Host may be a bare hostname or a URL with scheme and port.
	Host           string
	Port           int
	Username       string
	Secret         string
	Tenant         string
	VerifyTLS      bool
	RequestTimeout time.Duration
	Retries        int
	SessionTTL     time.Duration
}

// Profile holds controller connection parameters. It is immutable once built.
type Profile struct {
	scheme         string
	host           string
	port           int
	username       string
	secret         string
	tenant         string
	verifyTLS      bool
	requestTimeout time.Duration
	retries        int
	sessionTTL     time.Duration
}

// NewProfile validates o and returns a Profile.
func NewProfile(o ProfileOptions) (Profile, error) {
	const op = "profile"

	host := strings.TrimSpace(o.Host)
	if host == "" {
		return Profile{}, apperr.Validationf(op, "controller host is required")
	}
	scheme := "https"
	port := o.Port

	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil || u.Hostname() == "" {
			return Profile{}, apperr.Validationf(op, "invalid controller url %q", o.Host)
		}
		scheme = u.Scheme
		host = u.Hostname()
		if p := u.Port(); p != "" && port == 0 {
			port, _ = strconv.Atoi(p)
		}
	} else if h, p, err := net.SplitHostPort(host); err == nil {
		host = h
		if port == 0 {
			port, _ = strconv.Atoi(p)
		}
	}
	if scheme != "http" && scheme != "https" {
		return Profile{}, apperr.Validationf(op, "unsupported scheme %q", scheme)
	}
	if port == 0 {
		port = 443
	}
	if port < 1 || port > 65535 {
		return Profile{}, apperr.Validationf(op, "port %d out of range [1,65535]", port)
	}
	if strings.TrimSpace(o.Username) == "" {
		return Profile{}, apperr.Validationf(op, "username is required")
	}

	p := Profile{
		scheme:         scheme,
		host:           host,
		port:           port,
		username:       o.Username,
		secret:         o.Secret,
		tenant:         strings.TrimSpace(o.Tenant),
		verifyTLS:      o.VerifyTLS,
		requestTimeout: o.RequestTimeout,
		retries:        o.Retries,
		sessionTTL:     o.SessionTTL,
	}
	if p.requestTimeout <= 0 {
		p.requestTimeout = 30 * time.Second
	}
	if p.retries < 1 {
		p.retries = 1
	}
	return p, nil
}

// ProfileFromConfig builds a Profile from the controller config section.
func ProfileFromConfig(c util.ControllerConfig) (Profile, error) {
	return NewProfile(ProfileOptions{
		Host:           c.Host,
		Port:           c.Port,
		Username:       c.Username,
		Secret:         c.Password,
		Tenant:         c.Tenant,
		VerifyTLS:      c.VerifyTLS,
		RequestTimeout: c.RequestTimeout,
		Retries:        c.Retries,
		SessionTTL:     c.SessionTTL,
	})
}

func (p Profile) Host() string                  { return p.host }
func (p Profile) Port() int                     { return p.port }
func (p Profile) Username() string              { return p.username }
func (p Profile) Tenant() string                { return p.tenant }
func (p Profile) VerifyTLS() bool               { return p.verifyTLS }
func (p Profile) RequestTimeout() time.Duration { return p.requestTimeout }
func (p Profile) Retries() int                  { return p.retries }
func (p Profile) SessionTTL() time.Duration     { return p.sessionTTL }

// BaseURL is the API root, e.g. https://vmanage:443/dataservice.
func (p Profile) BaseURL() string {
	return fmt.Sprintf("%s://%s%s", p.scheme, net.JoinHostPort(p.host, strconv.Itoa(p.port)), apiPrefix)
}

// Key identifies the profile for login de-duplication.
func (p Profile) Key() string {
	return fmt.Sprintf("%s://%s:%d|%s|%s", p.scheme, p.host, p.port, p.username, p.tenant)
}

// String never includes the secret.
func (p Profile) String() string {
	return fmt.Sprintf("%s@%s:%d", p.username, p.host, p.port)
}
