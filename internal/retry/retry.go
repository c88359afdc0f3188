// Package retry provides the retry/backoff policy shared by the controller
// session, the statistics gateway and the device command executor.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/metrics"
	"github.com/user/edgegate/internal/util"
)

// Policy configures attempts and exponential backoff.
type Policy struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Factor         float64
	// Jitter is the maximum fraction of the backoff added at random.
	Jitter float64
	// Retryable decides whether an error is worth another attempt.
	// Nil means IsTransient.
	Retryable func(error) bool
	// Name labels retry log events and metrics.
	Name string
}

// DefaultPolicy returns the defaults used when configuration is silent.
func DefaultPolicy(name string) Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Factor:         2.0,
		Jitter:         0.2,
		Name:           name,
	}
}

// FromConfig builds a policy from the shared retry config section, keeping
// defaults for unset values.
func FromConfig(name string, c util.RetryConfig) Policy {
	p := DefaultPolicy(name)
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoff > 0 {
		p.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		p.MaxBackoff = c.MaxBackoff
	}
	return p
}

// WithAttempts returns a copy of p with MaxAttempts set.
func (p Policy) WithAttempts(n int) Policy {
	if n > 0 {
		p.MaxAttempts = n
	}
	return p
}

// IsTransient reports whether err is a connection-level failure. Validation,
// authentication, tenant and parse failures are never retried; neither is a
// timeout, since the caller's deadline is already spent.
func IsTransient(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindConnection:
		return true
	case apperr.KindUpstream:
		status := apperr.StatusOf(err)
		return status == 0 || status >= 500 || status == 429
	default:
		return false
	}
}

// Func is a single attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn Func) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	backoff := p.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return apperr.FromContext(p.Name, err)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == p.MaxAttempts {
			return lastErr
		}

		wait := withJitter(backoff, p.Jitter)
		util.WithFields(util.Fields{
			"op":      p.Name,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   lastErr.Error(),
		}).Warn("retrying after failure")
		metrics.RetryAttempts.WithLabelValues(p.Name).Inc()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		backoff = next(backoff, p.Factor, p.MaxBackoff)
	}
	return lastErr
}

func next(cur time.Duration, factor float64, max time.Duration) time.Duration {
	if factor < 1 {
		factor = 1
	}
	n := time.Duration(float64(cur) * factor)
	if max > 0 && n > max {
		n = max
	}
	return n
}

func withJitter(d time.Duration, jitter float64) time.Duration {
	if d <= 0 || jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*jitter*float64(d))
}
