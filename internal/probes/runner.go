// Package probes runs local diagnostic tools: ping, traceroute and TCP port
// scans.
package probes

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/user/edgegate/internal/apperr"
)

// Runner executes an external program and returns its standard output.
// Implementations must kill the process when ctx is done.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Output runs name and returns stdout. A non-zero exit still returns
// whatever was written, since ping exits 1 on partial loss.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	return cmd.Output()
}

// budget caps per-probe time at ceiling.
func budget(d, ceiling time.Duration) time.Duration {
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

// runError maps a probe process failure. Deadline expiry is a timeout and a
// non-zero exit is not an error: the output is still parsed.
func runError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return apperr.FromContext(op, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return apperr.Wrap(apperr.KindUnknown, op, err)
}
