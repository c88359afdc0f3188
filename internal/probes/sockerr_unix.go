//go:build !windows

package probes

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isRefused reports whether a dial error means the host answered with a
// reset, i.e. the port is closed rather than filtered.
func isRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ECONNRESET)
}
