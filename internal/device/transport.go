// Package device runs CLI commands on network devices over an interactive
// remote shell.
package device

import (
	"context"
	"io"
	"net"
	"strconv"
)

// Target identifies one device login.
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Transport opens authenticated connections to devices. Dial must return an
// apperr authentication error for rejected credentials so it is not retried.
type Transport interface {
	Dial(ctx context.Context, t Target) (Conn, error)
}

// Conn is one authenticated device connection.
type Conn interface {
	// Shell opens an interactive shell channel.
	Shell(ctx context.Context) (Shell, error)
	Close() error
}

// Shell is an interactive channel: writes go to the device's stdin and
// reads return its terminal output.
type Shell interface {
	io.ReadWriteCloser
}
