package device

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/user/edgegate/internal/apperr"
)

// SSHTransport dials devices with golang.org/x/crypto/ssh using password and
// keyboard-interactive authentication.
type SSHTransport struct {
	// HostKeyCallback defaults to accepting any key: lab devices rarely
	// have known_hosts entries.
	HostKeyCallback ssh.HostKeyCallback
	DialTimeout     time.Duration
	TermWidth       int
}

// NewSSHTransport creates a transport with the given per-dial timeout.
func NewSSHTransport(dialTimeout time.Duration) *SSHTransport {
	return &SSHTransport{DialTimeout: dialTimeout, TermWidth: 511}
}

// Dial connects and authenticates. The handshake honours ctx's deadline.
func (t *SSHTransport) Dial(ctx context.Context, target Target) (Conn, error) {
	const op = "device.dial"

	hostKey := t.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	password := target.Password
	cfg := &ssh.ClientConfig{
		User: target.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         t.DialTimeout,
	}

	dialer := net.Dialer{Timeout: t.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, classifyDial(ctx, op, err)
	}

	var deadline time.Time
	if t.DialTimeout > 0 {
		deadline = time.Now().Add(t.DialTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = nc.SetDeadline(deadline)

	c, chans, reqs, err := ssh.NewClientConn(nc, target.Addr(), cfg)
	if err != nil {
		nc.Close()
		if isAuthFailure(err) {
			return nil, apperr.Wrap(apperr.KindAuthentication, op, err)
		}
		return nil, classifyDial(ctx, op, err)
	}
	_ = nc.SetDeadline(time.Time{})

	return &sshConn{client: ssh.NewClient(c, chans, reqs), width: t.TermWidth}, nil
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}

func classifyDial(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return apperr.FromContext(op, ctx.Err())
	}
	return apperr.Wrap(apperr.KindConnection, op, err)
}

type sshConn struct {
	client *ssh.Client
	width  int
}

func (c *sshConn) Shell(ctx context.Context) (Shell, error) {
	const op = "device.shell"

	sess, err := c.client.NewSession()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnection, op, err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, apperr.Wrap(apperr.KindConnection, op, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, apperr.Wrap(apperr.KindConnection, op, err)
	}
	sess.Stderr = io.Discard

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := sess.RequestPty("vt100", 200, c.width, modes); err != nil {
		sess.Close()
		return nil, apperr.Wrap(apperr.KindConnection, op, err)
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, apperr.Wrap(apperr.KindConnection, op, err)
	}
	return &sshShell{sess: sess, stdin: stdin, stdout: stdout}, nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

type sshShell struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
}

func (s *sshShell) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s *sshShell) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s *sshShell) Close() error {
	_ = s.stdin.Close()
	err := s.sess.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
