package device

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/retry"
	"github.com/user/edgegate/internal/util"
)

const showVersion = `Cisco IOS XE Software, Version 17.03.04a
Cisco IOS Software [Amsterdam], Virtual XE Software (X86_64_LINUX_IOSD-UNIVERSALK9-M), Version 17.3.4a, RELEASE SOFTWARE (fc3)
R1 uptime is 2 weeks, 3 days, 4 hours, 5 minutes
cisco CSR1000V (VXE) processor (revision VXE) with 2071769K/3075K bytes of memory.
Processor board ID 9ABCDEF1234`

// fakeDevice simulates a CLI that echoes each line and answers with the
// configured response followed by the prompt.
type fakeDevice struct {
	banner    string
	prompt    string
	responses map[string]string
	hang      map[string]bool
	authFail  bool
	failDials int32

	dials       atomic.Int32
	connCloses  atomic.Int32
	shellCloses atomic.Int32

	mu       sync.Mutex
	commands []string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		banner: "\nWelcome to R1\n\n",
		prompt: "R1#",
		responses: map[string]string{
			"terminal length 0": "",
			"show version":      showVersion,
			"show clock":        "*12:00:00.000 UTC Wed May 1 2024",
		},
		hang: map[string]bool{},
	}
}

func (d *fakeDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *fakeDevice) Dial(ctx context.Context, t Target) (Conn, error) {
	n := d.dials.Add(1)
	if d.authFail {
		return nil, apperr.New(apperr.KindAuthentication, "device.dial", "ssh: unable to authenticate")
	}
	if n <= d.failDials {
		return nil, apperr.New(apperr.KindConnection, "device.dial", "connect: connection refused")
	}
	return &fakeConn{d: d}, nil
}

type fakeConn struct {
	d    *fakeDevice
	once sync.Once
}

func (c *fakeConn) Shell(ctx context.Context) (Shell, error) {
	sh := &fakeShell{d: c.d, ready: make(chan struct{}, 1), done: make(chan struct{})}
	sh.push(c.d.banner + c.d.prompt)
	return sh, nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { c.d.connCloses.Add(1) })
	return nil
}

type fakeShell struct {
	d     *fakeDevice
	mu    sync.Mutex
	buf   bytes.Buffer
	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *fakeShell) push(text string) {
	s.mu.Lock()
	s.buf.WriteString(strings.ReplaceAll(text, "\n", "\r\n"))
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *fakeShell) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.buf.Len() > 0 {
			n, _ := s.buf.Read(p)
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()
		select {
		case <-s.ready:
		case <-s.done:
			return 0, io.EOF
		}
	}
}

func (s *fakeShell) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.ErrClosedPipe
	default:
	}
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		s.d.mu.Lock()
		s.d.commands = append(s.d.commands, line)
		s.d.mu.Unlock()

		s.push(line + "\n")
		switch {
		case s.d.hang[line]:
		case line == "exit":
			s.push("logout\n")
			s.close()
		default:
			resp := s.d.responses[line]
			if resp != "" {
				resp += "\n"
			}
			s.push(resp + s.d.prompt)
		}
	}
	return len(p), nil
}

func (s *fakeShell) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *fakeShell) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	s.d.shellCloses.Add(1)
	return nil
}

func newTestExecutor(d *fakeDevice, cfg util.DeviceConfig) *Executor {
	fast := retry.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Factor: 1}
	return NewExecutor(cfg, WithTransport(d), WithRetryPolicy(fast))
}

func request(cmds ...string) model.CommandRequest {
	return model.CommandRequest{Host: "10.0.0.1", Username: "admin", Password: "secret", Commands: cmds}
}

func TestExecute_RunsCommandsInOrder(t *testing.T) {
	d := newFakeDevice()
	e := newTestExecutor(d, util.DeviceConfig{DisablePaging: true})

	res, err := e.Execute(context.Background(), request("show version", "show clock"))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, []string{"terminal length 0", "show version", "show clock"}, d.Commands())
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, showVersion, res.Outputs[0].Output)
	assert.Equal(t, "*12:00:00.000 UTC Wed May 1 2024", res.Outputs[1].Output)
	assert.NotContains(t, res.RawOutput, "\r")
	assert.Contains(t, res.RawOutput, "Welcome to R1")

	assert.Equal(t, "cisco_ios_xe", res.Fields["device_type"])
	assert.Equal(t, "R1", res.Fields["hostname"])
	assert.Equal(t, "R1#", res.Fields["prompt"])
	assert.Equal(t, "17.03.04a", res.Fields["version"])
	assert.Equal(t, "2 weeks, 3 days, 4 hours, 5 minutes", res.Fields["uptime"])
	assert.Equal(t, "CSR1000V", res.Fields["model"])

	assert.Equal(t, int32(1), d.connCloses.Load())
	assert.Equal(t, int32(1), d.shellCloses.Load())
}

func TestExecute_PartialOutputOnTimeout(t *testing.T) {
	d := newFakeDevice()
	d.hang["show tech-support"] = true
	e := newTestExecutor(d, util.DeviceConfig{})

	req := request("show clock", "show tech-support", "show version")
	req.Timeout = 200 * time.Millisecond

	res, err := e.Execute(context.Background(), req)
	require.Error(t, err)
	require.NotNil(t, res)

	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	assert.False(t, res.Success)
	assert.Equal(t, "timeout", res.ErrorKind)
	require.Len(t, res.Outputs, 1, "completed commands are kept")
	assert.Equal(t, "show clock", res.Outputs[0].Command)
	assert.Contains(t, res.RawOutput, "show tech-support")
	assert.NotContains(t, d.Commands(), "show version")

	assert.Equal(t, int32(1), d.connCloses.Load())
	assert.Equal(t, int32(1), d.shellCloses.Load())
}

func TestExecute_CallerCancellationReleasesConnection(t *testing.T) {
	d := newFakeDevice()
	d.hang["show tech-support"] = true
	e := newTestExecutor(d, util.DeviceConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := e.Execute(ctx, request("show tech-support"))
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	assert.Equal(t, int32(1), d.connCloses.Load())
}

func TestExecute_AuthenticationFailureNotRetried(t *testing.T) {
	d := newFakeDevice()
	d.authFail = true
	e := newTestExecutor(d, util.DeviceConfig{Retries: 3})

	res, err := e.Execute(context.Background(), request("show clock"))
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	assert.Equal(t, "authentication", res.ErrorKind)
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestExecute_RetriesTransientDialFailures(t *testing.T) {
	d := newFakeDevice()
	d.failDials = 2
	e := newTestExecutor(d, util.DeviceConfig{Retries: 3})

	res, err := e.Execute(context.Background(), request("show clock"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(3), d.dials.Load())
}

func TestExecute_DialFailuresExhaustRetries(t *testing.T) {
	d := newFakeDevice()
	d.failDials = 10
	e := newTestExecutor(d, util.DeviceConfig{Retries: 2})

	_, err := e.Execute(context.Background(), request("show clock"))
	assert.Equal(t, apperr.KindConnection, apperr.KindOf(err))
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestExecute_ExitOnLastCommand(t *testing.T) {
	d := newFakeDevice()
	e := newTestExecutor(d, util.DeviceConfig{})

	res, err := e.Execute(context.Background(), request("show clock", "exit"))
	require.NoError(t, err)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, "logout", res.Outputs[1].Output)
}

func TestExecute_ShellClosedMidSequence(t *testing.T) {
	d := newFakeDevice()
	e := newTestExecutor(d, util.DeviceConfig{})

	res, err := e.Execute(context.Background(), request("exit", "show clock"))
	assert.Equal(t, apperr.KindConnection, apperr.KindOf(err))
	assert.Empty(t, res.Outputs)
}

func TestExecute_ValidationBeforeDial(t *testing.T) {
	d := newFakeDevice()
	e := newTestExecutor(d, util.DeviceConfig{})

	cases := map[string]model.CommandRequest{
		"empty host":     {Username: "admin", Commands: []string{"show clock"}},
		"option host":    {Host: "-oProxyCommand=x", Username: "admin", Commands: []string{"show clock"}},
		"bad port":       {Host: "10.0.0.1", Port: 70000, Username: "admin", Commands: []string{"show clock"}},
		"no username":    {Host: "10.0.0.1", Commands: []string{"show clock"}},
		"no commands":    {Host: "10.0.0.1", Username: "admin"},
		"blank command":  {Host: "10.0.0.1", Username: "admin", Commands: []string{"  "}},
		"multi-line":     {Host: "10.0.0.1", Username: "admin", Commands: []string{"show clock\nreload"}},
		"negative limit": {Host: "10.0.0.1", Username: "admin", Commands: []string{"show clock"}, Timeout: -time.Second},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := e.Execute(context.Background(), req)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, "validation", res.ErrorKind)
		})
	}
	assert.Equal(t, int32(0), d.dials.Load())
}

func TestCleanOutput(t *testing.T) {
	reply := "show ip int brief\nInterface  IP-Address\nGi1        10.0.0.1\n --More-- \nGi2        10.0.0.2\nR1#"
	assert.Equal(t, "Interface  IP-Address\nGi1        10.0.0.1\nGi2        10.0.0.2", cleanOutput(reply, "show ip int brief"))

	assert.Equal(t, "", cleanOutput("terminal length 0\nR1#", "terminal length 0"))
}
