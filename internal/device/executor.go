package device

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/metrics"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/retry"
	"github.com/user/edgegate/internal/util"
)

// Option configures an Executor.
type Option func(*Executor)

// WithTransport replaces the SSH transport.
func WithTransport(t Transport) Option {
	return func(e *Executor) { e.transport = t }
}

// WithRetryPolicy sets the backoff used between connection attempts. The
// attempt count comes from the device config.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Executor) { e.policy = p }
}

// Executor runs command sequences on devices. Every request owns its own
// connection for its whole lifetime.
type Executor struct {
	cfg       util.DeviceConfig
	transport Transport
	policy    retry.Policy
}

// NewExecutor creates an executor. Zero config values fall back to defaults.
func NewExecutor(cfg util.DeviceConfig, opts ...Option) *Executor {
	def := util.DefaultConfig().Device
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = def.Retries
	}

	e := &Executor{
		cfg:    cfg,
		policy: retry.DefaultPolicy("device.connect"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transport == nil {
		e.transport = NewSSHTransport(cfg.DialTimeout)
	}
	e.policy.Name = "device.connect"
	e.policy = e.policy.WithAttempts(cfg.Retries)
	return e
}

// script drives an open shell once the prompt is known and paging handled.
type script func(ctx context.Context, s *shellSession, t Type, req model.CommandRequest, res *model.CommandResult) error

// Execute connects to the device, runs every command in order and closes the
// connection. The result is never nil: on failure it carries the raw output
// and completed command outputs collected so far, alongside the error.
func (e *Executor) Execute(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error) {
	return e.execute(ctx, "device.execute", req, true, func(ctx context.Context, s *shellSession, _ Type, req model.CommandRequest, res *model.CommandResult) error {
		return sendAll(ctx, s, req.Commands, res)
	})
}

func (e *Executor) execute(ctx context.Context, op string, req model.CommandRequest, needCommands bool, sc script) (*model.CommandResult, error) {
	start := time.Now()
	res := &model.CommandResult{
		ID:        uuid.NewString(),
		Host:      req.Host,
		Outputs:   []model.CommandOutput{},
		Timestamp: start.UTC(),
	}

	req, err := e.prepare(op, req, needCommands)
	if err != nil {
		return e.finish(op, res, start, err)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	target := Target{Host: req.Host, Port: req.Port, Username: req.Username, Password: req.Password}
	var conn Conn
	err = retry.Do(ctx, e.policy, func(ctx context.Context, attempt int) error {
		c, err := e.transport.Dial(ctx, target)
		if err != nil {
			util.WithFields(util.Fields{
				"host":    target.Addr(),
				"attempt": attempt,
				"kind":    apperr.KindOf(err),
			}).Debug("device dial failed")
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return e.finish(op, res, start, err)
	}
	defer conn.Close()

	sh, err := conn.Shell(ctx)
	if err != nil {
		return e.finish(op, res, start, err)
	}
	defer sh.Close()

	s := newShellSession(sh)
	defer s.stop()

	err = e.run(ctx, s, req, res, sc)
	res.RawOutput = s.Raw()
	return e.finish(op, res, start, err)
}

func (e *Executor) prepare(op string, req model.CommandRequest, needCommands bool) (model.CommandRequest, error) {
	if err := util.ValidateHost(op, req.Host); err != nil {
		return req, err
	}
	if req.Port == 0 {
		req.Port = e.cfg.Port
	}
	if err := util.ValidatePort(op, req.Port); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Username) == "" {
		return req, apperr.Validationf(op, "username is required")
	}
	if needCommands && len(req.Commands) == 0 {
		return req, apperr.Validationf(op, "at least one command is required")
	}
	if req.DeviceType != "" && !knownType(Type(req.DeviceType)) {
		return req, apperr.Validationf(op, "unknown device type %q", req.DeviceType)
	}
	cmds := make([]string, 0, len(req.Commands))
	for i, c := range req.Commands {
		c = strings.TrimSpace(c)
		if c == "" {
			return req, apperr.Validationf(op, "command %d is empty", i+1)
		}
		if strings.ContainsAny(c, "\r\n") {
			return req, apperr.Validationf(op, "command %d spans multiple lines", i+1)
		}
		cmds = append(cmds, c)
	}
	req.Commands = cmds
	if req.Timeout < 0 {
		return req, apperr.Validationf(op, "timeout must be positive")
	}
	if req.Timeout == 0 {
		req.Timeout = e.cfg.CommandTimeout
	}
	req.DisablePaging = req.DisablePaging || e.cfg.DisablePaging
	return req, nil
}

func (e *Executor) run(ctx context.Context, s *shellSession, req model.CommandRequest, res *model.CommandResult, sc script) error {
	banner, err := s.expect(ctx)
	if err != nil {
		return err
	}
	prompt := strings.TrimSpace(stripControl(lastLine(banner)))
	res.Fields = map[string]string{
		"prompt":   prompt,
		"hostname": Hostname(prompt),
	}

	t := Type(req.DeviceType)
	if t == "" {
		t = FromPrompt(prompt)
	}
	if req.DisablePaging {
		if cmd := PagingCommand(t); cmd != "" {
			if _, err := s.send(ctx, cmd); err != nil {
				return err
			}
		}
	}

	if err := sc(ctx, s, t, req, res); err != nil {
		return err
	}

	var seen strings.Builder
	seen.WriteString(banner)
	for _, out := range res.Outputs {
		seen.WriteString(out.Output)
		seen.WriteString("\n")
	}
	res.Fields["device_type"] = string(Detect(seen.String()))
	if req.DeviceType != "" {
		res.Fields["device_type"] = req.DeviceType
	}
	for k, v := range ParseVersion(seen.String()) {
		res.Fields[k] = v
	}
	return nil
}

// sendAll runs cmds in order, recording each cleaned reply.
func sendAll(ctx context.Context, s *shellSession, cmds []string, res *model.CommandResult) error {
	for i, cmd := range cmds {
		reply, err := s.send(ctx, cmd)
		last := i == len(cmds)-1
		// A final command such as "exit" may legitimately end the shell.
		if err != nil && !(last && err == errShellClosed) {
			return err
		}
		res.Outputs = append(res.Outputs, model.CommandOutput{Command: cmd, Output: cleanOutput(reply, cmd)})
	}
	return nil
}

func (e *Executor) finish(op string, res *model.CommandResult, start time.Time, err error) (*model.CommandResult, error) {
	res.ElapsedMs = time.Since(start).Milliseconds()
	kind := apperr.KindOf(err)
	metrics.CommandRuns.WithLabelValues(metrics.Result(err, string(kind))).Inc()

	fields := util.Fields{
		"op":       op,
		"id":       res.ID,
		"host":     res.Host,
		"commands": len(res.Outputs),
		"elapsed":  res.ElapsedMs,
	}
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = string(kind)
		fields["kind"] = kind
		fields["error"] = err.Error()
		util.WithFields(fields).Warn("device command execution failed")
		return res, err
	}
	res.Success = true
	util.WithFields(fields).Info("device command execution completed")
	return res, nil
}
