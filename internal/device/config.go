package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

// commandSet holds the family-specific spelling of the operations the
// executor runs on its own. Empty configEnter means the family applies
// configuration lines directly.
type commandSet struct {
	running     string
	logs        string
	interfaces  string
	routes      string
	arp         string
	configEnter string
	configExit  string
}

var ciscoCommands = commandSet{
	running:     "show running-config",
	logs:        "show logging",
	interfaces:  "show ip interface brief",
	routes:      "show ip route",
	arp:         "show arp",
	configEnter: "configure terminal",
	configExit:  "end",
}

var commandSets = map[Type]commandSet{
	TypeCiscoIOSXE: ciscoCommands,
	TypeCiscoIOS:   ciscoCommands,
	TypeGeneric:    ciscoCommands,
	TypeJuniper: {
		running:     "show configuration | display set",
		logs:        "show log messages",
		interfaces:  "show interfaces terse",
		routes:      "show route",
		arp:         "show arp no-resolve",
		configEnter: "configure",
		configExit:  "commit and-quit",
	},
	TypeHuawei: {
		running:     "display current-configuration",
		logs:        "display logbuffer",
		interfaces:  "display ip interface brief",
		routes:      "display ip routing-table",
		arp:         "display arp",
		configEnter: "system-view",
		configExit:  "return",
	},
	TypeMikrotik: {
		running:    "/export compact",
		logs:       "/log print",
		interfaces: "/interface print",
		routes:     "/ip route print",
		arp:        "/ip arp print",
	},
}

func knownType(t Type) bool {
	_, ok := commandSets[t]
	return ok
}

func commandsFor(t Type) commandSet {
	if cs, ok := commandSets[t]; ok {
		return cs
	}
	return ciscoCommands
}

// Log scopes accepted by Logs.
const (
	LogsAll       = "all"
	LogsSystem    = "system"
	LogsInterface = "interface"
	LogsRouting   = "routing"
)

func (cs commandSet) logCommands(scope string) []string {
	var cmds []string
	if scope == LogsAll || scope == LogsSystem {
		cmds = append(cmds, cs.logs)
	}
	if scope == LogsAll || scope == LogsInterface {
		cmds = append(cmds, cs.interfaces)
	}
	if scope == LogsAll || scope == LogsRouting {
		cmds = append(cmds, cs.routes, cs.arp)
	}
	return cmds
}

// rejected returns the first error line a device printed for a
// configuration line, or "".
func rejected(out string) string {
	for _, line := range strings.Split(out, "\n") {
		l := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(l, "% "),
			strings.HasPrefix(l, "Error:"),
			strings.HasPrefix(l, "syntax error"),
			strings.HasPrefix(l, "bad command name"),
			strings.HasPrefix(l, "unknown command"):
			return l
		}
	}
	return ""
}

// PushConfig enters configuration mode, applies each line of req.Commands
// and leaves configuration mode again. A line the device rejects stops the
// push; configuration mode is still left before returning the error.
func (e *Executor) PushConfig(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error) {
	const op = "device.push_config"
	return e.execute(ctx, op, req, true, func(ctx context.Context, s *shellSession, t Type, req model.CommandRequest, res *model.CommandResult) error {
		cs := commandsFor(t)
		if cs.configEnter != "" {
			if err := sendAll(ctx, s, []string{cs.configEnter}, res); err != nil {
				return err
			}
		}

		var failed error
		for i, line := range req.Commands {
			if err := sendAll(ctx, s, []string{line}, res); err != nil {
				return err
			}
			if msg := rejected(res.Outputs[len(res.Outputs)-1].Output); msg != "" {
				failed = apperr.Validationf(op, "device rejected line %d %q: %s", i+1, line, msg)
				break
			}
		}

		if cs.configExit != "" {
			if err := sendAll(ctx, s, []string{cs.configExit}, res); err != nil && failed == nil {
				return err
			}
		}
		res.Fields["config_lines"] = fmt.Sprint(len(req.Commands))
		return failed
	})
}

// Backup captures the running configuration. The configuration text is the
// output of the single recorded command.
func (e *Executor) Backup(ctx context.Context, req model.CommandRequest) (*model.CommandResult, error) {
	req.Commands = nil
	req.DisablePaging = true
	return e.execute(ctx, "device.backup", req, false, func(ctx context.Context, s *shellSession, t Type, _ model.CommandRequest, res *model.CommandResult) error {
		return sendAll(ctx, s, []string{commandsFor(t).running}, res)
	})
}

// Logs collects the device log and, depending on scope, interface and
// routing state. An empty scope means LogsAll.
func (e *Executor) Logs(ctx context.Context, req model.CommandRequest, scope string) (*model.CommandResult, error) {
	const op = "device.logs"
	if scope == "" {
		scope = LogsAll
	}
	switch scope {
	case LogsAll, LogsSystem, LogsInterface, LogsRouting:
	default:
		start := time.Now()
		res := &model.CommandResult{ID: uuid.NewString(), Host: req.Host, Outputs: []model.CommandOutput{}, Timestamp: start.UTC()}
		return e.finish(op, res, start, apperr.Validationf(op, "unknown log scope %q", scope))
	}

	req.Commands = nil
	req.DisablePaging = true
	return e.execute(ctx, op, req, false, func(ctx context.Context, s *shellSession, t Type, _ model.CommandRequest, res *model.CommandResult) error {
		res.Fields["log_scope"] = scope
		return sendAll(ctx, s, commandsFor(t).logCommands(scope), res)
	})
}

// SaveBackup writes a successful backup into dir and returns the file path.
func SaveBackup(dir string, res *model.CommandResult) (string, error) {
	if res == nil || !res.Success || len(res.Outputs) == 0 {
		return "", apperr.Validationf("device.backup", "no configuration to save")
	}
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}

	name := res.Fields["hostname"]
	if name == "" {
		name = res.Host
	}
	name = strings.NewReplacer(":", "_", "/", "_", " ", "_").Replace(name)
	path := filepath.Join(dir, fmt.Sprintf("%s_config_%s.txt", name, res.Timestamp.Format("20060102_150405")))

	out := res.Outputs[0]
	var sb strings.Builder
	fmt.Fprintf(&sb, "! Configuration backup for %s\n", res.Host)
	fmt.Fprintf(&sb, "! Device type: %s\n", res.Fields["device_type"])
	fmt.Fprintf(&sb, "! Taken: %s\n", res.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "! Command: %s\n!\n", out.Command)
	sb.WriteString(out.Output)
	sb.WriteString("\n")

	if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return path, nil
}
