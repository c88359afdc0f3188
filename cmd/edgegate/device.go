package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/device"
	"github.com/user/edgegate/internal/model"
)

// sshFlags are the connection flags shared by every command that logs in
// to a router.
type sshFlags struct {
	port       int
	user       string
	password   string
	timeout    time.Duration
	deviceType string
}

func (f *sshFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVarP(&f.port, "port", "p", 0, "SSH port (default from config)")
	fs.StringVarP(&f.user, "user", "u", "", "SSH username")
	fs.StringVar(&f.password, "password", "", "SSH password (or EDGEGATE_DEVICE_PASSWORD)")
	fs.DurationVar(&f.timeout, "timeout", 0, "overall run timeout (default from config)")
	fs.StringVar(&f.deviceType, "device-type", "", "skip prompt detection (cisco_iosxe, cisco_ios, juniper, huawei, mikrotik, generic)")
	cmd.MarkFlagRequired("user")
}

func (f *sshFlags) request(host string) model.CommandRequest {
	password := f.password
	if password == "" {
		password = os.Getenv("EDGEGATE_DEVICE_PASSWORD")
	}
	return model.CommandRequest{
		Host:       host,
		Port:       f.port,
		Username:   f.user,
		Password:   password,
		Timeout:    f.timeout,
		DeviceType: f.deviceType,
	}
}

var (
	configSSH   sshFlags
	configLines []string
	configFile  string

	backupSSH    sshFlags
	backupDir    string
	backupStdout bool

	logsSSH   sshFlags
	logsScope string
)

var configCmd = &cobra.Command{
	Use:   "config <host>",
	Short: "Apply configuration lines to a router",
	Long: `Enter configuration mode, apply each line and leave configuration mode.
The push stops at the first line the router rejects.

Lines come from -c (repeatable) or --file. In a file, blank lines and
lines starting with "!" are skipped.

Examples:
  edgegate config 10.0.0.1 -u admin -c "interface Gi1" -c "description uplink"
  edgegate config 10.0.0.1 -u admin --file changes.cfg`,
	Args: cobra.ExactArgs(1),
	RunE: runConfig,
}

var backupCmd = &cobra.Command{
	Use:   "backup <host>",
	Short: "Save a router's running configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackup,
}

var logsCmd = &cobra.Command{
	Use:   "logs <host>",
	Short: "Collect logs and state from a router",
	Long: `Collect the device log and related state over SSH.

Scopes: all, system, interface, routing.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogs,
}

func init() {
	configSSH.bind(configCmd)
	configCmd.Flags().StringArrayVarP(&configLines, "command", "c", nil, "configuration line (repeatable)")
	configCmd.Flags().StringVarP(&configFile, "file", "f", "", "read configuration lines from file")

	backupSSH.bind(backupCmd)
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "backup directory (default <data_dir>/backups)")
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "print the configuration instead of saving it")

	logsSSH.bind(logsCmd)
	logsCmd.Flags().StringVar(&logsScope, "scope", device.LogsAll, "log scope")
}

// readConfigLines returns the configuration lines of r, skipping blank
// lines and "!" comments.
func readConfigLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "!") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

func runConfig(cmd *cobra.Command, args []string) error {
	lines := configLines
	if configFile != "" {
		f, err := os.Open(configFile)
		if err != nil {
			return fmt.Errorf("failed to open config file: %w", err)
		}
		fromFile, err := readConfigLines(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		lines = append(lines, fromFile...)
	}
	if len(lines) == 0 {
		return apperr.Validationf("device.push_config", "no configuration lines given")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	req := configSSH.request(args[0])
	req.Commands = lines
	res, runErr := a.executor.PushConfig(ctx, req)
	a.record(res, runErr)
	return printCommandResult(res, runErr, "configuration push failed")
}

func runBackup(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	res, runErr := a.executor.Backup(ctx, backupSSH.request(args[0]))
	a.record(res, runErr)
	if runErr != nil || backupStdout || jsonOut {
		return printCommandResult(res, runErr, "backup failed")
	}

	dir := backupDir
	if dir == "" {
		dir = filepath.Join(cfg.DataDir, "backups")
	}
	path, err := device.SaveBackup(dir, res)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Backup " + res.Host))
	printField("Device type", res.Fields["device_type"])
	printField("Saved to", goodStyle.Render(path))
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	res, runErr := a.executor.Logs(ctx, logsSSH.request(args[0]), logsScope)
	a.record(res, runErr)
	return printCommandResult(res, runErr, "log collection failed")
}
