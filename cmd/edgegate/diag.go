package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

var (
	pingCount   int
	pingTimeout time.Duration

	traceMaxHops int
	traceTimeout time.Duration

	scanPorts   string
	scanTimeout time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping <host>",
	Short: "Ping a host from this machine",
	Args:  cobra.ExactArgs(1),
	RunE:  runPing,
}

var traceCmd = &cobra.Command{
	Use:   "trace <host>",
	Short: "Trace the path to a host",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrace,
}

var scanCmd = &cobra.Command{
	Use:   "scan <host>",
	Short: "Scan TCP ports on a host",
	Long: `Scan TCP ports on a host with a connect scan.

Ports are a comma separated list of ports and ranges:
  edgegate scan 10.0.0.1 --ports 22,80,443,8000-8010

Without --ports the common service ports are scanned.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 4, "number of echo requests")
	pingCmd.Flags().DurationVarP(&pingTimeout, "timeout", "t", 2*time.Second, "per-reply timeout")

	traceCmd.Flags().IntVarP(&traceMaxHops, "max-hops", "m", 30, "maximum number of hops")
	traceCmd.Flags().DurationVarP(&traceTimeout, "timeout", "t", 2*time.Second, "per-probe timeout")

	scanCmd.Flags().StringVarP(&scanPorts, "ports", "p", "", "ports to scan, e.g. 22,80,8000-8010")
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 0, "per-port timeout (default diag.scan_timeout)")
}

func runPing(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	res, runErr := a.ping.Ping(ctx, args[0], pingCount, pingTimeout)
	a.record(res, runErr)
	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		return runErr
	}
	if runErr != nil {
		return runErr
	}

	fmt.Println(titleStyle.Render("Ping " + res.Host))
	fmt.Print(labelStyle.Render("Result: "))
	printState(res.Success, "Reachable", "Unreachable")
	printField("Packets", fmt.Sprintf("%d sent, %d received, %.1f%% loss",
		res.PacketsSent, res.PacketsReceived, res.PacketLossPercent))
	if res.PacketsReceived > 0 {
		printField("RTT", fmt.Sprintf("min %.3f / avg %.3f / max %.3f ms", res.MinMs, res.AvgMs, res.MaxMs))
	}
	return nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	res, runErr := a.trace.Trace(ctx, args[0], traceMaxHops, traceTimeout)
	a.record(res, runErr)
	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		return runErr
	}

	fmt.Println(titleStyle.Render("Traceroute " + res.Host))
	for _, h := range res.Hops {
		fmt.Println(formatHop(h))
	}
	if runErr != nil {
		return runErr
	}
	fmt.Println()
	fmt.Print(labelStyle.Render("Reached target: "))
	printState(res.ReachedTarget, "yes", "no")
	return nil
}

func formatHop(h model.TraceHop) string {
	if h.Lost {
		return fmt.Sprintf("%3d  %s", h.HopNum, badStyle.Render("*"))
	}
	name := h.IP
	if h.Hostname != "" && h.Hostname != h.IP {
		name = fmt.Sprintf("%s (%s)", h.Hostname, h.IP)
	}
	rtts := make([]string, len(h.RTTs))
	for i, v := range h.RTTs {
		rtts[i] = fmt.Sprintf("%.3f ms", v)
	}
	return fmt.Sprintf("%3d  %s  %s", h.HopNum, valueStyle.Render(name), strings.Join(rtts, "  "))
}

func runScan(cmd *cobra.Command, args []string) error {
	ports := util.CommonPorts()
	if scanPorts != "" {
		var err error
		if ports, err = parsePorts(scanPorts); err != nil {
			return err
		}
	}
	timeout := scanTimeout
	if timeout == 0 {
		timeout = cfg.Diag.ScanTimeout
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	res, runErr := a.scan.Scan(ctx, args[0], ports, timeout)
	a.record(res, runErr)
	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		return runErr
	}

	fmt.Println(titleStyle.Render("Port scan " + res.Target))
	for _, p := range res.Ports {
		if p.State != model.PortOpen {
			continue
		}
		service := p.Service
		if service == "" {
			service = "unknown"
		}
		fmt.Printf("  %5d/tcp  %s  %s  %.2f ms\n", p.Port, goodStyle.Render("open"), service, p.LatencyMs)
	}
	printField("Scanned", fmt.Sprintf("%d ports in %d ms, %d open", len(res.Ports), res.ElapsedMs, len(res.OpenPorts)))
	return runErr
}

// parsePorts parses "22,80,8000-8010" into a sorted, de-duplicated list.
func parsePorts(s string) ([]int, error) {
	const op = "cli.ports"
	seen := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.Index(part, "-"); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, apperr.Validationf(op, "invalid port %q", part)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, apperr.Validationf(op, "invalid port %q", part)
		}
		if start > end {
			return nil, apperr.Validationf(op, "invalid port range %q", part)
		}
		for p := start; p <= end; p++ {
			if err := util.ValidatePort(op, p); err != nil {
				return nil, err
			}
			seen[p] = true
		}
	}
	if len(seen) == 0 {
		return nil, apperr.Validationf(op, "no ports given")
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}
