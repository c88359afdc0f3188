package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/vmanage"
)

var (
	devicesEdgeOnly bool
	nslookupVPN     string
	nslookupDNS     string
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "List controller tenants",
	RunE:  runTenants,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List controller device inventory",
	RunE:  runDevices,
}

var stateCmd = &cobra.Command{
	Use:   "state <view> <device-ip>",
	Short: "Show a per-device state view from the controller",
	Long:  "Show a per-device state view from the controller.\n\nViews: " + strings.Join(vmanage.StateViews(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE:  runState,
}

var nslookupCmd = &cobra.Command{
	Use:   "nslookup <device-ip> <host>",
	Short: "Resolve a name from a managed device",
	Args:  cobra.ExactArgs(2),
	RunE:  runNslookup,
}

var runningConfigCmd = &cobra.Command{
	Use:   "running-config <device-uuid>",
	Short: "Print a device's running configuration as held by the controller",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunningConfig,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List device templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListing(cmd, "Device templates", func(a *app) func(context.Context) ([]map[string]interface{}, error) {
			return a.client.Templates
		})
	},
}

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List vEdge policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListing(cmd, "Policies", func(a *app) func(context.Context) ([]map[string]interface{}, error) {
			return a.client.Policies
		})
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesEdgeOnly, "edge", false, "only edge routers")
	nslookupCmd.Flags().StringVar(&nslookupVPN, "vpn", "", "VPN to resolve in (default 0)")
	nslookupCmd.Flags().StringVar(&nslookupDNS, "dns", "", "DNS server (default 8.8.8.8)")
}

func runTenants(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireController(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	tenants, err := a.sessions.Tenants(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(tenants)
	}

	fmt.Println(titleStyle.Render("Tenants"))
	current := a.sessions.CurrentTenant()
	for _, t := range tenants {
		name := t.Name
		if t.ID == current {
			name += " " + goodStyle.Render("(current)")
		}
		printField(t.ID, name)
	}
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireController(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	list := a.client.Devices
	if devicesEdgeOnly {
		list = a.client.EdgeDevices
	}
	devices, err := list(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(devices)
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Devices (%d)", len(devices))))
	fmt.Printf("  %-16s %-24s %-10s %s\n",
		headerStyle.Render("SYSTEM IP"), headerStyle.Render("HOSTNAME"),
		headerStyle.Render("TYPE"), headerStyle.Render("REACHABILITY"))
	for _, d := range devices {
		fmt.Printf("  %-16s %-24s %-10s %s\n", d.SystemIP, d.HostName, d.DeviceType, d.Reachability)
	}
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireController(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out, err := a.client.DeviceState(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runNslookup(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireController(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out, err := a.client.RemoteNslookup(ctx, vmanage.NslookupRequest{
		DeviceIP: args[0],
		Host:     args[1],
		VPN:      nslookupVPN,
		DNS:      nslookupDNS,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runRunningConfig(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireController(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	text, err := a.client.RunningConfig(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]string{"device_id": args[0], "config": text})
	}
	fmt.Println(text)
	return nil
}

func runListing(cmd *cobra.Command, title string, pick func(*app) func(context.Context) ([]map[string]interface{}, error)) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.requireController(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	rows, err := pick(a)(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(rows)
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("%s (%d)", title, len(rows))))
	for _, r := range rows {
		fmt.Println("  " + summarizeRow(r))
	}
	return nil
}

// summarizeRow prints the identifying columns of a template or policy row
// first, then the remaining scalar columns in key order.
func summarizeRow(r map[string]interface{}) string {
	lead := []string{"templateName", "policyName", "templateId", "policyId", "deviceType"}
	var parts []string
	seen := map[string]bool{}
	for _, k := range lead {
		if v, ok := r[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			seen[k] = true
		}
	}
	var rest []string
	for k, v := range r {
		if seen[k] {
			continue
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		parts = append(parts, fmt.Sprintf("%s=%v", k, r[k]))
	}
	return strings.Join(parts, " ")
}
