package vmanage

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

// Client exposes controller inventory and device tool endpoints.
type Client struct {
	m *Manager
}

// NewClient wraps m.
func NewClient(m *Manager) *Client {
	return &Client{m: m}
}

// Manager returns the underlying session manager.
func (c *Client) Manager() *Manager { return c.m }

// Devices lists the controller inventory.
func (c *Client) Devices(ctx context.Context) ([]model.Device, error) {
	rows, err := c.rows(ctx, "/device")
	if err != nil {
		return nil, err
	}
	devices := make([]model.Device, 0, len(rows))
	for _, r := range rows {
		devices = append(devices, deviceFromRow(r))
	}
	return devices, nil
}

// Templates lists the device templates.
func (c *Client) Templates(ctx context.Context) ([]map[string]interface{}, error) {
	return c.rows(ctx, "/template/device")
}

// Policies lists the vEdge policies.
func (c *Client) Policies(ctx context.Context) ([]map[string]interface{}, error) {
	return c.rows(ctx, "/template/policy/vedge")
}

func (c *Client) rows(ctx context.Context, path string) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	err := c.m.Run(ctx, func(ctx context.Context, h *Handle) error {
		resp, err := c.m.Do(ctx, h, Request{Method: http.MethodGet, Path: path})
		if err != nil {
			return err
		}
		rows, err = resp.Rows()
		return err
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	return rows, nil
}

// RunningConfig returns the running configuration the controller holds for
// the device with the given UUID.
func (c *Client) RunningConfig(ctx context.Context, deviceID string) (string, error) {
	const op = "controller.running_config"
	if strings.TrimSpace(deviceID) == "" {
		return "", apperr.Validationf(op, "device id is required")
	}

	var out string
	err := c.m.Run(ctx, func(ctx context.Context, h *Handle) error {
		resp, err := c.m.Do(ctx, h, Request{
			Method: http.MethodGet,
			Path:   "/template/config/running/" + url.PathEscape(deviceID),
		})
		if err != nil {
			return err
		}
		var wrapped struct {
			Config string `json:"config"`
		}
		if json.Unmarshal(resp.Body, &wrapped) == nil && wrapped.Config != "" {
			out = wrapped.Config
			return nil
		}
		out = string(resp.Body)
		return nil
	})
	return out, err
}

// EdgeDevices lists only vEdge/cEdge devices.
func (c *Client) EdgeDevices(ctx context.Context) ([]model.Device, error) {
	all, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	edges := make([]model.Device, 0, len(all))
	for _, d := range all {
		if IsEdge(d) {
			edges = append(edges, d)
		}
	}
	return edges, nil
}

// IsEdge reports whether d is an SD-WAN edge router.
func IsEdge(d model.Device) bool {
	for _, v := range []string{d.DeviceType, d.Personality} {
		t := strings.ToLower(v)
		if strings.Contains(t, "vedge") || strings.Contains(t, "cedge") || t == "edge" || t == "sd-wan-edge" {
			return true
		}
	}
	return false
}

func deviceFromRow(r map[string]interface{}) model.Device {
	return model.Device{
		UUID:         stringField(r, "uuid", "deviceId", "device-id"),
		SystemIP:     stringField(r, "system-ip", "systemIp", "system_ip", "deviceIp"),
		HostName:     stringField(r, "host-name", "hostName", "host_name"),
		DeviceType:   stringField(r, "device-type", "deviceType"),
		Personality:  stringField(r, "personality"),
		Model:        stringField(r, "device-model", "deviceModel"),
		Reachability: stringField(r, "reachability"),
		Version:      stringField(r, "version"),
		SiteID:       stringField(r, "site-id", "siteId"),
	}
}

// RemoteToolRequest runs a ping or traceroute from a managed device.
type RemoteToolRequest struct {
	DeviceIP string `json:"device_ip"`
	Target   string `json:"target"`
	VPN      string `json:"vpn"`
	Count    int    `json:"count,omitempty"`
}

func (r RemoteToolRequest) validate(op string) error {
	if net.ParseIP(strings.TrimSpace(r.DeviceIP)) == nil {
		return apperr.Validationf(op, "device ip %q is not an IP address", r.DeviceIP)
	}
	if strings.TrimSpace(r.Target) == "" {
		return apperr.Validationf(op, "target is required")
	}
	return nil
}

// RemotePing asks the controller to ping Target from DeviceIP.
func (c *Client) RemotePing(ctx context.Context, r RemoteToolRequest) (json.RawMessage, error) {
	const op = "controller.remote_ping"
	if err := r.validate(op); err != nil {
		return nil, err
	}
	if r.Count <= 0 {
		r.Count = 5
	}
	return c.tool(ctx, "ping", r.DeviceIP, map[string]string{
		"host":  r.Target,
		"vpn":   vpnOrDefault(r.VPN),
		"count": strconv.Itoa(r.Count),
	})
}

// RemoteTraceroute asks the controller to trace Target from DeviceIP.
func (c *Client) RemoteTraceroute(ctx context.Context, r RemoteToolRequest) (json.RawMessage, error) {
	const op = "controller.remote_traceroute"
	if err := r.validate(op); err != nil {
		return nil, err
	}
	return c.tool(ctx, "traceroute", r.DeviceIP, map[string]string{
		"host": r.Target,
		"vpn":  vpnOrDefault(r.VPN),
	})
}

// NslookupRequest resolves Host from a managed device.
type NslookupRequest struct {
	DeviceIP string `json:"device_ip"`
	Host     string `json:"host"`
	VPN      string `json:"vpn"`
	DNS      string `json:"dns"`
}

// RemoteNslookup asks the controller to resolve Host from DeviceIP, using
// DNS as the resolver (8.8.8.8 when empty).
func (c *Client) RemoteNslookup(ctx context.Context, r NslookupRequest) (json.RawMessage, error) {
	const op = "controller.remote_nslookup"
	if net.ParseIP(strings.TrimSpace(r.DeviceIP)) == nil {
		return nil, apperr.Validationf(op, "device ip %q is not an IP address", r.DeviceIP)
	}
	if err := util.ValidateHost(op, r.Host); err != nil {
		return nil, err
	}
	dns := strings.TrimSpace(r.DNS)
	if dns == "" {
		dns = "8.8.8.8"
	}
	if net.ParseIP(dns) == nil {
		return nil, apperr.Validationf(op, "dns server %q is not an IP address", r.DNS)
	}

	var out json.RawMessage
	err := c.m.Run(ctx, func(ctx context.Context, h *Handle) error {
		resp, err := c.m.Do(ctx, h, Request{
			Method: http.MethodGet,
			Path:   "/device/tools/nslookup",
			Query: url.Values{
				"deviceId": {r.DeviceIP},
				"host":     {r.Host},
				"vpn":      {vpnOrDefault(r.VPN)},
				"dns":      {dns},
			},
		})
		if err != nil {
			return err
		}
		if !json.Valid(resp.Body) {
			return apperr.New(apperr.KindParse, op, "response is not JSON")
		}
		out = json.RawMessage(resp.Body)
		return nil
	})
	return out, err
}

func (c *Client) tool(ctx context.Context, name, deviceIP string, body map[string]string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.m.Run(ctx, func(ctx context.Context, h *Handle) error {
		resp, err := c.m.Do(ctx, h, Request{
			Method: http.MethodPost,
			Path:   "/device/tools/" + name + "/" + url.PathEscape(deviceIP),
			Body:   body,
		})
		if err != nil {
			return err
		}
		if !json.Valid(resp.Body) {
			return apperr.New(apperr.KindParse, "controller.remote_"+name, "response is not JSON")
		}
		out = json.RawMessage(resp.Body)
		return nil
	})
	return out, err
}

// stateViews maps each per-device view to its endpoints. Later endpoints are
// tried when an earlier one answers with an upstream error.
var stateViews = map[string][]string{
	"control":    {"/device/control/synced/connections"},
	"counters":   {"/device/counters"},
	"system":     {"/device/system/status"},
	"arp":        {"/device/arp"},
	"interfaces": {"/device/interface", "/device/interface/synced"},
}

// StateViews lists the views DeviceState accepts.
func StateViews() []string {
	views := make([]string, 0, len(stateViews))
	for v := range stateViews {
		views = append(views, v)
	}
	sort.Strings(views)
	return views
}

// DeviceState fetches one of the per-device state views: "control"
// (control connections), "counters", "system" (system status), "arp" or
// "interfaces".
func (c *Client) DeviceState(ctx context.Context, view, deviceIP string) (json.RawMessage, error) {
	const op = "controller.device_state"
	paths, ok := stateViews[view]
	if !ok {
		return nil, apperr.Validationf(op, "unknown view %q", view)
	}
	if strings.TrimSpace(deviceIP) == "" {
		return nil, apperr.Validationf(op, "device ip is required")
	}

	var out json.RawMessage
	err := c.m.Run(ctx, func(ctx context.Context, h *Handle) error {
		var resp *Response
		var err error
		for i, path := range paths {
			resp, err = c.m.Do(ctx, h, Request{
				Method: http.MethodGet,
				Path:   path,
				Query:  url.Values{"deviceId": {deviceIP}},
			})
			if err == nil || apperr.KindOf(err) != apperr.KindUpstream || i == len(paths)-1 {
				break
			}
			util.WithFields(util.Fields{"view": view, "path": path, "status": apperr.StatusOf(err)}).Debug("device state endpoint failed, trying fallback")
		}
		if err != nil {
			return err
		}
		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		if err := resp.Decode(&wrapped); err == nil && len(wrapped.Data) > 0 {
			out = wrapped.Data
			return nil
		}
		out = json.RawMessage(resp.Body)
		return nil
	})
	return out, err
}

func vpnOrDefault(v string) string {
	if strings.TrimSpace(v) == "" {
		return "0"
	}
	return v
}
