package vmanage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/vmanage/vmanagetest"
)

func TestClient_EdgeDevicesFiltersByType(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.Devices = []map[string]interface{}{
		{"system-ip": "1.1.1.1", "host-name": "vmanage", "device-type": "vmanage"},
		{"system-ip": "10.0.0.1", "host-name": "edge1", "device-type": "vedge"},
		{"systemIp": "10.0.0.2", "hostName": "edge2", "personality": "cedge"},
	}
	c := NewClient(newTestManager(t, srv, ProfileOptions{}))

	all, err := c.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	edges, err := c.EdgeDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "10.0.0.2", edges[1].SystemIP)
	assert.Equal(t, "edge2", edges[1].HostName)
}

func TestClient_RemotePing(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	c := NewClient(newTestManager(t, srv, ProfileOptions{}))

	raw, err := c.RemotePing(context.Background(), RemoteToolRequest{DeviceIP: "10.0.0.1", Target: "8.8.8.8"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "ping", out["tool"])
	req := out["request"].(map[string]interface{})
	assert.Equal(t, "0", req["vpn"])
	assert.Equal(t, "5", req["count"])

	_, err = c.RemoteTraceroute(context.Background(), RemoteToolRequest{DeviceIP: "not-an-ip", Target: "8.8.8.8"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 1, srv.ToolCalls())
}

func TestClient_DeviceState(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	c := NewClient(newTestManager(t, srv, ProfileOptions{}))

	raw, err := c.DeviceState(context.Background(), "system", "10.0.0.1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "10.0.0.1")

	_, err = c.DeviceState(context.Background(), "bogus", "10.0.0.1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestStatsAPI_BodyCarriesFiltersAndHistogram(t *testing.T) {
	api := NewStatsAPI(nil)
	end := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := model.StatQuery{
		DeviceID:  "10.0.0.1",
		Metric:    model.MetricInterface,
		Interval:  model.Interval5Min,
		Range:     model.TimeRange{Start: end.Add(-time.Hour), End: end},
		Interface: "ge0/0",
	}

	b, err := json.Marshal(api.Body(q))
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `"histogram":{"property":"entry_time","type":"minute","interval":5,"order":"asc"}`)
	assert.Contains(t, s, `"field":"vdevice_name"`)
	assert.Contains(t, s, `"field":"interface","type":"string","operator":"in","value":["ge0/0"]`)
	assert.Equal(t, "/statistics/interface/aggregation", api.Path(q.Metric))

	q.Metric = model.MetricTunnel
	q.Interval = model.Interval1Day
	b, err = json.Marshal(api.Body(q))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"hour","interval":24`)
	assert.Contains(t, string(b), `"field":"local_system_ip"`)
	assert.Equal(t, "/statistics/approute/fec/aggregation", api.Path(q.Metric))
}

func TestClient_DeviceStateARPAndInterfaces(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	c := NewClient(newTestManager(t, srv, ProfileOptions{}))

	raw, err := c.DeviceState(context.Background(), "arp", "10.0.0.1")
	require.NoError(t, err)
	var arp []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &arp))
	require.Len(t, arp, 1)
	assert.Equal(t, "10.0.0.254", arp[0]["ip"])

	raw, err = c.DeviceState(context.Background(), "interfaces", "10.0.0.1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"synced":false`)

	srv.LegacyInterfaces = true
	raw, err = c.DeviceState(context.Background(), "interfaces", "10.0.0.1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"synced":true`, "falls back to the synced endpoint")

	assert.Equal(t, []string{"arp", "control", "counters", "interfaces", "system"}, StateViews())
}

func TestClient_RemoteNslookup(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	c := NewClient(newTestManager(t, srv, ProfileOptions{}))

	raw, err := c.RemoteNslookup(context.Background(), NslookupRequest{DeviceIP: "10.0.0.1", Host: "example.com"})
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "example.com", out["host"])
	assert.Equal(t, "0", out["vpn"])
	assert.Equal(t, "8.8.8.8", out["dns"])

	for _, r := range []NslookupRequest{
		{DeviceIP: "edge1", Host: "example.com"},
		{DeviceIP: "10.0.0.1", Host: "-x"},
		{DeviceIP: "10.0.0.1", Host: "example.com", DNS: "resolver"},
	} {
		_, err := c.RemoteNslookup(context.Background(), r)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "%+v", r)
	}
	assert.Equal(t, 1, srv.ToolCalls())
}

func TestClient_RunningConfigTemplatesPolicies(t *testing.T) {
	srv := vmanagetest.New()
	defer srv.Close()
	srv.RunningConfigs = map[string]string{"uuid-1": "system\n host-name edge1\n"}
	srv.Templates = []map[string]interface{}{{"templateId": "tpl-1", "templateName": "branch"}}
	c := NewClient(newTestManager(t, srv, ProfileOptions{}))

	cfg, err := c.RunningConfig(context.Background(), "uuid-1")
	require.NoError(t, err)
	assert.Equal(t, "system\n host-name edge1\n", cfg)

	_, err = c.RunningConfig(context.Background(), "uuid-9")
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.Equal(t, 404, apperr.StatusOf(err))

	_, err = c.RunningConfig(context.Background(), " ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	templates, err := c.Templates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "branch", templates[0]["templateName"])

	policies, err := c.Policies(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, policies)
	assert.Empty(t, policies)
}
