package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

func TestParsePorts(t *testing.T) {
	ports, err := parsePorts("443, 22,80-82,22")
	require.NoError(t, err)
	assert.Equal(t, []int{22, 80, 81, 82, 443}, ports)

	for _, bad := range []string{"", "abc", "90-80", "0", "70000", "1-x"} {
		_, err := parsePorts(bad)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), bad)
	}
}

func TestFormatRecord(t *testing.T) {
	line := formatRecord(map[string]interface{}{
		"timestamp": "2026-10-01T00:00:00Z",
		"tx_kbps":   2.5,
		"interface": "ge0/0",
	})
	assert.True(t, strings.Index(line, "interface") < strings.Index(line, "tx_kbps"))
	assert.Contains(t, line, "2026-10-01T00:00:00Z")
}

func TestFormatHop(t *testing.T) {
	assert.Contains(t, formatHop(model.TraceHop{HopNum: 3, Lost: true}), "*")
	line := formatHop(model.TraceHop{HopNum: 1, Hostname: "gw.lan", IP: "192.168.1.1", RTTs: []float64{0.5}})
	assert.Contains(t, line, "gw.lan (192.168.1.1)")
	assert.Contains(t, line, "0.500 ms")
}

func TestNewAppWithoutController(t *testing.T) {
	c := util.DefaultConfig()
	c.DataDir = t.TempDir()

	a, err := newApp(c)
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.sessions)
	assert.Error(t, a.requireController())

	deps := a.webDeps(nil, nil)
	assert.Nil(t, deps.Stats)
	assert.NotNil(t, deps.History)
}

func TestNewAppWithController(t *testing.T) {
	c := util.DefaultConfig()
	c.DataDir = t.TempDir()
	c.Controller.Host = "vmanage.example.net"
	c.Controller.Username = "admin"
	c.Controller.Password = "secret"

	a, err := newApp(c)
	require.NoError(t, err)
	defer a.close()

	require.NoError(t, a.requireController())
	assert.Same(t, a.sessions, a.registry.Get(a.sessions.Profile()))
	assert.NotNil(t, a.webDeps(nil, nil).Stats)
	assert.Equal(t, 0, a.stats.CacheLen())
}

func TestRecordSkipsValidationFailures(t *testing.T) {
	c := util.DefaultConfig()
	c.DataDir = t.TempDir()
	a, err := newApp(c)
	require.NoError(t, err)
	defer a.close()

	a.record(&model.PingResult{Host: "bad host"}, apperr.Validationf("diag.ping", "bad host"))
	a.record(&model.PingResult{Host: "10.0.0.1", PacketsSent: 1, PacketsReceived: 1, Success: true}, nil)

	entries, err := a.history.List("", "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.1", entries[0].Target)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"90m": 90 * time.Minute,
		"24h": 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
		"2w":  14 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := parseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "d", "xd", "-1h", "0s"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestReadConfigLines(t *testing.T) {
	in := "! uplink\ninterface GigabitEthernet1\n description uplink \r\n\n   \n !\n no shutdown\n"
	lines, err := readConfigLines(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"interface GigabitEthernet1", " description uplink", " no shutdown"}, lines)
}

func TestSSHFlagsRequest(t *testing.T) {
	t.Setenv("EDGEGATE_DEVICE_PASSWORD", "from-env")
	f := sshFlags{user: "admin", port: 2222, deviceType: "juniper"}
	req := f.request("10.0.0.1")
	assert.Equal(t, "from-env", req.Password)
	assert.Equal(t, 2222, req.Port)
	assert.Equal(t, "juniper", req.DeviceType)

	f.password = "flag"
	assert.Equal(t, "flag", f.request("10.0.0.1").Password)
}

func TestSummarizeRow(t *testing.T) {
	line := summarizeRow(map[string]interface{}{
		"templateId":      "t-1",
		"templateName":    "branch",
		"devicesAttached": 3,
		"factoryDefault":  false,
		"nested":          map[string]interface{}{"a": 1},
	})
	assert.True(t, strings.HasPrefix(line, "templateName=branch templateId=t-1"))
	assert.Contains(t, line, "devicesAttached=3 factoryDefault=false")
	assert.NotContains(t, line, "nested")
}
