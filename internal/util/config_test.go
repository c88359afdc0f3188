package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
data_dir: ` + dir + `
log_level: debug
controller:
  host: vmanage.example.net
  port: 8443
  username: admin
  tenant: t1
  session_ttl: 10m
cache:
  ttl_5min: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "vmanage.example.net", cfg.Controller.Host)
	assert.Equal(t, 8443, cfg.Controller.Port)
	assert.Equal(t, 10*time.Minute, cfg.Controller.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL5Min)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL1Hr)
	assert.Equal(t, 22, cfg.Device.Port)
	assert.True(t, cfg.Controller.Configured())
	assert.Equal(t, filepath.Join(dir, "edgegate.db"), cfg.DBPath())
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: "+dir+"\n"), 0644))
	t.Setenv("EDGEGATE_CONTROLLER_USERNAME", "ops")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Controller.Username)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
