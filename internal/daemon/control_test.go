package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/model"
)

func TestStatusFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	in := &model.DaemonStatus{
		Running:      true,
		PID:          4242,
		StartTime:    start,
		Uptime:       "5m0s",
		Listen:       "127.0.0.1:8080",
		Controller:   "admin@vmanage.example.net:443",
		SessionState: "active",
		CacheEntries: 3,
		Jobs:         []model.JobStatus{{Name: "cache_sweep", Interval: time.Minute, ErrorCount: 1}},
	}
	require.NoError(t, WriteStatusFile(path, in))

	out, err := ReadStatusFile(path)
	require.NoError(t, err)
	assert.True(t, start.Equal(out.StartTime))
	out.StartTime = in.StartTime
	assert.Equal(t, in, out)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadStatusFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadStatusFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = ReadStatusFile(bad)
	assert.ErrorContains(t, err, "failed to parse status file")
}

func TestCheckRunning(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "edgegate.pid")

	running, _ := CheckRunning(pidFile)
	assert.False(t, running)

	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0644))
	running, _ = CheckRunning(pidFile)
	assert.False(t, running)

	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))
	running, pid := CheckRunning(pidFile)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func TestSendStopWhenNotRunning(t *testing.T) {
	err := SendStop(filepath.Join(t.TempDir(), "edgegate.pid"))
	assert.EqualError(t, err, "daemon is not running")
}
