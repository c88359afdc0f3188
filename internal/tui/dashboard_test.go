package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/storage"
	"github.com/user/edgegate/internal/util"
)

func sampleData() *DashboardData {
	return &DashboardData{
		Running: true,
		PID:     4242,
		Status: &model.DaemonStatus{
			Listen:       "127.0.0.1:8080",
			Uptime:       "1h0m0s",
			Controller:   "vmanage.example.net:443",
			SessionState: "active",
			CacheEntries: 3,
			Jobs: []model.JobStatus{
				{Name: "cache_sweep", Interval: time.Minute, ErrorCount: 2},
			},
		},
		Stats: []model.HistoryStats{{Tool: "ping", Total: 4, Succeeded: 3, Targets: 2}},
		Recent: []model.HistoryEntry{
			{Tool: "ping", Target: "10.0.0.1", Success: true, Summary: "4/4 received"},
		},
		LoadedAt: time.Now(),
	}
}

func TestDashboardView(t *testing.T) {
	view := NewDashboard(sampleData(), 100, 40).View()

	assert.Contains(t, view, "running (PID 4242)")
	assert.Contains(t, view, "vmanage.example.net:443")
	assert.Contains(t, view, "cache_sweep")
	assert.Contains(t, view, "3/4 ok, 2 targets")
	assert.Contains(t, view, "4/4 received")
}

func TestDashboardViewStopped(t *testing.T) {
	view := NewDashboard(&DashboardData{}, 80, 24).View()

	assert.Contains(t, view, "stopped")
	assert.Contains(t, view, "No runs recorded yet")
	assert.NotContains(t, view, "Jobs")
}

func TestRenderBar(t *testing.T) {
	assert.Contains(t, RenderBar(5, 10, 10), "█████░░░░░")
	assert.Contains(t, RenderBar(20, 10, 4), "████")
	assert.Contains(t, RenderBar(0, 0, 3), "░░░")
}

func TestModelUpdate(t *testing.T) {
	calls := 0
	m := newModel(func() (*DashboardData, error) {
		calls++
		return sampleData(), nil
	})
	assert.Contains(t, m.View(), "Loading")

	next, cmd := m.Update(loadData(m.load)())
	require.NotNil(t, cmd)
	m = next.(appModel)
	assert.True(t, m.ready)
	assert.Contains(t, m.View(), "4242")
	assert.Equal(t, 1, calls)

	next, _ = m.Update(errMsg{errors.New("database is locked")})
	assert.Contains(t, next.View(), "database is locked")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestStoreSource(t *testing.T) {
	cfg := util.DefaultConfig()
	cfg.DataDir = t.TempDir()

	db, err := storage.Open(cfg.DBPath())
	require.NoError(t, err)
	defer db.Close()
	store := storage.NewHistoryStore(db)
	_, err = store.Record(&model.PingResult{Host: "10.0.0.1", PacketsSent: 1, PacketsReceived: 1, Success: true}, nil)
	require.NoError(t, err)

	data, err := StoreSource(store, cfg)()
	require.NoError(t, err)
	assert.False(t, data.Running)
	assert.Nil(t, data.Status)
	require.Len(t, data.Recent, 1)
	require.Len(t, data.Stats, 1)
	assert.Equal(t, "ping", data.Stats[0].Tool)
}
