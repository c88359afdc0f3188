// Package tui provides the terminal dashboard.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/edgegate/internal/daemon"
	"github.com/user/edgegate/internal/storage"
	"github.com/user/edgegate/internal/util"
)

const (
	refreshInterval = 5 * time.Second
	recentLimit     = 10
)

// Source loads the dashboard contents.
type Source func() (*DashboardData, error)

// App is the terminal dashboard.
type App struct {
	load Source
}

// NewApp creates a dashboard reading the server status file and history.
func NewApp(history *storage.HistoryStore, cfg *util.Config) *App {
	return &App{load: StoreSource(history, cfg)}
}

// Run starts the dashboard and blocks until the user quits.
func (a *App) Run() error {
	p := tea.NewProgram(newModel(a.load), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// StoreSource reads server state from the PID and status files and history
// from the store.
func StoreSource(history *storage.HistoryStore, cfg *util.Config) Source {
	return func() (*DashboardData, error) {
		data := &DashboardData{LoadedAt: time.Now()}

		data.Running, data.PID = daemon.CheckRunning(cfg.PIDPath())
		if data.Running {
			if st, err := daemon.ReadStatusFile(cfg.StatusPath()); err == nil {
				data.Status = st
			}
		}

		stats, err := history.Stats()
		if err != nil {
			return nil, err
		}
		data.Stats = stats

		recent, err := history.List("", "", recentLimit)
		if err != nil {
			return nil, err
		}
		data.Recent = recent
		return data, nil
	}
}

type appModel struct {
	load      Source
	dashboard *Dashboard
	spinner   spinner.Model
	ready     bool
	width     int
	height    int
	err       error
}

func newModel(load Source) appModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(Primary)

	return appModel{
		load:    load,
		spinner: s,
	}
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadData(m.load),
	)
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, loadData(m.load)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.dashboard != nil {
			m.dashboard.SetSize(msg.Width, msg.Height)
		}

	case dataMsg:
		m.ready = true
		m.err = nil
		m.dashboard = NewDashboard(msg.Data, m.width, m.height)
		return m, scheduleRefresh()

	case refreshMsg:
		return m, loadData(m.load)

	case errMsg:
		m.err = msg.err
		return m, scheduleRefresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m appModel) View() string {
	if m.err != nil {
		return ErrorStyle.Render("Error: " + m.err.Error())
	}
	if !m.ready {
		return LoadingStyle.Render(m.spinner.View() + " Loading...")
	}
	return m.dashboard.View()
}

type dataMsg struct {
	Data *DashboardData
}

type errMsg struct {
	err error
}

type refreshMsg struct{}

func loadData(load Source) tea.Cmd {
	return func() tea.Msg {
		data, err := load()
		if err != nil {
			return errMsg{err}
		}
		return dataMsg{Data: data}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}
