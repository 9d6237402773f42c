package main

import (
	"fmt"
	"os"
	"time"

	"cpi_pulse/tui/admin"
	"cpi_pulse/tui/db"
	"cpi_pulse/tui/styles"
	"cpi_pulse/tui/views"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
)

type tab int

const (
	tabDashboard tab = iota
	tabData
	tabJobs
)

type model struct {
	admin         *admin.Client
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time

	dashboard views.Dashboard
	data      views.Data
	jobs      views.Jobs
}

type tickMsg time.Time
type logTickMsg time.Time

type refreshSentMsg struct {
	jobID string
	err   error
}

func initialModel(dbClient *db.Client, adminClient *admin.Client, logPath, lang string) model {
	return model{
		admin:     adminClient,
		activeTab: tabDashboard,
		dashboard: views.NewDashboard(dbClient, logPath),
		data:      views.NewData(dbClient, lang),
		jobs:      views.NewJobs(dbClient),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.data.Init(),
		m.jobs.Init(),
		tickCmd(5*time.Second),
		logTickCmd(),
	)
}

func tickCmd(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

// pollInterval is short while a refresh runs so progress moves visibly.
func (m model) pollInterval() time.Duration {
	if m.dashboard.HasActiveJob() {
		return time.Second
	}
	return 5 * time.Second
}

func (m model) notify(msg string) model {
	m.notification = msg
	m.notifyUntil = time.Now().Add(3 * time.Second)
	return m
}

func (m model) sendRefresh() tea.Cmd {
	client := m.admin
	return func() tea.Msg {
		id, err := client.RefreshNow()
		return refreshSentMsg{id, err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.activeTab == tabData && m.data.Searching() {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
		case "c":
			m.activeTab = tabData
		case "J":
			m.activeTab = tabJobs
		case "tab":
			m.activeTab = (m.activeTab + 1) % 3
		case "r":
			m = m.notify("Refreshed")
			return m, m.refreshActive()
		case "s":
			if !m.admin.Enabled() {
				m = m.notify("Set API_URL and ADMIN_KEY to trigger refreshes")
				return m, nil
			}
			return m.notify("Requesting refresh..."), m.sendRefresh()
		}

	case refreshSentMsg:
		if msg.err != nil {
			m = m.notify(msg.err.Error())
		} else {
			m = m.notify("Refresh queued: " + msg.jobID)
		}
		return m, tea.Batch(m.dashboard.Refresh(), m.jobs.Refresh())

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.data = m.data.SetSize(msg.Width, msg.Height-4)
		m.jobs = m.jobs.SetSize(msg.Width, msg.Height-4)

	case tickMsg:
		cmds = append(cmds, m.dashboard.Refresh(), tickCmd(m.pollInterval()))
		if m.activeTab == tabJobs {
			cmds = append(cmds, m.jobs.Refresh())
		}

	case logTickMsg:
		cmds = append(cmds, m.dashboard.RefreshLog(), logTickCmd())
	}

	// Keys go to the active tab only; data messages go to every view.
	switch msg.(type) {
	case tea.KeyMsg:
		switch m.activeTab {
		case tabDashboard:
			next, cmd := m.dashboard.Update(msg)
			m.dashboard = next.(views.Dashboard)
			cmds = append(cmds, cmd)
		case tabData:
			next, cmd := m.data.Update(msg)
			m.data = next.(views.Data)
			cmds = append(cmds, cmd)
		case tabJobs:
			next, cmd := m.jobs.Update(msg)
			m.jobs = next.(views.Jobs)
			cmds = append(cmds, cmd)
		}
	default:
		nextDash, cmd1 := m.dashboard.Update(msg)
		m.dashboard = nextDash.(views.Dashboard)

		nextData, cmd2 := m.data.Update(msg)
		m.data = nextData.(views.Data)

		nextJobs, cmd3 := m.jobs.Update(msg)
		m.jobs = nextJobs.(views.Jobs)

		cmds = append(cmds, cmd1, cmd2, cmd3)
	}

	return m, tea.Batch(cmds...)
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabData:
		return m.data.Refresh()
	case tabJobs:
		return m.jobs.Refresh()
	}
	return nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderTabs(),
		m.renderContent(),
		m.renderStatusBar(),
	)
}

func (m model) renderTabs() string {
	names := []string{"Dashboard", "Classifiers", "Jobs"}
	var rendered []string
	for i, name := range names {
		if tab(i) == m.activeTab {
			rendered = append(rendered, styles.TabActive.Render(name))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.View()
	case tabData:
		return m.data.View()
	case tabJobs:
		return m.jobs.View()
	}
	return ""
}

func (m model) renderStatusBar() string {
	left := "d Dash  c Classifiers  J Jobs  r Reload  s Refresh data  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = styles.Notification.Render(m.notification)
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)
	return styles.StatusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	_ = godotenv.Load()

	dbClient, err := db.New(os.Getenv("DATABASE_URL"), getEnv("DB_PATH", "cpi.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	adminClient := admin.New(getEnv("API_URL", "http://localhost:8080"), os.Getenv("ADMIN_KEY"))

	p := tea.NewProgram(
		initialModel(dbClient, adminClient, getEnv("LOG_PATH", "cpi.log"), getEnv("TUI_LANG", "uz")),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
