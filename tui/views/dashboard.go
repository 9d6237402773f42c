package views

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"cpi_pulse/tui/db"
	"cpi_pulse/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type dashboardDataMsg struct {
	summary *db.Summary
	active  *db.Job
	runs    []db.Run
	err     error
}

type logTailMsg struct {
	lines        []string
	modTime      time.Time
	daemonActive bool
}

type Dashboard struct {
	db            *db.Client
	width, height int
	summary       *db.Summary
	active        *db.Job
	runs          []db.Run
	err           error
	logLines      []string
	logPath       string
	logScroll     int // 0 = newest
	logViewport   int
	logBuffer     int
	logModTime    time.Time
	daemonActive  bool
}

func NewDashboard(dbClient *db.Client, logPath string) Dashboard {
	if logPath == "" {
		logPath = "cpi.log"
	}
	return Dashboard{
		db:          dbClient,
		logPath:     logPath,
		logViewport: 20,
		logBuffer:   200,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.RefreshLog())
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		summary, err := d.db.GetSummary()
		if err != nil {
			return dashboardDataMsg{err: err}
		}
		active, err := d.db.GetActiveJob()
		if err != nil {
			return dashboardDataMsg{err: err}
		}
		runs, err := d.db.GetRecentRuns(8)
		return dashboardDataMsg{summary: summary, active: active, runs: runs, err: err}
	}
}

func (d Dashboard) RefreshLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(d.logPath, d.logBuffer)
		return logTailMsg{lines, modTime, isDaemonActive()}
	}
}

// HasActiveJob reports whether the last poll saw a PENDING or RUNNING job.
func (d Dashboard) HasActiveJob() bool {
	return d.active != nil
}

func isDaemonActive() bool {
	out, err := exec.Command("systemctl", "is-active", "cpi_pulse").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if len(all) == 0 {
		return []string{"(empty log)"}, info.ModTime()
	}

	start := max(len(all)-n, 0)
	return all[start:], info.ModTime()
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.err = msg.err
		if msg.err == nil {
			d.summary = msg.summary
			d.active = msg.active
			d.runs = msg.runs
		}
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
		d.daemonActive = msg.daemonActive
	case tea.KeyMsg:
		maxScroll := max(len(d.logLines)-d.logViewport, 0)
		switch msg.String() {
		case "up", "k":
			d.logScroll = min(d.logScroll+1, maxScroll)
		case "down", "j":
			d.logScroll = max(d.logScroll-1, 0)
		case "pgup":
			d.logScroll = min(d.logScroll+10, maxScroll)
		case "pgdown":
			d.logScroll = max(d.logScroll-10, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	parts := []string{styles.Title.Render("CPI Pulse")}
	if d.err != nil {
		parts = append(parts, styles.StatusError.Render("db: "+d.err.Error()))
	}
	parts = append(parts,
		d.renderStatCards(),
		"",
		d.renderActiveJob(),
		"",
		styles.Title.Render("Ingestion Runs"),
		d.renderRunsTable(),
		"",
		d.renderLogTail(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (d Dashboard) renderStatCards() string {
	if d.summary == nil {
		return styles.Muted.Render("loading...")
	}
	s := d.summary

	lastRefresh := "never"
	if s.LastSuccess != nil {
		lastRefresh = relativeTime(*s.LastSuccess)
	}
	periods := "-"
	if s.PeriodMin != "" {
		periods = s.PeriodMin + ".." + s.PeriodMax
	}

	cards := []string{
		renderStatCard("Classifiers", fmt.Sprintf("%d", s.Classifiers), 16),
		renderStatCard("Indices", fmt.Sprintf("%d", s.Indices), 16),
		renderStatCard("Periods", periods, 20),
		renderStatCard("Last refresh", lastRefresh, 16),
		renderStatCard("Rows loaded", fmt.Sprintf("%d", s.RowsLoaded), 16),
		renderStatCard("Failed runs", fmt.Sprintf("%d", s.FailedRuns), 16),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderStatCard(label, value string, width int) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.StatValue.Render(value),
		styles.StatLabel.Render(label),
	)
	return styles.CardBorder.Width(width).Render(content)
}

func (d Dashboard) renderActiveJob() string {
	if d.active == nil {
		return styles.Muted.Render("No refresh in progress")
	}
	j := d.active

	eta := "-"
	if j.ETASeconds != nil {
		eta = formatSeconds(*j.ETASeconds)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		styles.StatValue.Render("Refresh "+shortID(j.ID))+" "+styles.ForStatus(j.Status).Render(j.Status),
		progressBar(j.Progress, 40)+fmt.Sprintf(" %3d%%", j.Progress),
		styles.StatLabel.Render(fmt.Sprintf("Rows %d/%d  ETA %s  Elapsed %s",
			j.ProcessedRows, j.TotalRows, eta, j.Duration().Round(time.Second))),
		styles.Muted.Render(truncate(j.Source, 60)),
	)
	return styles.JobCardBorder.Render(content)
}

func (d Dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	header := fmt.Sprintf("%-6s %-8s %-19s %8s  %s", "ID", "Status", "Fetched", "Rows", "Source / Error")
	rows := styles.TableHeader.Render(header) + "\n"

	detailWidth := max(d.width-48, 20)
	for _, r := range d.runs {
		detail := r.SourceURL
		if r.ErrorMessage != "" {
			detail = r.ErrorMessage
		}
		rows += fmt.Sprintf("%-6d %s %-19s %8d  %s\n",
			r.ID,
			styles.ForStatus(r.Status).Render(fmt.Sprintf("%-8s", r.Status)),
			r.FetchedAt.Local().Format("2006-01-02 15:04:05"),
			r.RowsLoaded,
			truncate(detail, detailWidth),
		)
	}
	return rows
}

func (d Dashboard) renderLogTail() string {
	if len(d.logLines) == 0 {
		return styles.LogBox.Width(max(d.width-4, 20)).Render(styles.Muted.Render("(waiting for logs...)"))
	}

	total := len(d.logLines)
	endIdx := min(total-d.logScroll, total)
	startIdx := max(endIdx-d.logViewport, 0)
	maxLineWidth := d.width - 8

	var lines []string
	for _, line := range d.logLines[startIdx:endIdx] {
		lines = append(lines, styleLogLine(line, maxLineWidth))
	}

	var indicator string
	switch {
	case !d.daemonActive:
		indicator = styles.StatusError.Render(" ● STOPPED ")
	case d.logScroll > 0:
		indicator = styles.StatusPending.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	default:
		indicator = styles.StatusSuccess.Render(" ● LIVE ")
	}

	header := styles.Title.Render("Log") + indicator +
		styles.Muted.Render(fmt.Sprintf("[%d-%d/%d]", startIdx+1, endIdx, total))
	return styles.LogBox.Width(max(d.width-4, 20)).Render(header + "\n" + strings.Join(lines, "\n"))
}

// styleLogLine colours the standard logger's "2006/01/02 15:04:05" prefix
// and highlights failures.
func styleLogLine(line string, maxWidth int) string {
	line = truncate(line, maxWidth)

	ts, rest := "", line
	if len(line) > 19 && line[4] == '/' && line[10] == ' ' {
		ts, rest = line[:19], line[19:]
	}

	lower := strings.ToLower(rest)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		rest = styles.StatusError.Render(rest)
	case strings.Contains(lower, "warn") || strings.Contains(lower, "skip"):
		rest = styles.StatusPending.Render(rest)
	case strings.Contains(rest, "[job "):
		rest = styles.LogInfo.Render(rest)
	}
	if ts == "" {
		return rest
	}
	return styles.LogTimestamp.Render(ts) + rest
}
