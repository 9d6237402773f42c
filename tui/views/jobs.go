package views

import (
	"fmt"
	"strings"
	"time"

	"cpi_pulse/tui/db"
	"cpi_pulse/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type jobsMsg struct {
	jobs []db.Job
	err  error
}

// Jobs lists refresh job history with the selected job's details.
type Jobs struct {
	db            *db.Client
	width, height int
	jobs          []db.Job
	selectedRow   int
	err           error
}

func NewJobs(dbClient *db.Client) Jobs {
	return Jobs{db: dbClient}
}

func (j Jobs) Init() tea.Cmd {
	return j.Refresh()
}

func (j Jobs) Refresh() tea.Cmd {
	return func() tea.Msg {
		jobs, err := j.db.GetRecentJobs(50)
		return jobsMsg{jobs, err}
	}
}

func (j Jobs) SetSize(w, h int) Jobs {
	j.width = w
	j.height = h
	return j
}

func (j Jobs) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case jobsMsg:
		j.err = msg.err
		if msg.err == nil {
			j.jobs = msg.jobs
		}
		if j.selectedRow >= len(j.jobs) {
			j.selectedRow = max(len(j.jobs)-1, 0)
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			j.selectedRow = max(j.selectedRow-1, 0)
		case "down", "j":
			j.selectedRow = min(j.selectedRow+1, max(len(j.jobs)-1, 0))
		case "home", "g":
			j.selectedRow = 0
		case "end", "G":
			j.selectedRow = max(len(j.jobs)-1, 0)
		}
	}
	return j, nil
}

func (j Jobs) View() string {
	parts := []string{styles.Title.Render("Refresh Jobs")}
	if j.err != nil {
		parts = append(parts, styles.StatusError.Render("db: "+j.err.Error()))
	}
	parts = append(parts, j.renderTable(), "", j.renderDetail())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (j Jobs) renderTable() string {
	if len(j.jobs) == 0 {
		return styles.Muted.Render("No jobs yet")
	}

	header := fmt.Sprintf("%-8s %-8s %-19s %5s %11s %9s  %s",
		"Job", "Status", "Started", "Pct", "Rows", "Took", "Source")
	rows := styles.TableHeader.Render(header) + "\n"

	visible := 20
	if j.height > 0 {
		visible = max(j.height/2, 5)
	}
	offset := 0
	if j.selectedRow >= visible {
		offset = j.selectedRow - visible + 1
	}
	end := min(offset+visible, len(j.jobs))

	for i := offset; i < end; i++ {
		job := j.jobs[i]
		took := job.Duration().Round(time.Second).String()
		if job.Active() {
			took = "…" + took
		}
		line := fmt.Sprintf("%-8s %s %-19s %4d%% %11s %9s  %s",
			shortID(job.ID),
			styles.ForStatus(job.Status).Render(fmt.Sprintf("%-8s", job.Status)),
			job.StartedAt.Local().Format("2006-01-02 15:04:05"),
			job.Progress,
			fmt.Sprintf("%d/%d", job.ProcessedRows, job.TotalRows),
			took,
			truncate(job.Source, max(j.width-72, 16)),
		)
		if i == j.selectedRow {
			line = styles.Selected.Render(line)
		}
		rows += line + "\n"
	}
	return rows
}

func (j Jobs) renderDetail() string {
	if len(j.jobs) == 0 {
		return ""
	}
	job := j.jobs[j.selectedRow]

	lines := []string{
		styles.StatValue.Render(job.ID),
		progressBar(job.Progress, 40) + fmt.Sprintf(" %3d%%", job.Progress),
		styles.StatLabel.Render("Source: ") + job.Source,
	}
	if job.ETASeconds != nil && job.Active() {
		lines = append(lines, styles.StatLabel.Render("ETA: ")+formatSeconds(*job.ETASeconds))
	}
	if job.CompletedAt != nil {
		lines = append(lines, styles.StatLabel.Render("Completed: ")+job.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if job.ErrorMessage != "" {
		lines = append(lines, styles.StatusError.Render("Error: "+job.ErrorMessage))
	}
	return styles.JobCardBorder.Width(max(j.width-4, 40)).Render(strings.Join(lines, "\n"))
}
