package styles

import "github.com/charmbracelet/lipgloss"

var (
	accent  = lipgloss.Color("#7D56F4")
	muted   = lipgloss.Color("#6C6C6C")
	success = lipgloss.Color("#04B575")
	warning = lipgloss.Color("#E5C07B")
	danger  = lipgloss.Color("#E06C75")

	Title = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginRight(1)

	TabActive = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(accent).
			Padding(0, 2)
	TabInactive = lipgloss.NewStyle().Foreground(muted).Padding(0, 2)

	CardBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1).
			Align(lipgloss.Center)
	JobCardBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(warning).
			Padding(0, 1)
	LogBox = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(muted).
		Padding(0, 1)

	StatValue = lipgloss.NewStyle().Bold(true)
	StatLabel = lipgloss.NewStyle().Foreground(muted)

	TableHeader = lipgloss.NewStyle().Bold(true).Underline(true)
	Selected    = lipgloss.NewStyle().Background(lipgloss.Color("#3C3C3C")).Bold(true)
	Muted       = lipgloss.NewStyle().Foreground(muted)

	StatusSuccess = lipgloss.NewStyle().Foreground(success)
	StatusPending = lipgloss.NewStyle().Foreground(warning)
	StatusError   = lipgloss.NewStyle().Foreground(danger)

	LogTimestamp = lipgloss.NewStyle().Foreground(muted)
	LogInfo      = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF"))

	StatusBar    = lipgloss.NewStyle().Foreground(muted).Padding(0, 1)
	Notification = lipgloss.NewStyle().Bold(true).Foreground(success).Padding(0, 1)
)

// ForStatus colours job and run statuses.
func ForStatus(status string) lipgloss.Style {
	switch status {
	case "SUCCESS":
		return StatusSuccess
	case "ERROR":
		return StatusError
	default:
		return StatusPending
	}
}
