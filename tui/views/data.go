package views

import (
	"fmt"
	"strings"

	"cpi_pulse/tui/db"
	"cpi_pulse/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const seriesDepth = 13

type dataMsg struct {
	classifiers []db.Classifier
	total       int
}

type seriesMsg struct {
	code   string
	points []db.Point
}

// Data browses classifiers and shows the latest months of the selected one.
type Data struct {
	db            *db.Client
	lang          string
	width, height int
	classifiers   []db.Classifier
	points        []db.Point
	selectedRow   int
	selectedCode  string
	dbPage        int
	dbPageSize    int
	total         int
	search        string
	searching     bool
	input         string
}

func NewData(dbClient *db.Client, lang string) Data {
	return Data{db: dbClient, lang: lang, dbPageSize: 100}
}

func (d Data) Init() tea.Cmd {
	return d.Refresh()
}

func (d Data) Refresh() tea.Cmd {
	search, page, size := d.search, d.dbPage, d.dbPageSize
	return func() tea.Msg {
		items, _ := d.db.GetClassifiers(search, size, page*size)
		total, _ := d.db.CountClassifiers(search)
		return dataMsg{items, total}
	}
}

func (d Data) SetSize(w, h int) Data {
	d.width = w
	d.height = h
	return d
}

// Searching reports whether keystrokes belong to the search box.
func (d Data) Searching() bool {
	return d.searching
}

func (d Data) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dataMsg:
		d.classifiers = msg.classifiers
		d.total = msg.total
		if d.selectedRow >= len(d.classifiers) {
			d.selectedRow = 0
		}
		cmd := d.loadSelected()
		return d, cmd

	case seriesMsg:
		if msg.code == d.selectedCode {
			d.points = msg.points
		}

	case tea.KeyMsg:
		if d.searching {
			return d.updateSearch(msg)
		}
		switch msg.String() {
		case "up", "k":
			return d.moveTo(d.selectedRow - 1)
		case "down", "j":
			return d.moveTo(d.selectedRow + 1)
		case "pgdown", "ctrl+d":
			return d.moveTo(d.selectedRow + 10)
		case "pgup", "ctrl+u":
			return d.moveTo(d.selectedRow - 10)
		case "home", "g":
			return d.moveTo(0)
		case "end", "G":
			return d.moveTo(len(d.classifiers) - 1)
		case "/":
			d.searching = true
			d.input = d.search
		case "esc":
			if d.search != "" {
				d.search = ""
				d.dbPage = 0
				return d, d.Refresh()
			}
		case "[":
			if d.dbPage > 0 {
				d.dbPage--
				d.selectedRow = 0
				return d, d.Refresh()
			}
		case "]":
			if d.dbPage < d.totalPages()-1 {
				d.dbPage++
				d.selectedRow = 0
				return d, d.Refresh()
			}
		}
	}
	return d, nil
}

func (d Data) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		d.searching = false
		d.search = strings.TrimSpace(d.input)
		d.dbPage = 0
		d.selectedRow = 0
		return d, d.Refresh()
	case tea.KeyEsc:
		d.searching = false
	case tea.KeyBackspace:
		if r := []rune(d.input); len(r) > 0 {
			d.input = string(r[:len(r)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		d.input += string(msg.Runes)
	}
	return d, nil
}

func (d Data) moveTo(row int) (tea.Model, tea.Cmd) {
	if len(d.classifiers) == 0 {
		return d, nil
	}
	row = min(max(row, 0), len(d.classifiers)-1)
	if row == d.selectedRow && d.selectedCode != "" {
		return d, nil
	}
	d.selectedRow = row
	cmd := d.loadSelected()
	return d, cmd
}

// loadSelected records the selected code and fetches its latest months.
func (d *Data) loadSelected() tea.Cmd {
	if len(d.classifiers) == 0 {
		d.selectedCode = ""
		d.points = nil
		return nil
	}
	code := d.classifiers[d.selectedRow].Code
	d.selectedCode = code
	client := d.db
	return func() tea.Msg {
		points, _ := client.GetLatestIndices(code, seriesDepth)
		return seriesMsg{code, points}
	}
}

func (d Data) visibleRows() int {
	if d.height <= 0 {
		return 25
	}
	return max(d.height*60/100, 10)
}

func (d Data) totalPages() int {
	if d.dbPageSize == 0 || d.total == 0 {
		return 1
	}
	return (d.total + d.dbPageSize - 1) / d.dbPageSize
}

func (d Data) View() string {
	position := fmt.Sprintf("  %d/%d", min(d.dbPage*d.dbPageSize+d.selectedRow+1, d.total), d.total)
	pageInfo := fmt.Sprintf("  Page %d/%d", d.dbPage+1, d.totalPages())

	search := "[/] Search"
	switch {
	case d.searching:
		search = "Search: " + d.input + "█"
	case d.search != "":
		search = fmt.Sprintf("Filter: %q [esc] clear", d.search)
	}

	header := styles.Title.Render("Classifiers") +
		styles.StatValue.Render(position) +
		styles.StatLabel.Render(pageInfo) +
		"  " + styles.Muted.Render(search+"  [[ ]] Prev/Next")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		d.renderTable(),
		"",
		d.renderSeries(),
	)
}

func (d Data) renderTable() string {
	if len(d.classifiers) == 0 {
		return styles.Muted.Render("No classifiers")
	}

	labelWidth := max(d.width-26, 30)
	header := fmt.Sprintf("%-12s %-10s %s", "Code", "Parent", "Label")
	rows := styles.TableHeader.Render(header) + "\n"

	visible := d.visibleRows()
	offset := 0
	if d.selectedRow >= visible {
		offset = d.selectedRow - visible + 1
	}
	end := min(offset+visible, len(d.classifiers))

	for i := offset; i < end; i++ {
		c := d.classifiers[i]
		row := fmt.Sprintf("%-12s %-10s %s",
			truncate(c.Code, 12),
			truncate(c.ParentCode, 10),
			truncate(c.Label(d.lang), labelWidth),
		)
		if i == d.selectedRow {
			rows += styles.Selected.Render(row) + "\n"
		} else {
			rows += row + "\n"
		}
	}

	if len(d.classifiers) > visible {
		rows += styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", offset+1, end, len(d.classifiers)))
	}
	return rows
}

func (d Data) renderSeries() string {
	title := styles.Title.Render("Latest months")
	if d.selectedCode == "" || len(d.points) == 0 {
		return styles.CardBorder.Render(title + "\n" + styles.Muted.Render("No observations"))
	}

	header := fmt.Sprintf("%-8s %9s %8s", "Period", "Index", "MoM %")
	lines := []string{title + styles.Muted.Render(d.selectedCode), styles.TableHeader.Render(header)}
	for _, p := range d.points {
		mom := momPercent(p.Value)
		style := styles.StatusSuccess
		if p.Value > 100 {
			style = styles.StatusError
		}
		lines = append(lines, fmt.Sprintf("%-8s %9.2f %s", p.Period, p.Value, style.Render(fmt.Sprintf("%8s", mom))))
	}
	return styles.JobCardBorder.Render(strings.Join(lines, "\n"))
}
