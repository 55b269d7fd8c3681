// Package monitor renders reconciliation progress in the terminal.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/shelve/internal/indexer"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// ProgressMsg reports items processed so far.
type ProgressMsg struct {
	Processed int
	Total     int
}

// DoneMsg ends the pass.
type DoneMsg struct {
	Report *indexer.Report
	Err    error
}

// Model is the bubbletea model for one reconciliation pass.
type Model struct {
	bar       progress.Model
	processed int
	total     int
	started   time.Time
	report    *indexer.Report
	err       error
	done      bool
	quitting  bool
}

// NewModel returns a model with an empty bar.
func NewModel() Model {
	return Model{
		bar: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		started: time.Now(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case ProgressMsg:
		m.processed, m.total = msg.Processed, msg.Total
	case DoneMsg:
		m.report, m.err, m.done = msg.Report, msg.Err, true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		if w := msg.Width - 20; w > 10 && w < 80 {
			m.bar.Width = w
		}
	}
	return m, nil
}

// Percent is the completed share in [0, 1].
func (m Model) Percent() float64 {
	if m.total == 0 {
		if m.done {
			return 1
		}
		return 0
	}
	return float64(m.processed) / float64(m.total)
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("shelve sync"))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("items "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d/%d", m.processed, m.total)))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s", time.Since(m.started).Round(time.Second))))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render("✗ " + m.err.Error()))
		b.WriteString("\n")
	case m.done:
		b.WriteString(healthyStyle.Render("✓ done"))
		b.WriteString("\n")
		b.WriteString(Summary(m.report))
	case m.quitting:
		b.WriteString(dimStyle.Render("cancelling..."))
		b.WriteString("\n")
	default:
		b.WriteString(dimStyle.Render("press q to cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

// Summary formats a report as aligned label/value lines.
func Summary(r *indexer.Report) string {
	if r == nil {
		return ""
	}
	rows := [][2]string{
		{"live items", fmt.Sprint(r.LiveItems)},
		{"orphans deleted", fmt.Sprint(r.Orphans)},
		{"folders embedded", fmt.Sprint(r.Containers)},
		{"bookmarks embedded", fmt.Sprint(r.Leaves)},
		{"without content", fmt.Sprint(r.NoContent)},
		{"records written", fmt.Sprint(r.Written)},
		{"took", r.Duration.Round(time.Millisecond).String()},
	}
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-20s", row[0])))
		b.WriteString(valueStyle.Render(row[1]))
		b.WriteString("\n")
	}
	return b.String()
}

// ReconcileFunc runs one pass, reporting progress.
type ReconcileFunc func(ctx context.Context, onProgress indexer.ProgressFunc) (*indexer.Report, error)

// Run drives run under a progress UI written to out. Quitting the UI cancels
// the pass. input may be nil to disable keyboard handling.
func Run(ctx context.Context, run ReconcileFunc, in io.Reader, out io.Writer) (*indexer.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(), tea.WithInput(in), tea.WithOutput(out), tea.WithContext(ctx))

	type result struct {
		report *indexer.Report
		err    error
	}
	finished := make(chan result, 1)
	go func() {
		report, err := run(ctx, func(processed, total int) {
			p.Send(ProgressMsg{Processed: processed, Total: total})
		})
		p.Send(DoneMsg{Report: report, Err: err})
		finished <- result{report, err}
	}()

	final, uiErr := p.Run()
	if m, ok := final.(Model); ok && m.quitting {
		cancel()
	}
	res := <-finished
	if res.err == nil && uiErr != nil && ctx.Err() == nil {
		return res.report, fmt.Errorf("progress ui: %w", uiErr)
	}
	return res.report, res.err
}
