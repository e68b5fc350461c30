// # internal/ui/progress/progress.go
//
// Terminal progress display for interactive runs. The model is fed batch
// lifecycle events through the program's message queue and renders a bar,
// per-outcome tallies, and a closing summary. It never touches the service
// directly; run.go bridges the two.
package progress

import (
	"fmt"
	"strings"
	"time"

	pbar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"strata/internal/batch"
	"strata/internal/batch/wire"
	"strata/internal/shared/util"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	degradedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type beginMsg struct{ total int }

type resultMsg struct{ res wire.WorkResult }

type statsMsg struct{ stats batch.Stats }

type doneMsg struct{ err error }

type model struct {
	bar pbar.Model

	total    int
	done     int
	ok       int
	degraded int
	failed   int
	timedOut int

	current   string
	started   time.Time
	stats     batch.Stats
	haveStats bool
	finished  bool
	runErr    error

	cancelled bool
	onCancel  func()
}

func initialModel(onCancel func()) model {
	return model{
		bar:      pbar.New(pbar.WithDefaultGradient()),
		started:  time.Now(),
		onCancel: onCancel,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.finished {
				return m, tea.Quit
			}
			// Repeat presses reach the token again so the grace-window
			// escalation still works from the UI.
			if m.onCancel != nil {
				m.onCancel()
			}
			m.cancelled = true
		}
	case tea.WindowSizeMsg:
		width := msg.Width - 30
		if width < 10 {
			width = 10
		}
		m.bar.Width = width
	case beginMsg:
		m.total = msg.total
		m.started = time.Now()
	case resultMsg:
		m.done++
		m.current = msg.res.FilePath
		switch outcome(msg.res) {
		case "timeout":
			m.timedOut++
		case "failed":
			m.failed++
		case "degraded":
			m.degraded++
		default:
			m.ok++
		}
	case statsMsg:
		m.stats = msg.stats
		m.haveStats = true
	case doneMsg:
		m.finished = true
		m.runErr = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle("strata"))
	b.WriteString("\n\n")

	pct := 0.0
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}
	b.WriteString(fmt.Sprintf("  %d/%d %s\n", m.done, m.total, m.bar.ViewAs(pct)))
	b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		okStyle.Render(fmt.Sprintf("%d ok", m.ok)),
		degradedStyle.Render(fmt.Sprintf("%d degraded", m.degraded)),
		failStyle.Render(fmt.Sprintf("%d failed", m.failed)),
		failStyle.Render(fmt.Sprintf("%d timed out", m.timedOut)),
	))

	switch {
	case m.finished:
		b.WriteString("\n")
		b.WriteString(m.summary())
	case m.cancelled:
		b.WriteString("\n")
		b.WriteString(statusStyle.Render("stopping after in-flight files (press again to force)"))
		b.WriteString("\n")
	case m.current != "":
		b.WriteString("\n")
		b.WriteString(statusStyle.Render("parsing " + m.current))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) summary() string {
	elapsed := time.Since(m.started).Round(time.Millisecond)
	if m.runErr != nil {
		return failStyle.Render(fmt.Sprintf("run failed after %s: %v", elapsed, m.runErr)) + "\n"
	}

	var b strings.Builder
	line := fmt.Sprintf("%d files in %s", m.stats.TotalFiles, elapsed)
	if m.stats.Incomplete {
		line += ", stopped early"
	}
	b.WriteString(okStyle.Render(line))
	b.WriteString("\n")
	if m.haveStats && m.stats.AvgConfidence > 0 {
		b.WriteString(statusStyle.Render(fmt.Sprintf("average confidence %.2f", m.stats.AvgConfidence)))
		b.WriteString("\n")
	}
	for _, language := range util.SortedStringKeys(m.stats.TiersByLanguage) {
		tiers := m.stats.TiersByLanguage[language]
		parts := make([]string, 0, len(tiers))
		for _, tier := range util.SortedStringKeys(tiers) {
			parts = append(parts, fmt.Sprintf("%s=%d", tier, tiers[tier]))
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", language, strings.Join(parts, " ")))
	}
	return b.String()
}

// outcome mirrors the service's per-file classification so the live tallies
// agree with the metrics and the final report.
func outcome(res wire.WorkResult) string {
	rec := res.Result
	switch {
	case res.TimedOut:
		return "timeout"
	case rec == nil || rec.Error != "":
		return "failed"
	case rec.Degraded:
		return "degraded"
	}
	return "completed"
}
