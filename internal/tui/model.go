// Package tui renders a live view of one asynchronous job.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/jobs"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// JobPoller reads the polling view of a job.
type JobPoller interface {
	GetJob(ctx context.Context, id string) (model.JobView, error)
}

// EventSource pushes job events from an in-process manager. A poller that
// also implements it gets progress between polls.
type EventSource interface {
	Subscribe() (<-chan jobs.Event, func())
}

// Model is the bubbletea model of the job watcher.
type Model struct {
	poller   JobPoller
	events   <-chan jobs.Event
	err      error
	theme    Theme
	keymap   KeyMap
	jobID    string
	view     model.JobView
	help     help.Model
	spinner  spinner.Model
	progress progress.Model
	interval time.Duration
	width    int
	updated  int
	loaded   bool
	done     bool
	detached bool
}

func newModel(poller JobPoller, jobID string, interval time.Duration, theme Theme) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		poller:   poller,
		jobID:    jobID,
		interval: interval,
		theme:    theme,
		keymap:   DefaultKeyMap(),
		help:     help.New(),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.Primary)),
		),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Init starts the spinner, the first poll and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch(), m.listen())
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Detach):
			m.detached = true
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Refresh):
			return m, m.fetch()
		case key.Matches(msg, m.keymap.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = min(max(msg.Width-10, 10), 60)
		return m, nil

	case jobLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.view = msg.view
		m.loaded = true
		if msg.view.Status.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, m.scheduleTick()

	case pollTickMsg:
		return m, m.fetch()

	case jobEventMsg:
		if msg.closed {
			m.events = nil
			return m, nil
		}
		return m.applyEvent(msg.event)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) fetch() tea.Cmd {
	poller, id := m.poller, m.jobID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		view, err := poller.GetJob(ctx, id)
		return jobLoadedMsg{view: view, err: err}
	}
}

// applyEvent folds a pushed event into the view. Polling still owns the
// full snapshot; a terminal event triggers one immediately.
func (m Model) applyEvent(ev jobs.Event) (tea.Model, tea.Cmd) {
	switch ev := ev.(type) {
	case jobs.JobEvent:
		if ev.JobID != m.jobID || !m.loaded || m.done {
			break
		}
		if ev.Status.Terminal() {
			return m, tea.Batch(m.fetch(), m.listen())
		}
		m.view.Status = ev.Status
		m.view.Processed, m.view.Total = ev.Processed, ev.Total
		if ev.Total > 0 {
			m.view.ProgressPercentage = float64(ev.Processed) * 100 / float64(ev.Total)
		}
	case jobs.TransactionsUpdated:
		if ev.JobID == m.jobID {
			m.updated = ev.Count
		}
	}
	return m, m.listen()
}

// listen waits for the next pushed event.
func (m Model) listen() tea.Cmd {
	if m.events == nil {
		return nil
	}
	ch := m.events
	return func() tea.Msg {
		ev, ok := <-ch
		return jobEventMsg{event: ev, closed: !ok}
	}
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollTickMsg{} })
}

// View renders the watcher.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render(fmt.Sprintf("Job %s", m.jobID)))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(m.theme.StatusError.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
		return b.String()
	}
	if !m.loaded {
		b.WriteString(m.spinner.View() + " Loading...\n")
		return b.String()
	}

	v := m.view
	header := fmt.Sprintf("%s %s", v.Kind, m.statusStyle(v.Status).Render(string(v.Status)))
	if v.Resource != "" {
		header += m.theme.Muted.Render(" on " + v.Resource)
	}
	if !m.done {
		header = m.spinner.View() + " " + header
	}
	b.WriteString(header + "\n\n")

	b.WriteString(m.progress.ViewAs(v.ProgressPercentage / 100))
	b.WriteString("\n\n")

	stats := fmt.Sprintf("Processed %d/%d  Successful %d", v.Processed, v.Total, v.Successful)
	b.WriteString(m.theme.Normal.Render(stats))
	if v.Failed > 0 {
		b.WriteString("  " + m.theme.StatusWarning.Render(fmt.Sprintf("Failed %d", v.Failed)))
	}
	b.WriteString("\n")
	if m.updated > 0 {
		b.WriteString(m.theme.Subtitle.Render(fmt.Sprintf("Updated %d transactions", m.updated)))
		b.WriteString("\n")
	}
	if v.TotalTokens > 0 {
		b.WriteString(m.theme.Subtitle.Render(fmt.Sprintf("Tokens %d  Cost $%s", v.TotalTokens, v.TotalCost.StringFixed(4))))
		b.WriteString("\n")
	}
	if v.Error != "" {
		b.WriteString(m.theme.StatusError.Render(v.Error))
		b.WriteString("\n")
	}

	if !m.done {
		b.WriteString("\n" + m.help.View(m.keymap))
	}
	return m.theme.Box.Render(b.String())
}

func (m Model) statusStyle(status model.JobStatus) lipgloss.Style {
	switch status {
	case model.JobCompleted:
		return m.theme.StatusSuccess
	case model.JobFailed:
		return m.theme.StatusError
	case model.JobRunning:
		return m.theme.StatusInfo
	case model.JobPending, model.JobQueued:
		return m.theme.Muted
	}
	return m.theme.Muted
}
