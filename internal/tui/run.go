package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrDetached is returned when the user leaves the watcher before the job ends.
var ErrDetached = errors.New("detached from job")

// Watch runs the job watcher until the job reaches a terminal status,
// the user detaches, or ctx ends. It returns the last view it saw. Pollers
// that implement EventSource also stream progress between polls.
func Watch(ctx context.Context, poller JobPoller, jobID string, interval time.Duration, opts ...tea.ProgramOption) (model.JobView, error) {
	if poller == nil {
		return model.JobView{}, fmt.Errorf("job poller is required")
	}

	initial := newModel(poller, jobID, interval, Default)
	if src, ok := poller.(EventSource); ok {
		events, unsubscribe := src.Subscribe()
		defer unsubscribe()
		initial.events = events
	}

	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(initial, opts...)

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return model.JobView{}, fmt.Errorf("job watcher failed: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.JobView{}, ctxErr
		}
		return model.JobView{}, fmt.Errorf("unexpected model type %T", final)
	}
	switch {
	case m.err != nil:
		return m.view, m.err
	case m.detached:
		return m.view, ErrDetached
	case !m.done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return m.view, ctxErr
		}
		return m.view, ErrDetached
	}
	return m.view, nil
}
