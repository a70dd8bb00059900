package tui

import (
	"github.com/Veraticus/the-spice-must-match/internal/jobs"
	"github.com/Veraticus/the-spice-must-match/internal/model"
)

type jobLoadedMsg struct {
	err  error
	view model.JobView
}

type pollTickMsg struct{}

type jobEventMsg struct {
	event  jobs.Event
	closed bool
}
