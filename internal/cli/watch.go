package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/schollz/progressbar/v3"
)

// JobPoller reads the polling view of a job.
type JobPoller interface {
	GetJob(ctx context.Context, id string) (model.JobView, error)
}

// Watch polls a job every interval and draws a progress bar until the job
// reaches a terminal status or ctx ends. Missed intermediate states are
// fine; only the counters and the final status matter.
func Watch(ctx context.Context, poller JobPoller, jobID string, interval time.Duration, w io.Writer) (model.JobView, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	bar := newBar(w)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := poller.GetJob(ctx, jobID)
		if err != nil {
			return model.JobView{}, err
		}
		render(bar, view)
		if view.Status.Terminal() {
			if view.Status == model.JobCompleted {
				_ = bar.Finish()
			}
			_, _ = fmt.Fprintln(w)
			return view, nil
		}

		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]pending[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func render(bar *progressbar.ProgressBar, view model.JobView) {
	if view.Total > 0 && bar.GetMax() != view.Total {
		bar.ChangeMax(view.Total)
	}
	bar.Describe(describe(view))
	if err := bar.Set(view.Processed); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

func describe(view model.JobView) string {
	color := "cyan"
	switch view.Status {
	case model.JobCompleted:
		color = "green"
	case model.JobFailed:
		color = "red"
	case model.JobPending, model.JobQueued, model.JobRunning:
	}
	desc := fmt.Sprintf("[%s]%s %s[reset]", color, view.Kind, view.Status)
	if view.Failed > 0 {
		desc += fmt.Sprintf(" [yellow](%d failed)[reset]", view.Failed)
	}
	return desc
}
