package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/app"
	"github.com/Veraticus/the-spice-must-match/internal/cli"
	"github.com/Veraticus/the-spice-must-match/internal/common"
	"github.com/Veraticus/the-spice-must-match/internal/config"
	"github.com/Veraticus/the-spice-must-match/internal/enrichment"
	"github.com/Veraticus/the-spice-must-match/internal/feed/gmail"
	"github.com/Veraticus/the-spice-must-match/internal/feed/plaid"
	"github.com/Veraticus/the-spice-must-match/internal/feed/simplefin"
	"github.com/Veraticus/the-spice-must-match/internal/jobs"
	"github.com/Veraticus/the-spice-must-match/internal/llm"
	"github.com/Veraticus/the-spice-must-match/internal/matching"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/Veraticus/the-spice-must-match/internal/observability"
	"github.com/Veraticus/the-spice-must-match/internal/storage"
	"github.com/Veraticus/the-spice-must-match/internal/tui"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// needs selects the optional collaborators a command wires up.
type needs struct {
	provider  bool
	plaid     bool
	simplefin bool
	gmail     bool
	// workers starts the job manager. Commands that only read or edit rows
	// leave it off so they never touch jobs owned by another process.
	workers bool
}

// session bundles the app with everything that must be closed after it.
type session struct {
	app   *app.App
	cfg   *config.Config
	store *storage.SQLiteStorage
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStorage opens and migrates the database.
func openStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// startApp builds and starts the application for one command.
func startApp(ctx context.Context, n needs) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	var provider llm.Provider
	if n.provider {
		provider, err = llm.NewProvider(llmConfig(cfg.LLM))
		if err != nil {
			_ = store.Close()
			return nil, common.NewUserError("AI provider is not configured (set llm.provider and llm.api_key)", err)
		}
	}

	var feeds app.Feeds
	if n.plaid {
		client, err := plaid.NewClient(plaidConfig(cfg.Plaid), logger)
		if err != nil {
			_ = store.Close()
			return nil, common.NewUserError("Plaid is not configured (see the plaid section of the config file)", err)
		}
		feeds.Plaid = client
	}
	if n.simplefin {
		client, err := simplefin.NewClient(ctx, simplefin.Config{
			Token:     cfg.SimpleFIN.Token,
			StateFile: cfg.SimpleFIN.StateFile,
		}, logger)
		if err != nil {
			_ = store.Close()
			return nil, common.NewUserError("SimpleFIN is not connected", err)
		}
		feeds.SimpleFIN = client
	}
	if n.gmail {
		source, err := gmail.NewAPISource(ctx, gmailConfig(cfg.Gmail), logger)
		if err != nil {
			_ = store.Close()
			return nil, common.NewUserError("Gmail is not connected", err)
		}
		feeds.Gmail = source
	}

	a := app.New(store, provider, feeds, app.Options{
		Logger:     logger,
		Metrics:    observability.NewMetrics(prometheus.NewRegistry()),
		Matching:   matching.ConfigFrom(cfg.Matching),
		Enrichment: enrichment.Options{MaxRetries: cfg.Enrichment.MaxRetries, CallTimeout: cfg.Enrichment.CallTimeout},
		Jobs: jobs.Options{
			Workers:      cfg.Jobs.Workers,
			QueueSize:    cfg.Jobs.QueueSize,
			PersistEvery: cfg.Jobs.PersistEvery,
		},
		Gmail: gmailConfig(cfg.Gmail),
	})
	if n.workers {
		if err := a.Start(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	common.LogDebug("Application started", common.Fields{
		"database":  cfg.Database.Path,
		"provider":  n.provider,
		"plaid":     n.plaid,
		"simplefin": n.simplefin,
		"gmail":     n.gmail,
		"workers":   n.workers,
	})
	return &session{app: a, cfg: cfg, store: store}, nil
}

// Close waits for running jobs and closes the database.
func (r *session) Close() {
	if err := r.app.Shutdown(context.Background()); err != nil {
		common.LogError(err, "Job manager did not stop cleanly", nil)
	}
	if err := r.store.Close(); err != nil {
		common.LogError(err, "Failed to close database", common.Fields{"path": r.cfg.Database.Path})
	}
}

func llmConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:    c.Provider,
		APIKey:      c.APIKey,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		MaxRetries:  c.MaxRetries,
		RetryDelay:  c.RetryDelay,
		RateLimit:   c.RateLimit,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Timeout:     c.Timeout,
	}
}

func plaidConfig(c config.PlaidConfig) plaid.Config {
	return plaid.Config{
		ClientID:    c.ClientID,
		Secret:      c.Secret,
		Environment: c.Environment,
		AccessToken: c.AccessToken,
	}
}

func gmailConfig(c config.GmailConfig) gmail.Config {
	return gmail.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenFile:    c.TokenFile,
		Query:        c.Query,
		Mailbox:      c.Mailbox,
		Concurrency:  c.Concurrency,
	}
}

// watchJob follows a submitted job until it ends or the user detaches,
// then prints its summary. A failed job is reported as an error.
func watchJob(cmd *cobra.Command, rt *session, submitted model.JobView) error {
	out := cmd.OutOrStdout()
	say(cmd, cli.FormatInfo(fmt.Sprintf("Submitted %s job %s", submitted.Kind, submitted.JobID)))

	view, err := follow(cmd.Context(), rt.app, submitted.JobID, rt.cfg.Jobs.PollInterval, out)
	switch {
	case errors.Is(err, tui.ErrDetached), errors.Is(err, context.Canceled):
		say(cmd, cli.FormatInfo("Waiting for job "+submitted.JobID+" to finish before exiting."))
		return nil
	case err != nil:
		return err
	}

	say(cmd, cli.FormatJobSummary(view))
	if view.Status == model.JobFailed {
		return fmt.Errorf("job %s failed: %s", view.JobID, view.Error)
	}
	return nil
}

func follow(ctx context.Context, poller cli.JobPoller, jobID string, interval time.Duration, out io.Writer) (model.JobView, error) {
	if !usePlain(out) {
		return tui.Watch(ctx, poller, jobID, interval)
	}
	handler := cli.NewInterruptHandler(out)
	ctx, stop := handler.HandleInterrupts(ctx, jobID)
	defer stop()
	return cli.Watch(ctx, poller, jobID, interval, out)
}

func usePlain(out io.Writer) bool {
	if viper.GetBool("ui.plain") {
		return true
	}
	f, ok := out.(*os.File)
	return !ok || !isatty.IsTerminal(f.Fd())
}

// say writes one line of command output to stdout.
func say(cmd *cobra.Command, line string) {
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
}
