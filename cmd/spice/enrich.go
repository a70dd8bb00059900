package main

import (
	"fmt"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/cli"
	"github.com/Veraticus/the-spice-must-match/internal/enrichment"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/spf13/cobra"
)

func enrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Categorize transactions with the AI provider",
		Long: `Categorize transactions. Identical descriptions are answered from the
enrichment cache; failures are recorded for "spice retry".

Modes:
  unenriched  every transaction without a category (default)
  all         every transaction; cached answers are still used unless --force
  limit       the first --limit transactions`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := selectionFromFlags(cmd)
			if err != nil {
				return err
			}

			rt, err := startApp(cmd.Context(), needs{provider: true, workers: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			view, err := rt.app.SubmitEnrich(cmd.Context(), req)
			if err != nil {
				return err
			}
			return watchJob(cmd, rt, view)
		},
	}
	cmd.Flags().String("mode", string(model.SelectUnenriched), "selection mode (unenriched, all, limit)")
	cmd.Flags().String("direction", string(model.DirectionOut), "transaction direction (out, in)")
	cmd.Flags().Int("limit", 0, "number of transactions for --mode limit")
	cmd.Flags().Bool("force", false, "ignore cached answers and call the provider")
	return cmd
}

func selectionFromFlags(cmd *cobra.Command) (model.SelectionRequest, error) {
	mode, _ := cmd.Flags().GetString("mode")
	direction, _ := cmd.Flags().GetString("direction")
	limit, _ := cmd.Flags().GetInt("limit")
	force, _ := cmd.Flags().GetBool("force")

	req := model.SelectionRequest{
		Mode:         model.SelectionMode(mode),
		Direction:    model.Direction(direction),
		Limit:        limit,
		ForceRefresh: force,
	}
	return req, enrichment.ValidateSelection(req)
}

func retryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry transactions whose enrichment failed",
		Long: `Retry recorded enrichment failures that have not reached
enrichment.max_retries. Permanent failures are left alone.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := startApp(cmd.Context(), needs{provider: true, workers: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			view, err := rt.app.SubmitRetry(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return watchJob(cmd, rt, view)
		},
	}
	cmd.Flags().Int("limit", 0, "maximum failures to retry (0 for all)")
	return cmd
}

func clearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every categorization, cache entry and failure record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("clear removes all enrichment results; re-run with --yes to confirm")
			}

			rt, err := startApp(cmd.Context(), needs{provider: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			noSnapshot, _ := cmd.Flags().GetBool("no-snapshot")
			if !noSnapshot {
				path, err := rt.store.Snapshot(cmd.Context(), "before-clear-"+time.Now().Format("20060102-150405"))
				if err != nil {
					return fmt.Errorf("failed to snapshot database before clearing: %w", err)
				}
				say(cmd, cli.FormatInfo("Snapshot saved to "+path))
			}

			report, err := rt.app.ClearEnrichment(cmd.Context())
			if err != nil {
				return err
			}
			say(cmd, cli.FormatSuccess(fmt.Sprintf(
				"Cleared %d transactions, %d cache entries and %d failure records",
				report.Transactions, report.CacheEntries, report.FailedRecords)))
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "confirm the reset")
	cmd.Flags().Bool("no-snapshot", false, "skip the database snapshot taken before clearing")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the enrichment cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show enrichment cache statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			stats, err := rt.app.CacheStats(cmd.Context())
			if err != nil {
				return err
			}
			say(cmd, cli.FormatCacheStats(stats))
			return nil
		},
	})
	return cmd
}
