package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull data from connected services",
	}
	cmd.AddCommand(syncPlaidCmd())
	cmd.AddCommand(syncSimpleFINCmd())
	cmd.AddCommand(syncGmailCmd())
	return cmd
}

func syncPlaidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plaid",
		Short: "Fetch posted transactions from Plaid",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := dateRange(cmd, time.Now())
			if err != nil {
				return err
			}

			rt, err := startApp(cmd.Context(), needs{plaid: true, workers: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			view, err := rt.app.SubmitPlaidSync(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return watchJob(cmd, rt, view)
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func syncSimpleFINCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simplefin",
		Short: "Fetch posted transactions from a SimpleFIN bridge",
		Long: `Fetch posted transactions from SimpleFIN. The first run claims the setup
token in simplefin.token and saves the access URL to simplefin.state_file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := dateRange(cmd, time.Now())
			if err != nil {
				return err
			}

			rt, err := startApp(cmd.Context(), needs{simplefin: true, workers: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			view, err := rt.app.SubmitSimpleFINSync(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return watchJob(cmd, rt, view)
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "first day to fetch (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "last day to fetch (YYYY-MM-DD, default today)")
	cmd.Flags().Int("days", 30, "days to fetch when --start is not given")
}

// dateRange resolves --start/--end/--days against now.
func dateRange(cmd *cobra.Command, now time.Time) (time.Time, time.Time, error) {
	startFlag, _ := cmd.Flags().GetString("start")
	endFlag, _ := cmd.Flags().GetString("end")
	days, _ := cmd.Flags().GetInt("days")

	end := now
	if endFlag != "" {
		t, err := time.Parse(dateLayout, endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end date %q: %w", endFlag, err)
		}
		end = t
	}

	if startFlag == "" {
		if days <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("--days must be positive, got %d", days)
		}
		return end.AddDate(0, 0, -days), end, nil
	}
	start, err := time.Parse(dateLayout, startFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start date %q: %w", startFlag, err)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--start %s is after --end %s", startFlag, end.Format(dateLayout))
	}
	return start, end, nil
}

func syncGmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gmail",
		Short: "Scan the receipt mailbox for purchase totals",
		Long: `Scan messages matching gmail.query and store each one that carries a
purchase total as a receipt_email candidate. Messages without a total
are counted as skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := startApp(cmd.Context(), needs{gmail: true, workers: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			view, err := rt.app.SubmitGmailSync(cmd.Context())
			if err != nil {
				return err
			}
			return watchJob(cmd, rt, view)
		},
	}
}
