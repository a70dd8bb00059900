package main

import (
	"github.com/Veraticus/the-spice-must-match/internal/cli"
	"github.com/spf13/cobra"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect background jobs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			views, err := rt.app.ListJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			say(cmd, cli.FormatJobsTable(views))
			return nil
		},
	}
	list.Flags().Int("limit", 20, "maximum jobs to show")

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the progress of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			view, err := rt.app.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			say(cmd, cli.FormatJobSummary(view))
			return nil
		},
	}

	cmd.AddCommand(list, status)
	return cmd
}
