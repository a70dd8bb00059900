package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Veraticus/the-spice-must-match/internal/cli"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import bank transactions from files",
	}
	cmd.AddCommand(importOFXCmd())
	return cmd
}

func importOFXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ofx <file>",
		Short: "Import an OFX/QFX bank or card statement",
		Long: `Import transactions from an OFX or QFX statement exported by your bank.

Re-importing the same statement is safe: transaction IDs are scoped by
account and FITID, so duplicates are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(filepath.Clean(path))
			if err != nil {
				return fmt.Errorf("failed to open statement: %w", err)
			}
			defer func() { _ = f.Close() }()

			rt, err := startApp(cmd.Context(), needs{workers: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			view, err := rt.app.SubmitOFXImport(cmd.Context(), filepath.Base(path), f)
			if err != nil {
				return err
			}
			return watchJob(cmd, rt, view)
		},
	}
}

func candidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Manage candidate records (orders, receipts, purchases)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Import candidate records from a JSON array",
		Long: `Import candidate records produced by an external importer.

The file is a JSON array of objects with kind, external_id, amount, date,
description and an optional kind-specific payload. A file with any invalid
record is rejected as a whole and every problem is reported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(filepath.Clean(args[0]))
			if err != nil {
				return fmt.Errorf("failed to open candidates file: %w", err)
			}
			defer func() { _ = f.Close() }()

			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.app.ImportCandidates(cmd.Context(), f)
			if err != nil {
				return err
			}
			say(cmd, cli.FormatSuccess(fmt.Sprintf("Imported %d candidate records", n)))
			return nil
		},
	})
	return cmd
}
