package main

import (
	"fmt"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/spf13/cobra"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Link bank transactions to candidate records",
		Long: `Run the matching engine for one or more source kinds. Each kind runs as
its own job. Matches at or above matching.prelabel_confidence also
pre-label the transaction with the candidate's category.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, _ := cmd.Flags().GetStringSlice("kind")
			kinds, err := parseKinds(names)
			if err != nil {
				return err
			}

			rt, err := startApp(cmd.Context(), needs{workers: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			for _, kind := range kinds {
				view, err := rt.app.SubmitMatch(cmd.Context(), kind)
				if err != nil {
					return fmt.Errorf("failed to submit %s matching: %w", kind, err)
				}
				if err := watchJob(cmd, rt, view); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("kind", nil, "source kinds to match (default: all)")
	return cmd
}

func parseKinds(names []string) ([]model.SourceKind, error) {
	if len(names) == 0 {
		return model.AllSourceKinds(), nil
	}
	kinds := make([]model.SourceKind, 0, len(names))
	for _, name := range names {
		kind, err := model.ParseSourceKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
