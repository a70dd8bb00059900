package main

import (
	"fmt"
	"strconv"

	"github.com/Veraticus/the-spice-must-match/internal/cli"
	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/spf13/cobra"
)

func sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Review the records linked to a transaction",
	}
	cmd.AddCommand(
		sourcesListCmd(),
		sourcesVerifyCmd(),
		sourcesPrimaryCmd(),
		sourcesLinkCmd(),
		sourcesUnlinkCmd(),
	)
	return cmd
}

func sourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <transaction-id>",
		Short: "List enrichment sources of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			txn, err := rt.app.Transaction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sources, err := rt.app.Sources(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			say(cmd, cli.FormatTitle(fmt.Sprintf("%s  %s  %s", txn.Date.Format(dateLayout), txn.Amount.StringFixed(2), txn.RawDescription)))
			say(cmd, cli.FormatSourcesTable(sources))
			return nil
		},
	}
}

func sourcesVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <source-id>",
		Short: "Mark a source as confirmed by you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSourceID(args[0])
			if err != nil {
				return err
			}
			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.app.VerifySource(cmd.Context(), id); err != nil {
				return err
			}
			say(cmd, cli.FormatSuccess(fmt.Sprintf("Source %d verified", id)))
			return nil
		},
	}
}

func sourcesPrimaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "primary <transaction-id> <source-id>",
		Short: "Pin the primary source of a transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSourceID(args[1])
			if err != nil {
				return err
			}
			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.app.SetPrimarySource(cmd.Context(), args[0], id); err != nil {
				return err
			}
			say(cmd, cli.FormatSuccess(fmt.Sprintf("Source %d is now primary for %s", id, args[0])))
			return nil
		},
	}
}

func sourcesLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <transaction-id> <kind> <external-id>",
		Short: "Link a candidate record to a transaction by hand",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := model.ParseSourceKind(args[1])
			if err != nil {
				return err
			}
			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			src, err := rt.app.LinkSource(cmd.Context(), args[0], kind, args[2])
			if err != nil {
				return err
			}
			say(cmd, cli.FormatSuccess(fmt.Sprintf("Linked %s %s to %s as source %d", src.Kind, src.ExternalID, args[0], src.ID)))
			return nil
		},
	}
}

func sourcesUnlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <source-id>",
		Short: "Remove an unverified source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSourceID(args[0])
			if err != nil {
				return err
			}
			rt, err := startApp(cmd.Context(), needs{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.app.UnlinkSource(cmd.Context(), id); err != nil {
				return err
			}
			say(cmd, cli.FormatSuccess(fmt.Sprintf("Source %d removed", id)))
			return nil
		},
	}
}

func parseSourceID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid source id %q", s)
	}
	return id, nil
}
