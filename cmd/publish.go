package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <post-id>",
		Short: "Run one publish attempt for a stored post and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.orchestrator.PublishPost(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(outcome, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newRefreshTokensCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-tokens",
		Short: "Refresh every credential that is expired or close to expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.monitor.CheckAllAccounts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d refreshed=%d failed=%d skipped=%d\n",
				report.Checked, report.Refreshed, report.Failed, report.Skipped)

			for _, s := range a.monitor.NeedsReauthorization() {
				fmt.Fprintf(cmd.OutOrStdout(), "re-authorize %s account %s (%s)\n", s.Platform, s.ExternalID, s.AccountID)
			}
			return nil
		},
	}
}
