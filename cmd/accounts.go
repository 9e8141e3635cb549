package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAccountsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and seed connected platform accounts",
	}
	cmd.AddCommand(newAccountsListCmd(c), newAccountsBootstrapCmd(c))
	return cmd
}

func newAccountsListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts with their credential state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.accounts.GetAllAccounts(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, account := range accounts {
				expires := "never"
				if account.Credential.ExpiresAt != nil {
					expires = account.Credential.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s\t%s\t%s\tactive=%t\tstate=%s\texpires=%s\n",
					account.ID, account.Platform, account.ExternalID, account.IsActive,
					a.credentials.State(account), expires)
			}
			return nil
		},
	}
}

func newAccountsBootstrapCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create or update the accounts listed in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// wireApp already applies the configured accounts
			a, err := wireApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "%d accounts configured\n", len(c.cfg.BootstrapAccounts))
			return nil
		},
	}
}
