package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and remove tenant accounts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenant accounts",
		Args:  cobra.NoArgs,
		RunE: c.withStore(func(cmd *cobra.Command, _ []string) error {
			accounts, err := c.store.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no accounts")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tSTATUS\tWABA\tPHONE NUMBER ID\tTOKEN\tLAST WEBHOOK")
			for _, a := range accounts {
				last := "-"
				if a.LastWebhookAt != nil {
					last = formatTime(*a.LastWebhookAt)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					a.TenantID, colorAccountStatus(a.Status), dash(a.WABAID), dash(a.PhoneNumberID),
					yesNo(a.HasAccessToken), last)
			}
			return w.Flush()
		}),
	}

	var confirmed bool
	del := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant account row and its stored tokens",
		Args:  cobra.ExactArgs(1),
		RunE: c.withStore(func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			if err := c.store.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted account %s\n", okMark(), args[0])
			return nil
		}),
	}
	del.Flags().BoolVar(&confirmed, "yes", false, "Confirm the deletion")

	cmd.AddCommand(list, del)
	return cmd
}
