package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"wabagate/internal/models"

	"github.com/spf13/cobra"
)

func (c *cli) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay outbound queue items",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List queue items, newest first",
		Args:  cobra.NoArgs,
		RunE: c.withStore(func(cmd *cobra.Command, _ []string) error {
			items, err := c.store.ListOutbound(cmd.Context(), models.QueueStatus(status), limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no queue items")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTENANT\tSTATUS\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					item.ID, item.TenantID, colorQueueStatus(item.Status),
					item.Attempts, item.MaxAttempts, formatTime(item.NextAttemptAt), truncate(item.LastError, 60))
			}
			return w.Flush()
		}),
	}
	list.Flags().StringVar(&status, "status", "", "Only show items in this status")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of items")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count queue items per status",
		Args:  cobra.NoArgs,
		RunE: c.withStore(func(cmd *cobra.Command, _ []string) error {
			counts, err := c.store.QueueStats(cmd.Context())
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%d\n", colorQueueStatus(models.QueueStatus(s)), counts[models.QueueStatus(s)])
			}
			return w.Flush()
		}),
	}

	var attempts int
	replay := &cobra.Command{
		Use:   "replay <item-id>",
		Short: "Re-enqueue a permanently failed item as a new pending item",
		Args:  cobra.ExactArgs(1),
		RunE: c.withStore(func(cmd *cobra.Command, args []string) error {
			if attempts <= 0 {
				attempts = c.maxAttempts
			}
			item, err := c.store.ReplayOutbound(cmd.Context(), args[0], attempts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s replayed %s as %s (max attempts %d)\n",
				okMark(), item.ReplayOf, item.ID, item.MaxAttempts)
			return nil
		}),
	}
	replay.Flags().IntVar(&attempts, "max-attempts", 0, "Attempt budget for the replay (default: configured queue max attempts)")

	cmd.AddCommand(list, stats, replay)
	return cmd
}
