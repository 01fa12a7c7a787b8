package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semflow/history"
)

func newRunsCmd(cc *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cc)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tWORKFLOW\tSTATUS\tSTARTED\tDURATION\tTOKENS\tSTEPS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d/%d\n",
					e.RunID,
					e.WorkflowName,
					e.Status,
					e.StartedAt.Local().Format(time.RFC3339),
					e.EndedAt.Sub(e.StartedAt).Round(time.Millisecond),
					e.TokensUsed,
					e.StepsSucceeded, e.StepsTotal,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")

	cmd.AddCommand(newRunsShowCmd(cc))
	return cmd
}

func newRunsShowCmd(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one indexed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cc)
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Get(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run:              %s\n", entry.RunID)
			fmt.Fprintf(out, "workflow:         %s\n", entry.WorkflowName)
			fmt.Fprintf(out, "status:           %s\n", entry.Status)
			fmt.Fprintf(out, "started:          %s\n", entry.StartedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "ended:            %s\n", entry.EndedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "duration:         %s\n", entry.EndedAt.Sub(entry.StartedAt).Round(time.Millisecond))
			fmt.Fprintf(out, "tokens used:      %d\n", entry.TokensUsed)
			if entry.TokensOverrun > 0 {
				fmt.Fprintf(out, "tokens overrun:   %d\n", entry.TokensOverrun)
			}
			fmt.Fprintf(out, "budget remaining: %d\n", entry.BudgetRemaining)
			fmt.Fprintf(out, "steps:            %d/%d succeeded\n", entry.StepsSucceeded, entry.StepsTotal)
			return nil
		},
	}
}

func openHistory(cc *commandContext) (*history.Store, error) {
	cfg, _, err := cc.setup()
	if err != nil {
		return nil, err
	}
	if cfg.History.Path == "" {
		return nil, fmt.Errorf("no history path configured")
	}
	return history.Open(cfg.History.Path)
}
