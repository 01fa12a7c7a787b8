package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360studio/semflow/workflow"
)

func newPlanCmd(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <workflow.yaml>",
		Short: "Show the execution plan for a workflow",
		Long: `Plan validates the document and prints the deterministic topological
order the executor would follow, one step per line with its rank, actor,
and dependencies.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := cc.setup()
			if err != nil {
				return err
			}
			validator, err := buildValidator(cfg)
			if err != nil {
				return fmt.Errorf("load schemas: %w", err)
			}

			wf, err := workflow.NewLoader(validator).Load(args[0])
			if err != nil {
				return err
			}
			plan, err := workflow.Plan(wf)
			if err != nil {
				return err
			}

			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}

func printPlan(w io.Writer, plan *workflow.RunPlan) {
	fmt.Fprintf(w, "workflow: %s (%d steps)\n", plan.Workflow.Name, len(plan.Order))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSTEP\tACTOR\tDEPENDS ON\tEMITS")
	for _, id := range plan.Order {
		node := plan.Node(id)
		deps := strings.Join(node.Preds, ", ")
		if deps == "" {
			deps = "-"
		}
		emits := strings.Join(node.Step.Emits, ", ")
		if emits == "" {
			emits = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", node.Rank, id, node.Step.Actor, deps, emits)
	}
	_ = tw.Flush()
}
