package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newPlanCmd(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan <query>",
		Short: "Classify a query and print its execution plan without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.wire(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			outcome, err := a.classifier.Classify(cmd.Context(), query, nil)
			if err != nil {
				return err
			}
			plan, err := a.builder.BuildPlan(outcome.Intent(), query)
			if err != nil {
				return err
			}

			if asJSON {
				return renderJSON(cmd.OutOrStdout(), plan)
			}
			renderPlan(cmd.OutOrStdout(), outcome, plan)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}
