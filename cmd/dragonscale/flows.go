package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/classifier"
)

func newFlowsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Show the generation flows and whether they are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.wire(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			status := color.New(color.FgYellow).Sprint("disabled (llm.enabled is false)")
			if a.flows != nil {
				status = color.New(color.FgGreen).Sprintf("enabled (%s)", a.cfg.LLM.Model)
			}
			fmt.Fprintf(out, "%-16s %s\n", adapters.ClassifyFlowName, status)
			synthesis := status
			if a.flows != nil && !a.cfg.Synthesizer.UseLLM {
				synthesis = color.New(color.FgYellow).Sprint("defined, synthesizer uses the template")
			}
			fmt.Fprintf(out, "%-16s %s\n", adapters.SynthesizeFlowName, synthesis)
			return nil
		},
	}
	cmd.AddCommand(newFlowsClassifyCmd(root))
	return cmd
}

func newFlowsClassifyCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <query>",
		Short: "Run the classification flow and print its raw payload",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.wire(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.flows == nil {
				return dragonscale.NewConfigurationError("generation flows are disabled; set llm.enabled", nil)
			}
			req := &classifier.Request{Query: strings.Join(args, " ")}
			raw, err := a.flows.Classify.Run(cmd.Context(), req)
			if err != nil {
				return dragonscale.NewClassificationFault("classification flow failed", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)

			intent, err := classifier.ParsePayload(raw)
			if err != nil {
				color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "payload rejected: %v\n", err)
				return nil
			}
			color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "parsed: %s (%.2f)\n", intent.IntentType, intent.Confidence)
			return nil
		},
	}
}
