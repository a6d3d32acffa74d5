package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/planner"
)

type describer interface {
	Description() string
}

func newUnitsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List registered execution units and intent routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.wire(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			name := color.New(color.FgGreen, color.Bold)
			for _, unitName := range a.registry.Names() {
				unit, _ := a.registry.Lookup(unitName)
				spec, _ := a.registry.Spec(unitName)

				name.Fprintf(out, "%s", unitName)
				fmt.Fprintf(out, " [%s]", strings.Join(unit.Capabilities(), ", "))
				if d, ok := unit.(describer); ok && d.Description() != "" {
					fmt.Fprintf(out, " %s", d.Description())
				}
				fmt.Fprintln(out)
				if len(spec.DependsOn) > 0 {
					optional := ""
					if spec.OptionalDependencies {
						optional = " (optional)"
					}
					fmt.Fprintf(out, "  depends on: %s%s\n", strings.Join(spec.DependsOn, ", "), optional)
				}
				if spec.When != "" {
					fmt.Fprintf(out, "  when: %s\n", spec.When)
				}
			}

			fmt.Fprintln(out)
			color.New(color.FgCyan, color.Bold).Fprintln(out, "routes")
			for _, intent := range routedIntents(a.builder) {
				tags, _ := a.builder.Route(intent)
				fmt.Fprintf(out, "  %-20s %s\n", intent, strings.Join(tags, ", "))
			}
			return nil
		},
	}
}

func routedIntents(b *planner.Builder) []dragonscale.IntentType {
	var intents []dragonscale.IntentType
	for _, intent := range dragonscale.KnownIntents() {
		if tags, ok := b.Route(intent); ok && len(tags) > 0 {
			intents = append(intents, intent)
		}
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i] < intents[j] })
	return intents
}
