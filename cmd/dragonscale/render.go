package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
)

var kindColors = map[dragonscale.ResponseKind]color.Attribute{
	dragonscale.ResponseAnswer:   color.FgGreen,
	dragonscale.ResponseRedirect: color.FgYellow,
	dragonscale.ResponseError:    color.FgRed,
}

func renderResponse(w io.Writer, resp *dragonscale.FinalResponse) {
	attr, ok := kindColors[resp.Kind]
	if !ok {
		attr = color.FgWhite
	}
	label := color.New(attr, color.Bold)
	label.Fprintf(w, "[%s]", resp.Kind)
	if resp.Intent != "" {
		fmt.Fprintf(w, " %s", resp.Intent)
	}
	fmt.Fprintf(w, "\n%s\n", resp.Summary)

	title := color.New(color.FgCyan, color.Bold)
	for _, section := range resp.Sections {
		fmt.Fprintln(w)
		title.Fprintf(w, "%s", section.Title)
		if section.Priority == dragonscale.PriorityHigh {
			color.New(color.FgMagenta).Fprint(w, " *")
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, indent(section.Content, "  "))
	}
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderPlan(w io.Writer, outcome dragonscale.ClassificationOutcome, plan *dragonscale.ExecutionPlan) {
	intent := outcome.Intent()
	fmt.Fprintf(w, "intent: %s (confidence %.2f)", intent.IntentType, intent.Confidence)
	if intent.UsedFallback {
		color.New(color.FgYellow).Fprint(w, " [keyword fallback]")
	}
	fmt.Fprintln(w)
	if len(intent.Keywords) > 0 {
		fmt.Fprintf(w, "keywords: %s\n", strings.Join(intent.Keywords, ", "))
	}

	if plan.IsEmpty() {
		color.New(color.FgYellow).Fprintln(w, "early exit: no units will run")
		return
	}
	for i, batch := range plan.Batches {
		color.New(color.FgCyan).Fprintf(w, "batch %d:", i)
		for _, id := range batch {
			step, _ := plan.Step(id)
			fmt.Fprintf(w, " %s", id)
			if len(step.DependsOn) > 0 {
				fmt.Fprintf(w, "(<- %s)", strings.Join(step.DependsOn, ","))
			}
		}
		fmt.Fprintln(w)
	}
}

func renderEvent(w io.Writer, evt eventbus.Event) {
	color.New(color.Faint).Fprintf(w, "event %-24s %v\n", evt.Type(), evt.Payload())
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
