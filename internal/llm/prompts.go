package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/classifier"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/synthesizer"
)

const ClassificationSystem = `You classify requests for a fitness center assistant.
Reply with a single JSON object and nothing else:
{"intent_type": "<intent>", "confidence": <0..1>, "keywords": ["..."], "entities": {"name": "value"}}
Allowed intents: %s.
Use "irrelevant" for requests unrelated to the business and "unclear" when you cannot tell.`

const SynthesisSystem = `You write answers for a fitness center assistant from the data provided.
Reply with a single JSON object and nothing else:
{"sections": [{"title": "...", "content": "...", "priority": "high|medium|low"}], "summary": "..."}
Only use facts present in the data. If some sources failed, say so briefly in the summary.`

// ClassificationSystemPrompt lists the known intents in the system prompt.
func ClassificationSystemPrompt() string {
	intents := make([]string, 0, len(dragonscale.KnownIntents()))
	for _, intent := range dragonscale.KnownIntents() {
		intents = append(intents, string(intent))
	}
	return fmt.Sprintf(ClassificationSystem, strings.Join(intents, ", "))
}

// ClassificationPrompt renders the user prompt for a classification request.
func ClassificationPrompt(req classifier.Request) string {
	var b strings.Builder
	if len(req.Prior) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range req.Prior {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Request: %s\n", req.Query)
	return b.String()
}

// SynthesisPrompt renders the user prompt for a synthesis request.
func SynthesisPrompt(req synthesizer.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", req.Query)
	fmt.Fprintf(&b, "Intent: %s (confidence %.2f)\n", req.Intent, req.Confidence)
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(req.Keywords, ", "))
	}
	if len(req.Entities) > 0 {
		entities, _ := json.Marshal(req.Entities)
		fmt.Fprintf(&b, "Entities: %s\n", entities)
	}
	if len(req.Memories) > 0 {
		b.WriteString("Earlier conversations:\n")
		for _, m := range req.Memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if len(req.FailedUnits) > 0 {
		fmt.Fprintf(&b, "Unavailable sources: %s\n", strings.Join(req.FailedUnits, ", "))
	}
	fmt.Fprintf(&b, "Data:\n%s\n", req.Data)
	return b.String()
}
