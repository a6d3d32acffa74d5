// Package adapters connects the orchestrator's backends to Genkit flows and
// plain Go functions.
package adapters

import (
	"context"

	"github.com/firebase/genkit/go/genkit"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/classifier"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/llm"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/synthesizer"
)

const (
	ClassifyFlowName   = "classifyFlow"
	SynthesizeFlowName = "synthesizeFlow"
)

// FlowRunner runs a defined flow. *core.Flow satisfies it.
type FlowRunner[In, Out any] interface {
	Run(ctx context.Context, input In) (Out, error)
}

// Flows holds the Genkit flows the orchestrator calls.
type Flows struct {
	Classify   FlowRunner[*classifier.Request, string]
	Synthesize FlowRunner[*synthesizer.Request, string]
}

// DefineFlows registers the classification and synthesis flows on g. Both
// flows render their prompt and hand it to gen.
func DefineFlows(g *genkit.Genkit, gen llm.Generator) Flows {
	classify := genkit.DefineFlow(g, ClassifyFlowName, func(ctx context.Context, req *classifier.Request) (string, error) {
		if req == nil {
			return "", dragonscale.NewValidationError("classification", "classification request is nil", nil)
		}
		return gen.Generate(ctx, llm.ClassificationSystemPrompt(), llm.ClassificationPrompt(*req))
	})

	synthesize := genkit.DefineFlow(g, SynthesizeFlowName, func(ctx context.Context, req *synthesizer.Request) (string, error) {
		if req == nil {
			return "", dragonscale.NewValidationError("synthesis", "synthesis request is nil", nil)
		}
		return gen.Generate(ctx, llm.SynthesisSystem, llm.SynthesisPrompt(*req))
	})

	return Flows{Classify: classify, Synthesize: synthesize}
}

// GenkitClassifierBackend implements classifier.Backend on a Genkit flow.
type GenkitClassifierBackend struct {
	flow FlowRunner[*classifier.Request, string]
}

// NewGenkitClassifierBackend creates a backend that runs flow.
func NewGenkitClassifierBackend(flow FlowRunner[*classifier.Request, string]) *GenkitClassifierBackend {
	return &GenkitClassifierBackend{flow: flow}
}

// Classify implements classifier.Backend.
func (b *GenkitClassifierBackend) Classify(ctx context.Context, req classifier.Request) (string, error) {
	if b.flow == nil {
		return "", dragonscale.NewConfigurationError("classification flow is not defined", nil)
	}
	out, err := b.flow.Run(ctx, &req)
	if err != nil {
		return "", dragonscale.NewClassificationFault("classification flow failed", err)
	}
	return out, nil
}

// GenkitSynthesizerBackend implements synthesizer.Backend on a Genkit flow.
type GenkitSynthesizerBackend struct {
	flow FlowRunner[*synthesizer.Request, string]
}

// NewGenkitSynthesizerBackend creates a backend that runs flow.
func NewGenkitSynthesizerBackend(flow FlowRunner[*synthesizer.Request, string]) *GenkitSynthesizerBackend {
	return &GenkitSynthesizerBackend{flow: flow}
}

// Synthesize implements synthesizer.Backend.
func (b *GenkitSynthesizerBackend) Synthesize(ctx context.Context, req synthesizer.Request) (string, error) {
	if b.flow == nil {
		return "", dragonscale.NewConfigurationError("synthesis flow is not defined", nil)
	}
	out, err := b.flow.Run(ctx, &req)
	if err != nil {
		return "", dragonscale.NewSynthesisFault("synthesis flow failed", err)
	}
	return out, nil
}
