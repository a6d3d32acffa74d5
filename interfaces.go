package dragonscale

import "context"

// Unit is an execution unit ("team") that performs domain work for one plan step.
type Unit interface {
	// Name returns the stable registry key of the unit.
	Name() string

	// Capabilities returns the capability tags the planner routes intents by.
	Capabilities() []string

	// Invoke performs the unit's work. The result is opaque to the orchestrator.
	Invoke(ctx context.Context, sc SharedContext, input StepInput) (any, error)
}

// Classifier turns a query into an intent.
// It only returns an error when the caller violates its contract (empty query).
type Classifier interface {
	Classify(ctx context.Context, query string, prior []Turn) (ClassificationOutcome, error)
}

// PlanBuilder turns an intent into an execution plan.
type PlanBuilder interface {
	BuildPlan(intent IntentResult, query string) (*ExecutionPlan, error)
	IsEarlyExit(intent IntentResult) bool
}

// Scheduler runs a plan's batches, mutating steps in place to terminal statuses.
type Scheduler interface {
	Execute(ctx context.Context, plan *ExecutionPlan, sc SharedContext) (*ExecutionPlan, error)
}

// Synthesizer produces the final response.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) FinalResponse
	ErrorResponse(err error) FinalResponse
}

// MemoryGateway loads and persists conversation summaries.
type MemoryGateway interface {
	LoadRecent(ctx context.Context, actorID int, sessionID string, limit int) ([]MemoryRecord, error)
	SaveSummary(ctx context.Context, actorID int, sessionID, summary string) error
}
