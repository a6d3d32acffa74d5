package dragonscale

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
)

// CreateProcessStateMachine builds the state machine for the request workflow.
func CreateProcessStateMachine(components DragonScaleComponents, eventBus eventbus.EventBus) *StateMachine {
	components.Logger = logging.OrNop(components.Logger)
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInitialized, createInitTransition(components))
	sm.RegisterTransition(StateClassifying, createClassifyingTransition(components))
	sm.RegisterTransition(StateEarlyExit, createEarlyExitTransition(components))
	sm.RegisterTransition(StatePlanning, createPlanningTransition(components))
	sm.RegisterTransition(StateExecuting, createExecutionTransition(components))
	sm.RegisterTransition(StateAggregating, createAggregationTransition(components))
	sm.RegisterTransition(StateSynthesizing, createSynthesisTransition(components))
	sm.RegisterTransition(StateCompleted, createCompleteTransition(components))

	return sm
}

func requestMetadata(pCtx *ProcessContext, extra map[string]interface{}) map[string]interface{} {
	metadata := map[string]interface{}{
		"request_id": pCtx.Shared.RequestID(),
		"session_id": pCtx.Shared.SessionID(),
	}
	for k, v := range extra {
		metadata[k] = v
	}
	return metadata
}

// createInitTransition validates the request.
func createInitTransition(components DragonScaleComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		eventbus.Emit(ctx, eb, eventbus.EventRequestStarted, pCtx.Query(), "StateMachine.Init", requestMetadata(pCtx, nil))
		components.Logger.Info("Processing request", requestMetadata(pCtx, map[string]interface{}{"query_length": len(pCtx.Query())}))

		if strings.TrimSpace(pCtx.Query()) == "" {
			return StateSynthesizing, NewValidationError("request", "query is empty", nil)
		}
		return StateClassifying, nil
	}
}

// createClassifyingTransition classifies the query while loading memories.
func createClassifyingTransition(components DragonScaleComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		var (
			outcome  ClassificationOutcome
			memories []MemoryRecord
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			outcome, err = components.Classifier.Classify(gctx, pCtx.Query(), pCtx.Prior)
			return err
		})

		actorID, hasActor := pCtx.Shared.ActorID()
		if hasActor && components.Memory != nil {
			g.Go(func() error {
				records, err := components.Memory.LoadRecent(gctx, actorID, pCtx.Shared.SessionID(), components.Config.MemoryLimit)
				if err != nil {
					components.Logger.Warn("Memory load failed, continuing without memories", requestMetadata(pCtx, map[string]interface{}{
						"code":  ErrorCode(err),
						"error": err.Error(),
					}))
					eventbus.Emit(ctx, eb, eventbus.EventMemoryLoadFailure, err.Error(), "StateMachine.Classifying", requestMetadata(pCtx, nil))
					return nil
				}
				memories = records
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return StateSynthesizing, err
		}

		pCtx.Outcome = outcome
		pCtx.Intent = outcome.Intent()
		pCtx.Memories = memories

		fields := requestMetadata(pCtx, map[string]interface{}{
			"intent":     string(pCtx.Intent.IntentType),
			"confidence": pCtx.Intent.Confidence,
			"fallback":   pCtx.Intent.UsedFallback,
			"memories":   len(memories),
		})
		if outcome.Degraded() {
			fields["reason"] = outcome.Reason().Error()
			components.Logger.Warn("Classification degraded", fields)
		} else {
			components.Logger.Info("Request classified", fields)
		}

		if components.Planner.IsEarlyExit(pCtx.Intent) {
			return StateEarlyExit, nil
		}
		return StatePlanning, nil
	}
}

// createEarlyExitTransition records the empty plan of an early exit.
func createEarlyExitTransition(components DragonScaleComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		plan, err := components.Planner.BuildPlan(pCtx.Intent, pCtx.Query())
		if err != nil {
			return StateSynthesizing, err
		}
		pCtx.Plan = plan
		pCtx.EarlyExit = true

		eventbus.Emit(ctx, eb, eventbus.EventPlanEarlyExit, string(pCtx.Intent.IntentType), "StateMachine.EarlyExit",
			requestMetadata(pCtx, map[string]interface{}{"confidence": pCtx.Intent.Confidence}))
		components.Logger.Info("Early exit", requestMetadata(pCtx, map[string]interface{}{"intent": string(pCtx.Intent.IntentType)}))
		return StateSynthesizing, nil
	}
}

// createPlanningTransition builds the execution plan.
func createPlanningTransition(components DragonScaleComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		plan, err := components.Planner.BuildPlan(pCtx.Intent, pCtx.Query())
		if err != nil {
			eventbus.Emit(ctx, eb, eventbus.EventPlanValidationFailure, err.Error(), "StateMachine.Planning", requestMetadata(pCtx, nil))
			components.Logger.Error("Plan validation failed", requestMetadata(pCtx, map[string]interface{}{"error": err.Error()}))
			return StateSynthesizing, err
		}
		pCtx.Plan = plan

		if plan.IsEmpty() {
			pCtx.EarlyExit = true
			eventbus.Emit(ctx, eb, eventbus.EventPlanEarlyExit, string(pCtx.Intent.IntentType), "StateMachine.Planning",
				requestMetadata(pCtx, map[string]interface{}{"reason": "no units routed"}))
			components.Logger.Info("No units routed for intent", requestMetadata(pCtx, map[string]interface{}{"intent": string(pCtx.Intent.IntentType)}))
			return StateSynthesizing, nil
		}

		eventbus.Emit(ctx, eb, eventbus.EventPlanBuilt, plan, "StateMachine.Planning",
			requestMetadata(pCtx, map[string]interface{}{"step_count": plan.StepCount(), "batch_count": len(plan.Batches)}))
		return StateExecuting, nil
	}
}

// createExecutionTransition runs the plan. Cancellation keeps whatever
// completed; a cancelled plan without any completed step is fatal.
func createExecutionTransition(components DragonScaleComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		plan, err := components.Scheduler.Execute(ctx, pCtx.Plan, pCtx.Shared)
		if plan != nil {
			pCtx.Plan = plan
		}
		if err == nil {
			return StateAggregating, nil
		}

		// Plan validation is fatal outright; cancellation keeps partial results.
		cancelled := IsCode(err, ErrCodeCancelled) || (ErrorCode(err) == "" && IsFatal(err))
		if !cancelled {
			return StateSynthesizing, err
		}

		if completedSteps(pCtx.Plan) == 0 {
			return StateSynthesizing, NewCancelledError("execution", err)
		}
		pCtx.Cancelled = err
		components.Logger.Warn("Execution cancelled with partial results", requestMetadata(pCtx, map[string]interface{}{
			"completed": completedSteps(pCtx.Plan),
			"steps":     pCtx.Plan.StepCount(),
		}))
		return StateAggregating, nil
	}
}

func completedSteps(plan *ExecutionPlan) int {
	if plan == nil {
		return 0
	}
	n := 0
	for _, step := range plan.Steps {
		if step.Status() == StepCompleted {
			n++
		}
	}
	return n
}

// createAggregationTransition merges step results.
func createAggregationTransition(components DragonScaleComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		pCtx.Aggregated = Aggregate(pCtx.Plan)

		metadata := requestMetadata(pCtx, map[string]interface{}{
			"succeeded": pCtx.Aggregated.SuccessCount,
			"failed":    pCtx.Aggregated.FailureCount,
			"skipped":   pCtx.Aggregated.SkippedCount,
		})
		if len(pCtx.Aggregated.Conflicts) > 0 {
			metadata["conflicts"] = pCtx.Aggregated.Conflicts
		}
		eventbus.Emit(ctx, eb, eventbus.EventAggregationCompleted, pCtx.Aggregated, "StateMachine.Aggregating", metadata)
		components.Logger.Debug("Results aggregated", metadata)
		return StateSynthesizing, nil
	}
}

// createSynthesisTransition produces the final response. It runs detached
// from the request context so a degraded answer survives cancellation.
func createSynthesisTransition(components DragonScaleComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		synthCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), components.Config.SynthesisTimeout)
		defer cancel()

		var resp FinalResponse
		if fatal := pCtx.Fatal(); fatal != nil {
			resp = components.Synthesizer.ErrorResponse(fatal)
		} else {
			resp = components.Synthesizer.Synthesize(synthCtx, SynthesisRequest{
				Query:      pCtx.Query(),
				Intent:     pCtx.Intent,
				Aggregated: pCtx.Aggregated,
				Memories:   pCtx.Memories,
			})
		}

		resp.RequestID = pCtx.Shared.RequestID()
		if resp.Intent == "" {
			resp.Intent = pCtx.Intent.IntentType
		}
		if resp.Sections == nil {
			resp.Sections = []Section{}
		}
		pCtx.SetResponse(resp)
		return StateCompleted, nil
	}
}

// createCompleteTransition persists the answer summary and reports the outcome.
func createCompleteTransition(components DragonScaleComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		resp := pCtx.Response()
		fatal := pCtx.Fatal()
		detached := context.WithoutCancel(ctx)

		if actorID, ok := pCtx.Shared.ActorID(); ok && fatal == nil && components.Memory != nil && resp != nil && resp.Kind == ResponseAnswer {
			saveCtx, cancel := context.WithTimeout(detached, components.Config.MemoryTimeout)
			summary := fmt.Sprintf("%s: %s", pCtx.Intent.IntentType, resp.Summary)
			if err := components.Memory.SaveSummary(saveCtx, actorID, pCtx.Shared.SessionID(), summary); err != nil {
				components.Logger.Warn("Memory save failed", requestMetadata(pCtx, map[string]interface{}{"error": err.Error()}))
				eventbus.Emit(detached, eb, eventbus.EventMemorySaveFailure, err.Error(), "StateMachine.Completed", requestMetadata(pCtx, nil))
			} else {
				eventbus.Emit(detached, eb, eventbus.EventMemorySaved, summary, "StateMachine.Completed", requestMetadata(pCtx, nil))
			}
			cancel()
		}

		metadata := requestMetadata(pCtx, map[string]interface{}{
			"duration_ms": pCtx.GetTotalDuration().Milliseconds(),
		})
		if resp != nil {
			metadata["kind"] = string(resp.Kind)
		}
		if fatal != nil {
			metadata["error"] = fatal.Error()
			metadata["error_stage"] = pCtx.ErrorStage()
			eventbus.Emit(detached, eb, eventbus.EventRequestFailed, pCtx.Query(), "StateMachine.Completed", metadata)
			components.Logger.Error("Request failed", metadata)
		} else {
			eventbus.Emit(detached, eb, eventbus.EventRequestCompleted, pCtx.Query(), "StateMachine.Completed", metadata)
			components.Logger.Info("Request completed", metadata)
		}
		return StateCompleted, nil
	}
}
