package dragonscale

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
)

// ProcessState represents the current state of a request.
type ProcessState string

const (
	// StateInitialized is the initial state of the request
	StateInitialized ProcessState = "initialized"
	// StateClassifying runs classification and the memory load
	StateClassifying ProcessState = "classifying"
	// StateEarlyExit skips execution for irrelevant or unclear requests
	StateEarlyExit ProcessState = "early_exit"
	// StatePlanning builds the execution plan
	StatePlanning ProcessState = "planning"
	// StateExecuting runs the plan's batches
	StateExecuting ProcessState = "executing"
	// StateAggregating merges step results
	StateAggregating ProcessState = "aggregating"
	// StateSynthesizing produces the final response
	StateSynthesizing ProcessState = "synthesizing"
	// StateCompleted persists the summary and ends the request
	StateCompleted ProcessState = "completed"
)

// maxTransitions bounds a single run of the state machine.
const maxTransitions = 32

// StateVisit records one stay in a state.
type StateVisit struct {
	State   ProcessState `json:"state"`
	Entered time.Time    `json:"entered"`
	Left    time.Time    `json:"left,omitempty"`
}

// Duration returns how long the visit lasted, or has lasted so far.
func (v StateVisit) Duration() time.Duration {
	if v.Left.IsZero() {
		return time.Since(v.Entered)
	}
	return v.Left.Sub(v.Entered)
}

// ProcessContext carries one request through the state machine.
// Transitions own the intermediate fields; the state, response and fatal
// error are guarded for concurrent readers such as async status queries.
type ProcessContext struct {
	Shared SharedContext
	Prior  []Turn

	// Intermediate results
	Outcome    ClassificationOutcome
	Intent     IntentResult
	Memories   []MemoryRecord
	Plan       *ExecutionPlan
	Aggregated AggregatedResult
	EarlyExit  bool
	// Cancelled is the scheduler's cancellation cause when partial results survived.
	Cancelled error

	StartTime time.Time

	mu         sync.RWMutex
	current    ProcessState
	history    []StateVisit
	response   *FinalResponse
	fatal      error
	errorStage string
	endTime    time.Time
}

// NewProcessContext creates a process context for sc.
func NewProcessContext(sc SharedContext, prior []Turn) *ProcessContext {
	now := time.Now()
	return &ProcessContext{
		Shared:    sc,
		Prior:     prior,
		StartTime: now,
		current:   StateInitialized,
		history:   []StateVisit{{State: StateInitialized, Entered: now}},
	}
}

// Query returns the request's query.
func (pc *ProcessContext) Query() string {
	return pc.Shared.Query()
}

// State returns the current state.
func (pc *ProcessContext) State() ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.current
}

// Enter closes the current visit and starts a visit to state.
func (pc *ProcessContext) Enter(state ProcessState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	now := time.Now()
	if n := len(pc.history); n > 0 && pc.history[n-1].Left.IsZero() {
		pc.history[n-1].Left = now
	}
	pc.current = state
	pc.history = append(pc.history, StateVisit{State: state, Entered: now})
}

// History returns the visited states in order.
func (pc *ProcessContext) History() []StateVisit {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return append([]StateVisit(nil), pc.history...)
}

// VisitedStates returns the states of History.
func (pc *ProcessContext) VisitedStates() []ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	states := make([]ProcessState, len(pc.history))
	for i, visit := range pc.history {
		states[i] = visit.State
	}
	return states
}

// GetStateDuration returns the time spent in state across all visits.
func (pc *ProcessContext) GetStateDuration(state ProcessState) time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	var total time.Duration
	for _, visit := range pc.history {
		if visit.State == state {
			total += visit.Duration()
		}
	}
	return total
}

// GetTotalDuration returns the total duration of the request so far.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if !pc.endTime.IsZero() {
		return pc.endTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// SetFatal records the request-fatal cause. The first cause wins.
func (pc *ProcessContext) SetFatal(err error, stage string) {
	if err == nil {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.fatal == nil {
		pc.fatal = err
		pc.errorStage = stage
	}
}

// Fatal returns the request-fatal cause, if any.
func (pc *ProcessContext) Fatal() error {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.fatal
}

// ErrorStage returns the state the fatal cause was recorded in.
func (pc *ProcessContext) ErrorStage() string {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.errorStage
}

// SetResponse stores the final response.
func (pc *ProcessContext) SetResponse(resp FinalResponse) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.response = &resp
}

// Response returns the final response, or nil before synthesis.
func (pc *ProcessContext) Response() *FinalResponse {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.response
}

// EndTime returns when the request finished, or the zero time.
func (pc *ProcessContext) EndTime() time.Time {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.endTime
}

// IsTerminal reports whether the request has finished.
func (pc *ProcessContext) IsTerminal() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return !pc.endTime.IsZero()
}

func (pc *ProcessContext) finish() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	now := time.Now()
	if n := len(pc.history); n > 0 && pc.history[n-1].Left.IsZero() {
		pc.history[n-1].Left = now
	}
	pc.endTime = now
}

// StateTransition runs the work of one state and returns the next state.
// A returned error is recorded as the request-fatal cause.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine represents a finite state machine for request processing.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a state machine without transitions.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers the transition run in state.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs transitions from the current state until the completed
// state's transition has run. The returned response is never nil.
//
// A transition error or a missing transition records a fatal cause and
// routes the request to synthesizing, so an error response is still produced.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (*FinalResponse, error) {
	for steps := 0; ; steps++ {
		state := pCtx.State()
		if steps >= maxTransitions {
			pCtx.SetFatal(NewInternalError(string(state), "state machine exceeded its transition limit", nil), string(state))
			break
		}

		var next ProcessState
		transition, exists := sm.transitions[state]
		if !exists {
			pCtx.SetFatal(NewInternalError(string(state), fmt.Sprintf("no transition defined for state: %s", state), nil), string(state))
			next = recoveryState(state)
		} else {
			var err error
			next, err = transition(ctx, sm.eventBus, pCtx)
			if err != nil {
				pCtx.SetFatal(err, string(state))
				next = recoveryState(state)
			}
		}

		if state == StateCompleted {
			break
		}
		pCtx.Enter(next)
		eventbus.Emit(ctx, sm.eventBus, eventbus.EventStateEntered, string(next), "StateMachine",
			map[string]interface{}{"request_id": pCtx.Shared.RequestID(), "from": string(state)})
	}

	if pCtx.Response() == nil {
		pCtx.SetResponse(fallbackResponse(pCtx))
	}
	pCtx.finish()
	return pCtx.Response(), pCtx.Fatal()
}

// recoveryState is where a failed state hands over: synthesis if it has not
// run yet, otherwise completion.
func recoveryState(state ProcessState) ProcessState {
	switch state {
	case StateSynthesizing, StateCompleted:
		return StateCompleted
	}
	return StateSynthesizing
}

func fallbackResponse(pCtx *ProcessContext) FinalResponse {
	return FinalResponse{
		RequestID: pCtx.Shared.RequestID(),
		Kind:      ResponseError,
		Intent:    pCtx.Intent.IntentType,
		Sections:  []Section{},
		Summary:   "Something went wrong while handling your request. Please try again.",
	}
}
