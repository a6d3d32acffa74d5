package dragonscale

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IntentType is the classified purpose of a user query.
type IntentType string

const (
	IntentMemberInquiry      IntentType = "member_inquiry"
	IntentBooking            IntentType = "booking"
	IntentAnalysis           IntentType = "analysis"
	IntentSearch             IntentType = "search"
	IntentDocumentGeneration IntentType = "document_generation"
	IntentUnclear            IntentType = "unclear"
	IntentIrrelevant         IntentType = "irrelevant"
)

// KnownIntents lists every intent type the engine understands, in priority order.
func KnownIntents() []IntentType {
	return []IntentType{
		IntentMemberInquiry,
		IntentBooking,
		IntentAnalysis,
		IntentSearch,
		IntentDocumentGeneration,
		IntentUnclear,
		IntentIrrelevant,
	}
}

// ParseIntentType normalizes s and reports whether it names a known intent.
func ParseIntentType(s string) (IntentType, bool) {
	normalized := IntentType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownIntents() {
		if normalized == known {
			return known, true
		}
	}
	return "", false
}

// SharedContext is the immutable per-request record handed to every execution unit.
type SharedContext struct {
	requestID string
	query     string
	sessionID string
	actorID   int
	hasActor  bool
	timestamp time.Time
}

// NewSharedContext creates a SharedContext. A nil actorID means an anonymous request.
func NewSharedContext(query, sessionID string, actorID *int) SharedContext {
	sc := SharedContext{
		requestID: uuid.New().String(),
		query:     query,
		sessionID: sessionID,
		timestamp: time.Now(),
	}
	if actorID != nil {
		sc.actorID = *actorID
		sc.hasActor = true
	}
	return sc
}

func (sc SharedContext) RequestID() string    { return sc.requestID }
func (sc SharedContext) Query() string        { return sc.query }
func (sc SharedContext) SessionID() string    { return sc.sessionID }
func (sc SharedContext) Timestamp() time.Time { return sc.timestamp }

// ActorID returns the actor identifier and whether one was supplied.
func (sc SharedContext) ActorID() (int, bool) {
	return sc.actorID, sc.hasActor
}

// Turn is one message of caller-supplied conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IntentResult is produced once per request by the classifier and never mutated afterward.
type IntentResult struct {
	IntentType   IntentType        `json:"intent_type"`
	Confidence   float64           `json:"confidence"`
	Keywords     []string          `json:"keywords"`
	Entities     map[string]string `json:"entities"`
	UsedFallback bool              `json:"used_fallback"`
}

// Validate checks the result is well-formed.
func (r IntentResult) Validate() error {
	if r.IntentType == "" {
		return NewValidationError("classification", "intent type is empty", nil)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return NewValidationError("classification", fmt.Sprintf("confidence %v outside [0,1]", r.Confidence), nil)
	}
	return nil
}

// ClassificationOutcome distinguishes a primary classification from a fallback one.
type ClassificationOutcome struct {
	intent IntentResult
	reason error
}

// Classified wraps a result produced by the primary backend.
func Classified(intent IntentResult) ClassificationOutcome {
	return ClassificationOutcome{intent: intent}
}

// ClassificationDegraded wraps a fallback result together with the fault that caused it.
func ClassificationDegraded(intent IntentResult, reason error) ClassificationOutcome {
	intent.UsedFallback = true
	if reason == nil {
		reason = NewClassificationFault("classification degraded", nil)
	}
	return ClassificationOutcome{intent: intent, reason: reason}
}

func (o ClassificationOutcome) Intent() IntentResult { return o.intent }
func (o ClassificationOutcome) Degraded() bool       { return o.reason != nil }
func (o ClassificationOutcome) Reason() error        { return o.reason }

// StepStatus represents the possible states of an execution step.
type StepStatus string

const (
	// StepPending indicates the step has not started.
	StepPending StepStatus = "pending"
	// StepInProgress indicates the step's unit is being invoked.
	StepInProgress StepStatus = "in_progress"
	// StepCompleted indicates the unit returned a result.
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the unit errored, panicked, timed out or was cancelled.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step never ran because a dependency did not complete.
	StepSkipped StepStatus = "skipped"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// ExecutionStep is one unit invocation inside a plan.
type ExecutionStep struct {
	ID                   string        `json:"id"`
	UnitName             string        `json:"unit"`
	DependsOn            []string      `json:"depends_on,omitempty"`
	OptionalDependencies bool          `json:"optional_dependencies,omitempty"`
	Timeout              time.Duration `json:"timeout,omitempty"`

	// Unit is resolved once by the plan builder.
	Unit Unit `json:"-"`

	status      StepStatus
	startedAt   time.Time
	completedAt time.Time
	result      any
	err         error
	mutex       sync.Mutex
}

// NewExecutionStep creates a pending step.
func NewExecutionStep(id string, unit Unit, dependsOn ...string) *ExecutionStep {
	step := &ExecutionStep{
		ID:        id,
		DependsOn: dependsOn,
		Unit:      unit,
		status:    StepPending,
	}
	if unit != nil {
		step.UnitName = unit.Name()
	}
	return step
}

// Status returns the step's current status.
func (s *ExecutionStep) Status() StepStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.status == "" {
		return StepPending
	}
	return s.status
}

// Result returns the unit's result. It is only set once the step is Completed.
func (s *ExecutionStep) Result() any {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.result
}

// Err returns the error recorded for a Failed or Skipped step.
func (s *ExecutionStep) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// StartedAt returns when the step entered InProgress.
func (s *ExecutionStep) StartedAt() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.startedAt
}

// CompletedAt returns when the step reached a terminal status after running.
func (s *ExecutionStep) CompletedAt() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.completedAt
}

// Duration returns the execution duration of the step.
func (s *ExecutionStep) Duration() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.startedAt.IsZero() {
		return 0
	}
	if s.completedAt.IsZero() {
		return time.Since(s.startedAt)
	}
	return s.completedAt.Sub(s.startedAt)
}

// Start moves a pending step to InProgress.
func (s *ExecutionStep) Start(now time.Time) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.status != StepPending && s.status != "" {
		return false
	}
	s.status = StepInProgress
	s.startedAt = now
	return true
}

// Complete records the unit's result. Only an InProgress step can complete.
func (s *ExecutionStep) Complete(result any, now time.Time) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.status != StepInProgress {
		return false
	}
	s.status = StepCompleted
	s.result = result
	s.completedAt = now
	return true
}

// Fail records err against a pending or in-progress step.
func (s *ExecutionStep) Fail(err error, now time.Time) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.status.IsTerminal() {
		return false
	}
	s.status = StepFailed
	s.err = err
	s.completedAt = now
	return true
}

// Skip marks a step that never ran.
func (s *ExecutionStep) Skip(err error) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.status != StepPending && s.status != "" {
		return false
	}
	s.status = StepSkipped
	s.err = err
	return true
}

// ExecutionPlan is the layered dependency graph of steps for one request.
type ExecutionPlan struct {
	Intent  IntentResult     `json:"intent"`
	Steps   []*ExecutionStep `json:"steps"`
	Batches [][]string       `json:"batches"`

	stepMap map[string]*ExecutionStep
}

// NewExecutionPlan creates a plan and indexes its steps.
func NewExecutionPlan(intent IntentResult, steps []*ExecutionStep, batches [][]string) *ExecutionPlan {
	plan := &ExecutionPlan{
		Intent:  intent,
		Steps:   steps,
		Batches: batches,
		stepMap: make(map[string]*ExecutionStep, len(steps)),
	}
	for _, step := range steps {
		plan.stepMap[step.ID] = step
	}
	return plan
}

// EmptyPlan returns the zero-step plan used for early exit.
func EmptyPlan(intent IntentResult) *ExecutionPlan {
	return NewExecutionPlan(intent, nil, nil)
}

// Step returns the step with the given id.
func (p *ExecutionPlan) Step(id string) (*ExecutionStep, bool) {
	if p.stepMap == nil {
		p.stepMap = make(map[string]*ExecutionStep, len(p.Steps))
		for _, step := range p.Steps {
			p.stepMap[step.ID] = step
		}
	}
	step, ok := p.stepMap[id]
	return step, ok
}

func (p *ExecutionPlan) StepCount() int { return len(p.Steps) }
func (p *ExecutionPlan) IsEmpty() bool  { return len(p.Steps) == 0 }

// OrderedSteps returns the steps in batch order, which is the order results are merged in.
func (p *ExecutionPlan) OrderedSteps() []*ExecutionStep {
	ordered := make([]*ExecutionStep, 0, len(p.Steps))
	for _, batch := range p.Batches {
		for _, id := range batch {
			if step, ok := p.Step(id); ok {
				ordered = append(ordered, step)
			}
		}
	}
	return ordered
}

// Terminal reports whether every step has reached a terminal status.
func (p *ExecutionPlan) Terminal() bool {
	for _, step := range p.Steps {
		if !step.Status().IsTerminal() {
			return false
		}
	}
	return true
}

// Validate checks that every step belongs to exactly one batch and that every
// dependency sits in a strictly earlier batch.
func (p *ExecutionPlan) Validate() error {
	batchOf := make(map[string]int, len(p.Steps))
	for i, batch := range p.Batches {
		for _, id := range batch {
			if _, ok := p.Step(id); !ok {
				return NewPlanValidationError(fmt.Sprintf("batch %d references unknown step '%s'", i, id), nil)
			}
			if prev, dup := batchOf[id]; dup {
				return NewPlanValidationError(fmt.Sprintf("step '%s' appears in batches %d and %d", id, prev, i), nil)
			}
			batchOf[id] = i
		}
	}
	for _, step := range p.Steps {
		idx, ok := batchOf[step.ID]
		if !ok {
			return NewPlanValidationError(fmt.Sprintf("step '%s' is not assigned to a batch", step.ID), nil)
		}
		for _, dep := range step.DependsOn {
			depIdx, ok := batchOf[dep]
			if !ok {
				return NewPlanValidationError(fmt.Sprintf("step '%s' depends on missing step '%s'", step.ID, dep), nil)
			}
			if depIdx >= idx {
				return NewPlanValidationError(fmt.Sprintf("step '%s' in batch %d depends on '%s' in batch %d", step.ID, idx, dep, depIdx), nil)
			}
		}
	}
	return nil
}

// StepInput is what a unit receives besides the shared context.
type StepInput struct {
	StepID   string
	UnitName string
	Intent   IntentResult
	// Dependencies holds the results of Completed dependencies keyed by step id.
	Dependencies map[string]any
}

// AggregatedResult is the canonical merge of a terminal plan's step results.
type AggregatedResult struct {
	ByUnit       map[string]any `json:"by_unit"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	SkippedCount int            `json:"skipped_count"`
	FailedUnits  []string       `json:"failed_units,omitempty"`
	SkippedUnits []string       `json:"skipped_units,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	Conflicts    []string       `json:"conflicts,omitempty"`
}

// Total returns the number of steps accounted for.
func (a AggregatedResult) Total() int {
	return a.SuccessCount + a.FailureCount + a.SkippedCount
}

// Degraded reports whether any step did not complete. Skipped steps count as failures here.
func (a AggregatedResult) Degraded() bool {
	return a.FailureCount+a.SkippedCount > 0
}

// HasData reports whether at least one unit produced a result.
func (a AggregatedResult) HasData() bool {
	return len(a.ByUnit) > 0
}

// UnsuccessfulUnits returns failed and skipped unit names, sorted.
func (a AggregatedResult) UnsuccessfulUnits() []string {
	units := append(append([]string{}, a.FailedUnits...), a.SkippedUnits...)
	sort.Strings(units)
	return units
}

// ResponseKind classifies a FinalResponse.
type ResponseKind string

const (
	ResponseAnswer   ResponseKind = "answer"
	ResponseRedirect ResponseKind = "redirect"
	ResponseError    ResponseKind = "error"
)

// Priority orders sections for presentation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority maps s to a Priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Section is one titled block of a response.
type Section struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Priority Priority `json:"priority"`
}

// FinalResponse is what the caller always receives.
type FinalResponse struct {
	RequestID string       `json:"request_id,omitempty"`
	Kind      ResponseKind `json:"kind"`
	Intent    IntentType   `json:"intent,omitempty"`
	Sections  []Section    `json:"sections"`
	Summary   string       `json:"summary"`
}

// MemoryRecord is a persisted conversation summary.
type MemoryRecord struct {
	SessionID   string    `json:"session_id"`
	Summary     string    `json:"summary"`
	LastUpdated time.Time `json:"last_updated"`
}

// SynthesisRequest carries everything the synthesizer may use.
type SynthesisRequest struct {
	Query      string
	Intent     IntentResult
	Aggregated AggregatedResult
	Memories   []MemoryRecord
}
