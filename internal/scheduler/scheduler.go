// Package scheduler executes execution plans batch by batch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
)

const (
	DefaultStepTimeout = 30 * time.Second
	DefaultMaxInFlight = 8
)

// BatchScheduler runs each batch of a plan concurrently and joins before the next.
type BatchScheduler struct {
	stepTimeout time.Duration
	maxInFlight int
	eventBus    eventbus.EventBus
	logger      logging.Logger
	now         func() time.Time

	metrics SchedulerMetrics
}

// Option represents an option for configuring the BatchScheduler.
type Option func(*BatchScheduler)

// WithStepTimeout sets the default per-step timeout.
func WithStepTimeout(timeout time.Duration) Option {
	return func(s *BatchScheduler) {
		s.stepTimeout = timeout
	}
}

// WithMaxInFlight caps the number of steps running at once per request.
func WithMaxInFlight(n int) Option {
	return func(s *BatchScheduler) {
		s.maxInFlight = n
	}
}

// WithEventBus publishes batch and step events.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *BatchScheduler) {
		s.eventBus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *BatchScheduler) {
		s.logger = logger
	}
}

// New creates a scheduler with default settings.
func New(options ...Option) *BatchScheduler {
	s := &BatchScheduler{
		stepTimeout: DefaultStepTimeout,
		maxInFlight: DefaultMaxInFlight,
		now:         time.Now,
		metrics:     SchedulerMetrics{ShortestStepTime: time.Duration(1<<63 - 1)},
	}
	for _, option := range options {
		option(s)
	}
	if s.stepTimeout <= 0 {
		s.stepTimeout = DefaultStepTimeout
	}
	if s.maxInFlight < 1 {
		s.maxInFlight = DefaultMaxInFlight
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// Execute runs plan to completion and returns it with every step terminal.
// The returned error is non-nil only for an invalid plan or when ctx ends
// before every batch ran; in the latter case the plan still carries all
// results that completed.
func (s *BatchScheduler) Execute(ctx context.Context, plan *dragonscale.ExecutionPlan, sc dragonscale.SharedContext) (*dragonscale.ExecutionPlan, error) {
	if plan == nil {
		return nil, dragonscale.NewPlanValidationError("plan is nil", nil)
	}
	if err := plan.Validate(); err != nil {
		return plan, err
	}

	startTime := s.now()
	s.logger.Info("Starting plan execution", map[string]interface{}{
		"request_id":  sc.RequestID(),
		"total_steps": plan.StepCount(),
		"batches":     len(plan.Batches),
	})

	for i, batch := range plan.Batches {
		if err := ctx.Err(); err != nil {
			cancelErr := dragonscale.NewCancelledError("execution", err)
			s.abandon(ctx, plan, i, cancelErr)
			s.logFinish(plan, sc, startTime, cancelErr)
			return plan, cancelErr
		}
		s.runBatch(ctx, plan, i, batch, sc)
	}

	// A deadline that fires after the last join interrupted nothing.
	if err := ctx.Err(); err != nil && interrupted(plan) {
		cancelErr := dragonscale.NewCancelledError("execution", err)
		s.logFinish(plan, sc, startTime, cancelErr)
		return plan, cancelErr
	}

	s.logFinish(plan, sc, startTime, nil)
	return plan, nil
}

func (s *BatchScheduler) runBatch(ctx context.Context, plan *dragonscale.ExecutionPlan, index int, batch []string, sc dragonscale.SharedContext) {
	s.metrics.recordBatch()
	s.emit(ctx, eventbus.EventBatchStarted, batch, map[string]interface{}{"batch": index, "size": len(batch)})

	runnable := make([]*dragonscale.ExecutionStep, 0, len(batch))
	for _, id := range batch {
		step, _ := plan.Step(id)
		if blocker, blocked := s.blockedBy(plan, step); blocked {
			skipErr := dragonscale.NewStepSkippedError(step.ID, blocker)
			if step.Skip(skipErr) {
				s.metrics.recordSkipped()
				s.logger.Warn("Step skipped", map[string]interface{}{"step_id": step.ID, "unit": step.UnitName, "dependency": blocker})
				s.emit(ctx, eventbus.EventStepSkipped, step.ID, map[string]interface{}{"unit": step.UnitName, "dependency": blocker})
			}
			continue
		}
		runnable = append(runnable, step)
	}

	// Every runnable step is InProgress before any of them is launched.
	// A step another Execute already claimed is never invoked again.
	now := s.now()
	claimed := runnable[:0]
	for _, step := range runnable {
		if step.Start(now) {
			claimed = append(claimed, step)
		}
	}
	runnable = claimed

	if len(runnable) > 0 {
		workers := s.maxInFlight
		if len(runnable) < workers {
			workers = len(runnable)
		}
		workerPool := pool.New().WithMaxGoroutines(workers)
		for _, step := range runnable {
			step := step
			workerPool.Go(func() {
				s.runStep(ctx, plan, step, sc)
			})
		}
		workerPool.Wait()
	}

	s.emit(ctx, eventbus.EventBatchCompleted, batch, map[string]interface{}{"batch": index})
}

// blockedBy returns the first dependency that did not complete, unless the step tolerates it.
func (s *BatchScheduler) blockedBy(plan *dragonscale.ExecutionPlan, step *dragonscale.ExecutionStep) (string, bool) {
	if step.OptionalDependencies {
		return "", false
	}
	for _, depID := range step.DependsOn {
		dep, ok := plan.Step(depID)
		if !ok || dep.Status() != dragonscale.StepCompleted {
			return depID, true
		}
	}
	return "", false
}

type stepOutcome struct {
	result any
	err    error
}

func (s *BatchScheduler) runStep(ctx context.Context, plan *dragonscale.ExecutionPlan, step *dragonscale.ExecutionStep, sc dragonscale.SharedContext) {
	defer func() {
		if r := recover(); r != nil {
			s.finishFailed(ctx, step, dragonscale.NewStepExecutionFault(step.ID, step.UnitName, fmt.Errorf("panic: %v", r)))
		}
	}()

	// A slot may free up only after the request was cancelled; never invoke then.
	if err := ctx.Err(); err != nil {
		s.finishFailed(ctx, step, dragonscale.NewCancelledError("execution", err))
		return
	}

	if step.Unit == nil {
		s.finishFailed(ctx, step, dragonscale.NewUnitNotFoundError("execution", step.UnitName))
		return
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = s.stepTimeout
	}

	s.logger.Debug("Starting step execution", map[string]interface{}{"step_id": step.ID, "unit": step.UnitName, "timeout": timeout.String()})
	s.emit(ctx, eventbus.EventStepStarted, step.ID, map[string]interface{}{"unit": step.UnitName})

	input := dragonscale.StepInput{
		StepID:       step.ID,
		UnitName:     step.UnitName,
		Intent:       plan.Intent,
		Dependencies: dependencyResults(plan, step),
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned invocation can always deliver and exit.
	done := make(chan stepOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		result, err := step.Unit.Invoke(stepCtx, sc, input)
		done <- stepOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			s.finishFailed(ctx, step, s.classifyError(ctx, stepCtx, step, timeout, out.err))
			return
		}
		if step.Complete(out.result, s.now()) {
			s.metrics.recordCompleted(step.Duration())
			s.logger.Info("Step completed", map[string]interface{}{"step_id": step.ID, "unit": step.UnitName, "duration": step.Duration().String()})
			s.emit(ctx, eventbus.EventStepCompleted, step.ID, map[string]interface{}{"unit": step.UnitName})
		}
	case <-stepCtx.Done():
		s.finishFailed(ctx, step, s.classifyError(ctx, stepCtx, step, timeout, stepCtx.Err()))
	}
}

func (s *BatchScheduler) classifyError(ctx, stepCtx context.Context, step *dragonscale.ExecutionStep, timeout time.Duration, err error) error {
	switch {
	case ctx.Err() != nil:
		return dragonscale.NewCancelledError("execution", ctx.Err())
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		return dragonscale.NewTimeoutError("execution", timeout, dragonscale.NewStepExecutionFault(step.ID, step.UnitName, context.DeadlineExceeded))
	default:
		return dragonscale.NewStepExecutionFault(step.ID, step.UnitName, err)
	}
}

func (s *BatchScheduler) finishFailed(ctx context.Context, step *dragonscale.ExecutionStep, err error) {
	if !step.Fail(err, s.now()) {
		return
	}
	s.metrics.recordFailed(step.Duration(), dragonscale.IsCode(err, dragonscale.ErrCodeTimeout))
	s.logger.Warn("Step failed", map[string]interface{}{
		"step_id":  step.ID,
		"unit":     step.UnitName,
		"error":    err,
		"duration": step.Duration().String(),
	})
	// Cancellation events are published on a detached context so subscribers still see them.
	s.emit(context.WithoutCancel(ctx), eventbus.EventStepFailed, step.ID, map[string]interface{}{
		"unit":  step.UnitName,
		"error": err.Error(),
		"code":  dragonscale.ErrorCode(err),
	})
}

// abandon skips every still-pending step from batch index from onwards.
func (s *BatchScheduler) abandon(ctx context.Context, plan *dragonscale.ExecutionPlan, from int, cause error) {
	for _, batch := range plan.Batches[from:] {
		for _, id := range batch {
			step, _ := plan.Step(id)
			if step.Skip(cause) {
				s.metrics.recordSkipped()
				s.emit(context.WithoutCancel(ctx), eventbus.EventStepSkipped, step.ID, map[string]interface{}{"unit": step.UnitName, "reason": "cancelled"})
			}
		}
	}
}

// interrupted reports whether cancellation failed or skipped any step.
func interrupted(plan *dragonscale.ExecutionPlan) bool {
	for _, step := range plan.Steps {
		if dragonscale.IsCode(step.Err(), dragonscale.ErrCodeCancelled) {
			return true
		}
	}
	return false
}

func dependencyResults(plan *dragonscale.ExecutionPlan, step *dragonscale.ExecutionStep) map[string]any {
	results := make(map[string]any, len(step.DependsOn))
	for _, depID := range step.DependsOn {
		dep, ok := plan.Step(depID)
		if ok && dep.Status() == dragonscale.StepCompleted {
			results[depID] = dep.Result()
		}
	}
	return results
}

func (s *BatchScheduler) logFinish(plan *dragonscale.ExecutionPlan, sc dragonscale.SharedContext, start time.Time, err error) {
	var completed, failed, skipped int
	for _, step := range plan.Steps {
		switch step.Status() {
		case dragonscale.StepCompleted:
			completed++
		case dragonscale.StepFailed:
			failed++
		case dragonscale.StepSkipped:
			skipped++
		}
	}
	fields := map[string]interface{}{
		"request_id":      sc.RequestID(),
		"total_steps":     plan.StepCount(),
		"completed_steps": completed,
		"failed_steps":    failed,
		"skipped_steps":   skipped,
		"total_duration":  s.now().Sub(start).String(),
	}
	if err != nil {
		fields["error"] = err
		s.logger.Warn("Plan execution interrupted", fields)
		return
	}
	s.logger.Info("Plan execution finished", fields)
}

func (s *BatchScheduler) emit(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	eventbus.Emit(ctx, s.eventBus, eventType, payload, "Scheduler", metadata)
}

// GetMetrics returns a copy of the cumulative execution metrics.
func (s *BatchScheduler) GetMetrics() SchedulerMetrics {
	return s.metrics.Copy()
}
