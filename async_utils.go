package dragonscale

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
)

type asyncExecution struct {
	pCtx      *ProcessContext
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
	mu        sync.Mutex
}

// AsyncExecutionStatus represents the status information for an async execution.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	RequestID    string        `json:"request_id"`
	Query        string        `json:"query"`
	CurrentState ProcessState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	Cancelled    bool          `json:"cancelled"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// ProcessAsync starts processing req in the background and returns an
// execution ID for the status and result calls.
func (d *DragonScale) ProcessAsync(ctx context.Context, req Request) (string, error) {
	executionID := uuid.New().String()
	pCtx := NewProcessContext(NewSharedContext(req.Query, req.SessionID, req.ActorID), req.Prior)

	// Detached from ctx so the request outlives the caller; only
	// CancelAsyncProcess or the request timeout stop it.
	var (
		asyncCtx context.Context
		cancel   context.CancelFunc
	)
	if d.config.RequestTimeout > 0 {
		asyncCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), d.config.RequestTimeout)
	} else {
		asyncCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	exec := &asyncExecution{pCtx: pCtx, cancel: cancel, done: make(chan struct{})}
	d.asyncExecutionsMutex.Lock()
	d.asyncExecutions[executionID] = exec
	d.asyncExecutionsMutex.Unlock()

	bus := d.EventBus()
	eventbus.Emit(ctx, bus, eventbus.EventAsyncStarted, req.Query, "DragonScale.ProcessAsync", map[string]interface{}{
		"execution_id": executionID,
		"request_id":   pCtx.Shared.RequestID(),
	})

	stateMachine := d.createStateMachine()
	go func() {
		defer close(exec.done)
		defer cancel()

		_, err := stateMachine.Execute(asyncCtx, pCtx)

		eventType := eventbus.EventAsyncCompleted
		metadata := map[string]interface{}{
			"execution_id": executionID,
			"duration_ms":  pCtx.GetTotalDuration().Milliseconds(),
		}
		if err != nil {
			eventType = eventbus.EventAsyncFailed
			metadata["error"] = err.Error()
			metadata["error_stage"] = pCtx.ErrorStage()
		}
		eventbus.Emit(context.Background(), bus, eventType, req.Query, "DragonScale.ProcessAsync", metadata)
	}()

	return executionID, nil
}

func (d *DragonScale) lookupAsync(executionID string) (*asyncExecution, error) {
	d.asyncExecutionsMutex.RLock()
	defer d.asyncExecutionsMutex.RUnlock()
	exec, exists := d.asyncExecutions[executionID]
	if !exists {
		return nil, NewValidationError("async", fmt.Sprintf("execution with ID '%s' not found", executionID), nil)
	}
	return exec, nil
}

// GetAsyncStatus retrieves the current status of an async execution.
func (d *DragonScale) GetAsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	exec, err := d.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}
	pCtx := exec.pCtx

	exec.mu.Lock()
	cancelled := exec.cancelled
	exec.mu.Unlock()

	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		RequestID:    pCtx.Shared.RequestID(),
		Query:        pCtx.Query(),
		CurrentState: pCtx.State(),
		StartTime:    pCtx.StartTime,
		Duration:     pCtx.GetTotalDuration(),
		IsComplete:   pCtx.IsTerminal(),
		Cancelled:    cancelled,
	}
	if fatal := pCtx.Fatal(); fatal != nil {
		status.HasError = true
		status.ErrorMessage = fatal.Error()
		status.ErrorStage = pCtx.ErrorStage()
	}
	return status, nil
}

// GetAsyncResult returns the response of a finished async execution together
// with its request-fatal cause.
func (d *DragonScale) GetAsyncResult(executionID string) (*FinalResponse, error) {
	exec, err := d.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}
	if !exec.pCtx.IsTerminal() {
		return nil, NewValidationError("async", fmt.Sprintf("execution is still in progress (current state: %s)", exec.pCtx.State()), nil)
	}
	return exec.pCtx.Response(), exec.pCtx.Fatal()
}

// WaitAsync blocks until the execution finishes or ctx is done.
func (d *DragonScale) WaitAsync(ctx context.Context, executionID string) (*FinalResponse, error) {
	exec, err := d.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}
	select {
	case <-exec.done:
		return exec.pCtx.Response(), exec.pCtx.Fatal()
	case <-ctx.Done():
		return nil, NewCancelledError("async", ctx.Err())
	}
}

// CancelAsyncProcess cancels an ongoing async execution. The request still
// finishes with a degraded or error response. Returns false if it had
// already finished.
func (d *DragonScale) CancelAsyncProcess(executionID string) (bool, error) {
	exec, err := d.lookupAsync(executionID)
	if err != nil {
		return false, err
	}
	if exec.pCtx.IsTerminal() {
		return false, nil
	}

	exec.mu.Lock()
	exec.cancelled = true
	exec.mu.Unlock()
	exec.cancel()

	eventbus.Emit(context.Background(), d.EventBus(), eventbus.EventAsyncCancelled, exec.pCtx.Query(), "DragonScale.CancelAsyncProcess", map[string]interface{}{
		"execution_id": executionID,
		"duration_ms":  exec.pCtx.GetTotalDuration().Milliseconds(),
	})
	return true, nil
}

// ListAsyncExecutions returns all async execution IDs and their current states.
func (d *DragonScale) ListAsyncExecutions() map[string]string {
	d.asyncExecutionsMutex.RLock()
	defer d.asyncExecutionsMutex.RUnlock()

	result := make(map[string]string, len(d.asyncExecutions))
	for id, exec := range d.asyncExecutions {
		result[id] = string(exec.pCtx.State())
	}
	return result
}

// CleanupCompletedExecutions removes finished executions older than olderThan
// and returns how many were removed.
func (d *DragonScale) CleanupCompletedExecutions(olderThan time.Duration) int {
	d.asyncExecutionsMutex.Lock()
	defer d.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, exec := range d.asyncExecutions {
		end := exec.pCtx.EndTime()
		if end.IsZero() {
			continue
		}
		if now.Sub(end) > olderThan {
			delete(d.asyncExecutions, id)
			count++
		}
	}
	return count
}
