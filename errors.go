package dragonscale

import (
	"context"
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeClassificationFault = "CLASSIFICATION_FAULT"
	ErrCodePlanValidation      = "PLAN_VALIDATION_ERROR"
	ErrCodeStepExecution       = "STEP_EXECUTION_FAULT"
	ErrCodeStepSkipped         = "STEP_SKIPPED"
	ErrCodeSynthesisFault      = "SYNTHESIS_FAULT"
	ErrCodeMemoryFault         = "MEMORY_FAULT"
	ErrCodeUnitNotFound        = "UNIT_NOT_FOUND"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeCancelled           = "EXECUTION_CANCELLED"
	ErrCodeTimeout             = "EXECUTION_TIMEOUT"
	ErrCodeCache               = "CACHE_ERROR"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// DragonScaleError is a custom error type for DragonScale specific errors.
type DragonScaleError struct {
	Code    string // A machine-readable error code (e.g., ErrCodePlanValidation)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "planning", "execution")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *DragonScaleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *DragonScaleError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DragonScaleError.
func NewError(code, stage, message string, cause error) *DragonScaleError {
	return &DragonScaleError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *DragonScaleError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewClassificationFault(message string, cause error) *DragonScaleError {
	return NewError(ErrCodeClassificationFault, "classification", message, cause)
}

func NewPlanValidationError(message string, cause error) *DragonScaleError {
	return NewError(ErrCodePlanValidation, "planning", message, cause)
}

func NewStepExecutionFault(stepID, unitName string, cause error) *DragonScaleError {
	msg := fmt.Sprintf("step '%s' (unit '%s') failed", stepID, unitName)
	return NewError(ErrCodeStepExecution, "execution", msg, cause)
}

func NewStepSkippedError(stepID, dependencyID string) *DragonScaleError {
	msg := fmt.Sprintf("step '%s' skipped: dependency '%s' did not complete", stepID, dependencyID)
	return NewError(ErrCodeStepSkipped, "execution", msg, nil)
}

func NewSynthesisFault(message string, cause error) *DragonScaleError {
	return NewError(ErrCodeSynthesisFault, "synthesis", message, cause)
}

func NewMemoryFault(operation string, cause error) *DragonScaleError {
	return NewError(ErrCodeMemoryFault, "memory", fmt.Sprintf("memory operation '%s' failed", operation), cause)
}

func NewUnitNotFoundError(stage, unitName string) *DragonScaleError {
	return NewError(ErrCodeUnitNotFound, stage, fmt.Sprintf("unit '%s' not found", unitName), nil)
}

func NewConfigurationError(message string, cause error) *DragonScaleError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *DragonScaleError {
	msg := "execution cancelled"
	if cause != nil && !errors.Is(cause, context.Canceled) {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, timeout fmt.Stringer, cause error) *DragonScaleError {
	return NewError(ErrCodeTimeout, stage, fmt.Sprintf("execution timed out after %s", timeout), cause)
}

func NewCacheError(stage, operation string, cause error) *DragonScaleError {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewInternalError(stage, message string, cause error) *DragonScaleError {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsDragonScaleError reports whether err, or any error it wraps, is a *DragonScaleError.
func IsDragonScaleError(err error) bool {
	var dsErr *DragonScaleError
	return errors.As(err, &dsErr)
}

// ErrorCode returns the code of the outermost DragonScaleError in err's chain,
// or an empty string.
func ErrorCode(err error) string {
	var dsErr *DragonScaleError
	if errors.As(err, &dsErr) {
		return dsErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// IsFatal reports whether err ends a request instead of degrading it.
// Only plan validation, cancellation and caller contract violations qualify.
func IsFatal(err error) bool {
	switch ErrorCode(err) {
	case ErrCodePlanValidation, ErrCodeCancelled, ErrCodeValidation, ErrCodeConfiguration:
		return true
	case "":
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
	return false
}
