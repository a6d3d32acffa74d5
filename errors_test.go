package dragonscale

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"plan validation", NewPlanValidationError("cycle", nil), true},
		{"cancelled", NewCancelledError("execution", context.Canceled), true},
		{"request validation", NewValidationError("request", "query is empty", nil), true},
		{"configuration", NewConfigurationError("no units", nil), true},
		{"bare cancel", context.Canceled, true},
		{"wrapped deadline", fmt.Errorf("join: %w", context.DeadlineExceeded), true},
		{"step fault", NewStepExecutionFault("a", "a", errors.New("down")), false},
		{"step fault over validation", NewStepExecutionFault("a", "a", NewValidationError("unit", "bad input", nil)), false},
		{"skipped", NewStepSkippedError("b", "a"), false},
		{"memory", NewMemoryFault("save", errors.New("locked")), false},
		{"synthesis", NewSynthesisFault("backend down", nil), false},
		{"timeout", NewTimeoutError("execution", 30*time.Second, nil), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestIsDragonScaleError(t *testing.T) {
	wrapped := fmt.Errorf("unit: %w", NewMemoryFault("load", nil))
	if !IsDragonScaleError(wrapped) {
		t.Error("wrapped DragonScaleError not found")
	}
	if IsDragonScaleError(errors.New("plain")) {
		t.Error("plain error reported as DragonScaleError")
	}
	if got := ErrorCode(wrapped); got != ErrCodeMemoryFault {
		t.Errorf("ErrorCode = %q, want %q", got, ErrCodeMemoryFault)
	}
}
