package adapters

import (
	"context"
	"fmt"
	"sort"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

// UnitFunc is the work a GoUnitAdapter performs for one step.
type UnitFunc func(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error)

// GoUnitAdapter adapts a standard Go function to the dragonscale.Unit interface.
type GoUnitAdapter struct {
	unitFunc     UnitFunc
	schema       map[string]interface{}
	name         string
	capabilities []string
	validator    func(dragonscale.SharedContext, dragonscale.StepInput) error
	description  string
}

// UnitOption represents an option for configuring a GoUnitAdapter.
type UnitOption func(*GoUnitAdapter)

// WithValidator sets a validator that runs before every invocation.
func WithValidator(validator func(dragonscale.SharedContext, dragonscale.StepInput) error) UnitOption {
	return func(adapter *GoUnitAdapter) {
		adapter.validator = validator
	}
}

// WithCapabilities sets the capability tags the planner routes by.
func WithCapabilities(capabilities ...string) UnitOption {
	return func(adapter *GoUnitAdapter) {
		adapter.capabilities = append([]string(nil), capabilities...)
		sort.Strings(adapter.capabilities)
		adapter.schema["capabilities"] = adapter.capabilities
	}
}

// WithDescription sets a description for the unit.
func WithDescription(description string) UnitOption {
	return func(adapter *GoUnitAdapter) {
		adapter.description = description
		adapter.schema["description"] = description
	}
}

// WithReturns sets the return value description in the schema.
func WithReturns(returns string) UnitOption {
	return func(adapter *GoUnitAdapter) {
		adapter.schema["returns"] = returns
	}
}

// NewGoUnitAdapter creates a new adapter for a Go function.
func NewGoUnitAdapter(name string, unitFunc UnitFunc, options ...UnitOption) *GoUnitAdapter {
	adapter := &GoUnitAdapter{
		unitFunc: unitFunc,
		schema: map[string]interface{}{
			"name": name,
		},
		name: name,
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// Invoke implements the dragonscale.Unit interface.
func (a *GoUnitAdapter) Invoke(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
	if a.unitFunc == nil {
		return nil, dragonscale.NewUnitNotFoundError("execution", a.name)
	}

	if a.validator != nil {
		if err := a.validator(sc, input); err != nil {
			return nil, dragonscale.NewValidationError("execution", fmt.Sprintf("input validation failed for %s", a.name), err)
		}
	}

	return a.unitFunc(ctx, sc, input)
}

// Name implements the dragonscale.Unit interface.
func (a *GoUnitAdapter) Name() string {
	return a.name
}

// Capabilities implements the dragonscale.Unit interface.
func (a *GoUnitAdapter) Capabilities() []string {
	return append([]string(nil), a.capabilities...)
}

// Description returns the unit description.
func (a *GoUnitAdapter) Description() string {
	return a.description
}

// Schema returns a copy of the unit's self-description.
func (a *GoUnitAdapter) Schema() map[string]interface{} {
	out := make(map[string]interface{}, len(a.schema))
	for k, v := range a.schema {
		out[k] = v
	}
	return out
}
