package dragonscale

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// UnitSpec is the planning metadata attached to a registered unit.
type UnitSpec struct {
	DependsOn            []string
	OptionalDependencies bool
	Timeout              time.Duration
	// When is an activation rule evaluated by the planner; empty means always.
	When string
}

// UnitOption configures a unit's planning metadata at registration.
type UnitOption func(*UnitSpec)

// WithDependsOn declares units that must run in an earlier batch.
func WithDependsOn(units ...string) UnitOption {
	return func(s *UnitSpec) {
		s.DependsOn = append(s.DependsOn, units...)
	}
}

// WithOptionalDependencies lets the unit run even when a dependency did not complete.
func WithOptionalDependencies() UnitOption {
	return func(s *UnitSpec) {
		s.OptionalDependencies = true
	}
}

// WithTimeout overrides the scheduler's default per-step timeout for the unit.
func WithTimeout(timeout time.Duration) UnitOption {
	return func(s *UnitSpec) {
		s.Timeout = timeout
	}
}

// WithWhen sets an activation rule.
func WithWhen(expr string) UnitOption {
	return func(s *UnitSpec) {
		s.When = expr
	}
}

type registeredUnit struct {
	unit Unit
	spec UnitSpec
}

// Registry maps unit names to units and their planning metadata.
type Registry struct {
	units map[string]*registeredUnit
	mutex sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*registeredUnit)}
}

// Register adds a unit.
func (r *Registry) Register(unit Unit, options ...UnitOption) error {
	if unit == nil || unit.Name() == "" {
		return NewValidationError("registry", "unit must be non-nil and named", nil)
	}

	spec := UnitSpec{}
	for _, option := range options {
		option(&spec)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.units[unit.Name()]; exists {
		return NewValidationError("registry", fmt.Sprintf("unit with name '%s' already exists", unit.Name()), nil)
	}
	r.units[unit.Name()] = &registeredUnit{unit: unit, spec: spec}
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(unit Unit, options ...UnitOption) {
	if err := r.Register(unit, options...); err != nil {
		panic(err)
	}
}

// Lookup returns the unit registered under name.
func (r *Registry) Lookup(name string) (Unit, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	entry, ok := r.units[name]
	if !ok {
		return nil, false
	}
	return entry.unit, true
}

// Spec returns the planning metadata of a unit.
func (r *Registry) Spec(name string) (UnitSpec, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	entry, ok := r.units[name]
	if !ok {
		return UnitSpec{}, false
	}
	spec := entry.spec
	spec.DependsOn = append([]string(nil), entry.spec.DependsOn...)
	return spec, true
}

// SetSpec replaces the planning metadata of a registered unit.
func (r *Registry) SetSpec(name string, spec UnitSpec) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.units[name]
	if !ok {
		return NewUnitNotFoundError("registry", name)
	}
	entry.spec = spec
	return nil
}

// ByCapability returns the units carrying tag, sorted by name.
func (r *Registry) ByCapability(tag string) []Unit {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var matched []Unit
	for _, entry := range r.units {
		for _, capability := range entry.unit.Capabilities() {
			if capability == tag {
				matched = append(matched, entry.unit)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name() < matched[j].Name() })
	return matched
}

// Names returns the registered unit names, sorted.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
