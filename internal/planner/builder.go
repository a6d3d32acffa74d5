// Package planner turns a classified intent into a layered execution plan.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
)

// UnclearConfidenceThreshold is the confidence below which an unclear intent exits early.
const UnclearConfidenceThreshold = 0.3

// DefaultRoutes maps each intent to the capability tags whose units serve it.
func DefaultRoutes() map[dragonscale.IntentType][]string {
	return map[dragonscale.IntentType][]string{
		dragonscale.IntentMemberInquiry:      {"member", "history"},
		dragonscale.IntentBooking:            {"member", "scheduling"},
		dragonscale.IntentAnalysis:           {"search", "analytics"},
		dragonscale.IntentSearch:             {"search"},
		dragonscale.IntentDocumentGeneration: {"search", "document"},
	}
}

// Builder implements dragonscale.PlanBuilder over a unit Registry.
type Builder struct {
	registry *dragonscale.Registry
	routes   map[dragonscale.IntentType][]string
	rules    *RuleEvaluator
	logger   logging.Logger
	mutex    sync.RWMutex
}

// Option configures a Builder.
type Option func(*Builder)

// WithRoutes replaces the whole routing table.
func WithRoutes(routes map[dragonscale.IntentType][]string) Option {
	return func(b *Builder) {
		b.routes = make(map[dragonscale.IntentType][]string, len(routes))
		for intent, tags := range routes {
			b.routes[intent] = append([]string(nil), tags...)
		}
	}
}

// WithRoute sets the capability tags for one intent.
func WithRoute(intent dragonscale.IntentType, tags ...string) Option {
	return func(b *Builder) {
		b.routes[intent] = append([]string(nil), tags...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a plan builder with the default routes.
func NewBuilder(registry *dragonscale.Registry, options ...Option) *Builder {
	b := &Builder{
		registry: registry,
		routes:   DefaultRoutes(),
		rules:    NewRuleEvaluator(),
	}
	for _, option := range options {
		option(b)
	}
	b.logger = logging.OrNop(b.logger)
	return b
}

// SetRoute installs or replaces the route for intent.
func (b *Builder) SetRoute(intent dragonscale.IntentType, tags []string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.routes[intent] = append([]string(nil), tags...)
}

// Route returns the capability tags configured for intent.
func (b *Builder) Route(intent dragonscale.IntentType) ([]string, bool) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	tags, ok := b.routes[intent]
	return append([]string(nil), tags...), ok
}

// Registry returns the registry units are resolved from.
func (b *Builder) Registry() *dragonscale.Registry {
	return b.registry
}

// IsEarlyExit reports whether intent short-circuits planning entirely.
func (b *Builder) IsEarlyExit(intent dragonscale.IntentResult) bool {
	switch intent.IntentType {
	case dragonscale.IntentIrrelevant:
		return true
	case dragonscale.IntentUnclear:
		return intent.Confidence < UnclearConfidenceThreshold
	}
	return false
}

// BuildPlan selects the units for intent, closes over their dependencies and
// layers them into batches.
func (b *Builder) BuildPlan(intent dragonscale.IntentResult, query string) (*dragonscale.ExecutionPlan, error) {
	if b.IsEarlyExit(intent) {
		return dragonscale.EmptyPlan(intent), nil
	}
	if b.registry == nil {
		return nil, dragonscale.NewConfigurationError("plan builder has no registry", nil)
	}

	tags, ok := b.Route(intent.IntentType)
	if !ok {
		tags, ok = b.Route(dragonscale.IntentUnclear)
	}
	if !ok || len(tags) == 0 {
		b.logger.Debug("No route for intent", map[string]interface{}{"intent": intent.IntentType})
		return dragonscale.EmptyPlan(intent), nil
	}

	selected, err := b.selectUnits(intent, query, tags)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return dragonscale.EmptyPlan(intent), nil
	}

	specs, err := b.closeDependencies(selected)
	if err != nil {
		return nil, err
	}

	batches, err := layer(specs)
	if err != nil {
		return nil, err
	}

	steps := make([]*dragonscale.ExecutionStep, 0, len(specs))
	for _, batch := range batches {
		for _, name := range batch {
			unit, _ := b.registry.Lookup(name)
			spec := specs[name]
			step := dragonscale.NewExecutionStep(name, unit, spec.DependsOn...)
			step.Timeout = spec.Timeout
			step.OptionalDependencies = spec.OptionalDependencies
			steps = append(steps, step)
		}
	}

	plan := dragonscale.NewExecutionPlan(intent, steps, batches)
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	b.logger.Info("Plan built", map[string]interface{}{
		"intent":  intent.IntentType,
		"steps":   plan.StepCount(),
		"batches": len(batches),
	})
	return plan, nil
}

// selectUnits resolves route tags to units, in tag order, deduplicated, filtered by activation rules.
func (b *Builder) selectUnits(intent dragonscale.IntentResult, query string, tags []string) ([]string, error) {
	vars := RuleVariables(intent, query)
	seen := make(map[string]bool)
	var selected []string
	for _, tag := range tags {
		for _, unit := range b.registry.ByCapability(tag) {
			name := unit.Name()
			if seen[name] {
				continue
			}
			seen[name] = true

			spec, _ := b.registry.Spec(name)
			active, err := b.rules.Evaluate(spec.When, vars)
			if err != nil {
				return nil, err
			}
			if !active {
				b.logger.Debug("Unit deactivated by rule", map[string]interface{}{"unit": name, "rule": spec.When})
				continue
			}
			selected = append(selected, name)
		}
	}
	return selected, nil
}

// closeDependencies pulls in every transitive dependency of the selected units.
func (b *Builder) closeDependencies(selected []string) (map[string]dragonscale.UnitSpec, error) {
	specs := make(map[string]dragonscale.UnitSpec, len(selected))
	queue := append([]string(nil), selected...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, done := specs[name]; done {
			continue
		}
		spec, ok := b.registry.Spec(name)
		if !ok {
			return nil, dragonscale.NewPlanValidationError(fmt.Sprintf("unit '%s' is not registered", name), nil)
		}
		specs[name] = spec
		for _, dep := range spec.DependsOn {
			if _, ok := b.registry.Lookup(dep); !ok {
				return nil, dragonscale.NewPlanValidationError(fmt.Sprintf("unit '%s' depends on unregistered unit '%s'", name, dep), nil)
			}
			queue = append(queue, dep)
		}
	}
	return specs, nil
}

// layer groups units into batches with Kahn's algorithm. Each batch is sorted.
func layer(specs map[string]dragonscale.UnitSpec) ([][]string, error) {
	inDegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	for name, spec := range specs {
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
		seen := make(map[string]bool, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}

	var batches [][]string
	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		batches = append(batches, ready)
		placed += len(ready)

		var next []string
		for _, name := range ready {
			for _, dependent := range dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if placed != len(specs) {
		var cyclic []string
		for name, degree := range inDegree {
			if degree > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, dragonscale.NewPlanValidationError(
			fmt.Sprintf("dependency cycle among units: %s", strings.Join(cyclic, ", ")), nil)
	}
	return batches, nil
}
