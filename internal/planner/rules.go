package planner

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

// ExpressionFunctionRegistry allows registration of custom functions for activation rules.
type ExpressionFunctionRegistry struct {
	functions map[string]govaluate.ExpressionFunction
	mutex     sync.RWMutex
}

var globalExprFuncRegistry = &ExpressionFunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}

// RegisterExpressionFunction makes fn callable from `when` rules.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	globalExprFuncRegistry.mutex.Lock()
	defer globalExprFuncRegistry.mutex.Unlock()
	globalExprFuncRegistry.functions[name] = fn
}

func builtinFunctions() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"contains": func(args ...interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(args))
			}
			return strings.Contains(fmt.Sprint(args[0]), fmt.Sprint(args[1])), nil
		},
		"lower": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("lower expects 1 argument, got %d", len(args))
			}
			return strings.ToLower(fmt.Sprint(args[0])), nil
		},
	}
}

// getWhitelistedFunctions returns the built-ins plus every registered function.
func getWhitelistedFunctions() map[string]govaluate.ExpressionFunction {
	whitelist := builtinFunctions()
	globalExprFuncRegistry.mutex.RLock()
	defer globalExprFuncRegistry.mutex.RUnlock()
	for k, v := range globalExprFuncRegistry.functions {
		whitelist[k] = v
	}
	return whitelist
}

// ValidateExpression checks that a rule parses at catalog load time.
func ValidateExpression(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, getWhitelistedFunctions())
	return err
}

// RuleVariables exposes the request facts a rule may reference.
func RuleVariables(intent dragonscale.IntentResult, query string) map[string]interface{} {
	return map[string]interface{}{
		"confidence":    intent.Confidence,
		"intent":        string(intent.IntentType),
		"keyword_count": float64(len(intent.Keywords)),
		"entity_count":  float64(len(intent.Entities)),
		"query_length":  float64(len([]rune(query))),
	}
}

// RuleEvaluator compiles activation rules once and evaluates them per plan.
type RuleEvaluator struct {
	compiled map[string]*govaluate.EvaluableExpression
	mutex    sync.Mutex
}

// NewRuleEvaluator creates an evaluator with an empty compile cache.
func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{compiled: make(map[string]*govaluate.EvaluableExpression)}
}

// Evaluate runs expr against vars. A rule that does not yield a bool is a plan validation error.
func (e *RuleEvaluator) Evaluate(expr string, vars map[string]interface{}) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	compiled, err := e.compile(expr)
	if err != nil {
		return false, dragonscale.NewPlanValidationError(fmt.Sprintf("rule '%s' does not parse", expr), err)
	}

	value, err := compiled.Evaluate(vars)
	if err != nil {
		return false, dragonscale.NewPlanValidationError(fmt.Sprintf("rule '%s' failed to evaluate", expr), err)
	}
	result, ok := value.(bool)
	if !ok {
		return false, dragonscale.NewPlanValidationError(fmt.Sprintf("rule '%s' evaluated to %T, want bool", expr, value), nil)
	}
	return result, nil
}

func (e *RuleEvaluator) compile(expr string) (*govaluate.EvaluableExpression, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if compiled, ok := e.compiled[expr]; ok {
		return compiled, nil
	}
	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(expr, getWhitelistedFunctions())
	if err != nil {
		return nil, err
	}
	e.compiled[expr] = compiled
	return compiled, nil
}
