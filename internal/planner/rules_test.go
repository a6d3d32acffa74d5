package planner

import (
	"testing"

	"github.com/Knetic/govaluate"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

func TestRegisterExpressionFunction_AndWhitelist(t *testing.T) {
	called := false
	RegisterExpressionFunction("customAdd", func(args ...interface{}) (interface{}, error) {
		called = true
		return args[0].(float64) + args[1].(float64), nil
	})
	funcs := getWhitelistedFunctions()
	if _, ok := funcs["customAdd"]; !ok {
		t.Error("customAdd not found in whitelist")
	}
	if _, ok := funcs["contains"]; !ok {
		t.Error("built-in contains not found in whitelist")
	}
	eval, err := govaluate.NewEvaluableExpressionWithFunctions("customAdd(2, 3)", funcs)
	if err != nil {
		t.Fatalf("failed to parse expression: %v", err)
	}
	res, err := eval.Evaluate(nil)
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if res != 5.0 {
		t.Errorf("expected 5.0, got %v", res)
	}
	if !called {
		t.Error("custom function was not called")
	}
}

func TestValidateExpression_SuccessAndFailure(t *testing.T) {
	if err := ValidateExpression("confidence > 0.5"); err != nil {
		t.Errorf("expected valid expression, got %v", err)
	}
	if err := ValidateExpression("confidence > "); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestRuleEvaluator_Evaluate(t *testing.T) {
	intent := dragonscale.IntentResult{
		IntentType: dragonscale.IntentAnalysis,
		Confidence: 0.8,
		Keywords:   []string{"report", "trend"},
		Entities:   map[string]string{"period": "q3"},
	}
	vars := RuleVariables(intent, "quarterly report")
	eval := NewRuleEvaluator()

	tests := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{"empty rule is active", "", true, false},
		{"confidence threshold", "confidence >= 0.7", true, false},
		{"intent equality", "intent == 'analysis'", true, false},
		{"counts", "keyword_count == 2 && entity_count == 1", true, false},
		{"query length", "query_length > 100", false, false},
		{"builtin contains", "contains(intent, 'anal')", true, false},
		{"non bool result", "confidence + 1", false, true},
		{"parse failure", "confidence >", false, true},
		{"unknown variable", "missing > 1", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Evaluate(tt.expr, vars)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !dragonscale.IsCode(err, dragonscale.ErrCodePlanValidation) {
					t.Errorf("expected plan validation error, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}
