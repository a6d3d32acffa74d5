package dragonscale

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func terminalPlan(t *testing.T) *ExecutionPlan {
	t.Helper()
	now := time.Now()
	profile := NewExecutionStep("profile", &dummyUnit{name: "profile"})
	billing := NewExecutionStep("billing", &dummyUnit{name: "billing"})
	visits := NewExecutionStep("visits", &dummyUnit{name: "visits"}, "profile")
	report := NewExecutionStep("report", &dummyUnit{name: "report"}, "billing")

	profile.Start(now)
	profile.Complete(map[string]any{"status": "active", "tier": "gold"}, now)
	billing.Start(now)
	billing.Fail(errors.New("billing down"), now)
	visits.Start(now)
	visits.Complete(map[string]any{"status": "frequent", "count": 12}, now)
	report.Skip(NewStepSkippedError("report", "billing"))

	plan := NewExecutionPlan(IntentResult{IntentType: IntentMemberInquiry, Confidence: 0.9},
		[]*ExecutionStep{profile, billing, visits, report},
		[][]string{{"billing", "profile"}, {"report", "visits"}})
	if err := plan.Validate(); err != nil {
		t.Fatalf("invalid plan: %v", err)
	}
	return plan
}

func TestAggregate_Counts(t *testing.T) {
	agg := Aggregate(terminalPlan(t))

	if agg.SuccessCount != 2 || agg.FailureCount != 1 || agg.SkippedCount != 1 || agg.Total() != 4 {
		t.Errorf("unexpected counts %+v", agg)
	}
	if !agg.Degraded() || !agg.HasData() {
		t.Error("expected degraded result with data")
	}
	if !reflect.DeepEqual(agg.FailedUnits, []string{"billing"}) || !reflect.DeepEqual(agg.SkippedUnits, []string{"report"}) {
		t.Errorf("failed=%v skipped=%v", agg.FailedUnits, agg.SkippedUnits)
	}
	if !reflect.DeepEqual(agg.UnsuccessfulUnits(), []string{"billing", "report"}) {
		t.Errorf("unsuccessful=%v", agg.UnsuccessfulUnits())
	}
	if _, ok := agg.ByUnit["billing"]; ok {
		t.Error("failed units must not contribute data")
	}
}

func TestAggregate_LastWriterWinsAndRecordsConflicts(t *testing.T) {
	agg := Aggregate(terminalPlan(t))

	// visits runs in a later batch than profile, so it wins "status".
	if agg.Fields["status"] != "frequent" {
		t.Errorf("status = %v", agg.Fields["status"])
	}
	if agg.Fields["tier"] != "gold" || agg.Fields["count"] != 12 {
		t.Errorf("fields = %v", agg.Fields)
	}
	if !reflect.DeepEqual(agg.Conflicts, []string{"status"}) {
		t.Errorf("conflicts = %v", agg.Conflicts)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	plan := terminalPlan(t)
	first := Aggregate(plan)
	for i := 0; i < 5; i++ {
		if again := Aggregate(plan); !reflect.DeepEqual(first, again) {
			t.Fatalf("aggregation %d differs:\n%+v\n%+v", i, first, again)
		}
	}
}

func TestAggregate_EmptyAndNil(t *testing.T) {
	for _, plan := range []*ExecutionPlan{nil, EmptyPlan(IntentResult{IntentType: IntentIrrelevant})} {
		agg := Aggregate(plan)
		if agg.Total() != 0 || agg.HasData() || agg.Degraded() {
			t.Errorf("unexpected aggregate %+v", agg)
		}
	}
}
