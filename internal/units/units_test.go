package units

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/planner"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/scheduler"
)

func newRegistry(t *testing.T, options ...Option) *dragonscale.Registry {
	t.Helper()
	registry := dragonscale.NewRegistry()
	require.NoError(t, Register(registry, options...))
	return registry
}

func invoke(t *testing.T, registry *dragonscale.Registry, name string, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
	t.Helper()
	unit, ok := registry.Lookup(name)
	require.True(t, ok, "unit %s registered", name)
	return unit.Invoke(context.Background(), sc, input)
}

func TestRegister_NamesAndDependencies(t *testing.T) {
	t.Parallel()
	registry := newRegistry(t)
	assert.Equal(t, []string{Analytics, Document, History, Lookup, Scheduling, Search}, registry.Names())

	spec, ok := registry.Spec(Document)
	require.True(t, ok)
	assert.Equal(t, []string{Search}, spec.DependsOn)
	assert.True(t, spec.OptionalDependencies)

	spec, _ = registry.Spec(Scheduling)
	assert.Equal(t, []string{Lookup}, spec.DependsOn)

	assert.Error(t, Register(registry), "second registration collides")
}

func TestLookup(t *testing.T) {
	t.Parallel()
	registry := newRegistry(t)
	actor := 1

	res, err := invoke(t, registry, Lookup, dragonscale.NewSharedContext("my membership", "s", &actor), dragonscale.StepInput{})
	require.NoError(t, err)
	assert.Equal(t, "gold", res.(map[string]any)["membership"])

	_, err = invoke(t, registry, Lookup, dragonscale.NewSharedContext("my membership", "s", nil), dragonscale.StepInput{})
	assert.True(t, dragonscale.IsCode(err, dragonscale.ErrCodeValidation))

	missing := 99
	_, err = invoke(t, registry, Lookup, dragonscale.NewSharedContext("my membership", "s", &missing), dragonscale.StepInput{})
	assert.Error(t, err)
}

func TestScheduling_RequiresActiveMember(t *testing.T) {
	t.Parallel()
	registry := newRegistry(t)
	sc := dragonscale.NewSharedContext("book pilates or yoga", "s", nil)

	res, err := invoke(t, registry, Scheduling, sc, dragonscale.StepInput{
		Dependencies: map[string]any{Lookup: map[string]any{"status": "active"}},
	})
	require.NoError(t, err)
	classes := res.(map[string]any)["available_classes"].([]map[string]any)
	require.Len(t, classes, 1, "pilates has no slots")
	assert.Equal(t, "yoga", classes[0]["class"])

	_, err = invoke(t, registry, Scheduling, sc, dragonscale.StepInput{
		Dependencies: map[string]any{Lookup: map[string]any{"status": "paused"}},
	})
	assert.Error(t, err)
}

func TestSearch_MatchesByTermsOrEverything(t *testing.T) {
	t.Parallel()
	registry := newRegistry(t)

	res, err := invoke(t, registry, Search, dragonscale.NewSharedContext("classes with kai", "s", nil), dragonscale.StepInput{})
	require.NoError(t, err)
	matches := res.(map[string]any)["matches"].([]map[string]any)
	require.Len(t, matches, 2)
	assert.Equal(t, "boxing", matches[0]["class"])
	assert.Equal(t, "spin", matches[1]["class"])

	res, err = invoke(t, registry, Search, dragonscale.NewSharedContext("anything", "s", nil), dragonscale.StepInput{})
	require.NoError(t, err)
	assert.Len(t, res.(map[string]any)["matches"], 4)
}

func TestLatencyHonorsCancellation(t *testing.T) {
	t.Parallel()
	registry := newRegistry(t, WithLatency(time.Hour))
	unit, _ := registry.Lookup(Search)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := unit.Invoke(ctx, dragonscale.NewSharedContext("q", "s", nil), dragonscale.StepInput{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnitsThroughPlannerAndScheduler(t *testing.T) {
	t.Parallel()
	registry := newRegistry(t)
	builder := planner.NewBuilder(registry)
	sched := scheduler.New()

	tests := []struct {
		name      string
		intent    dragonscale.IntentType
		query     string
		completed []string
	}{
		{"member inquiry", dragonscale.IntentMemberInquiry, "what is my membership status", []string{History, Lookup}},
		{"booking", dragonscale.IntentBooking, "book yoga on friday", []string{Lookup, Scheduling}},
		{"analysis", dragonscale.IntentAnalysis, "analyze class trends", []string{Analytics, Search}},
		{"document", dragonscale.IntentDocumentGeneration, "draft a flyer for spin", []string{Document, Search}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			actor := 1
			intent := dragonscale.IntentResult{IntentType: tt.intent, Confidence: 0.9}
			plan, err := builder.BuildPlan(intent, tt.query)
			require.NoError(t, err)

			plan, err = sched.Execute(context.Background(), plan, dragonscale.NewSharedContext(tt.query, "s", &actor))
			require.NoError(t, err)

			agg := dragonscale.Aggregate(plan)
			assert.False(t, agg.Degraded(), "failed=%v skipped=%v", agg.FailedUnits, agg.SkippedUnits)
			for _, name := range tt.completed {
				assert.Contains(t, agg.ByUnit, name)
			}
		})
	}
}
