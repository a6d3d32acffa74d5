package dragonscale_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/classifier"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/memory"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/planner"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/scheduler"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/synthesizer"
)

// countedUnit registers a unit whose invocations are counted.
func countedUnit(t *testing.T, registry *dragonscale.Registry, name, capability string, fn adapters.UnitFunc, opts ...dragonscale.UnitOption) *int32 {
	t.Helper()
	var calls int32
	wrapped := func(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
		atomic.AddInt32(&calls, 1)
		return fn(ctx, sc, input)
	}
	if err := registry.Register(adapters.NewGoUnitAdapter(name, wrapped, adapters.WithCapabilities(capability)), opts...); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return &calls
}

func staticResult(result any) adapters.UnitFunc {
	return func(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
		return result, nil
	}
}

func backendReturning(payload string) classifier.BackendFunc {
	return func(ctx context.Context, req classifier.Request) (string, error) {
		return payload, nil
	}
}

type engine struct {
	ds       *dragonscale.DragonScale
	registry *dragonscale.Registry
	store    *memory.InMemoryStore
}

func newEngine(t *testing.T, backend classifier.Backend, registry *dragonscale.Registry, schedOpts ...scheduler.Option) *engine {
	t.Helper()
	store := memory.NewInMemoryStore()
	config := dragonscale.DefaultConfig()
	config.EnableEventBus = false

	var classifierOpts []classifier.Option
	if backend != nil {
		classifierOpts = append(classifierOpts, classifier.WithBackend(backend))
	}
	ds, err := dragonscale.New(
		dragonscale.WithConfig(config),
		dragonscale.WithClassifier(classifier.New(classifierOpts...)),
		dragonscale.WithPlanBuilder(planner.NewBuilder(registry)),
		dragonscale.WithScheduler(scheduler.New(schedOpts...)),
		dragonscale.WithSynthesizer(synthesizer.New()),
		dragonscale.WithMemory(memory.NewGateway(store)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	return &engine{ds: ds, registry: registry, store: store}
}

func actor(id int) *int { return &id }

func sectionTitles(resp *dragonscale.FinalResponse) []string {
	titles := make([]string, 0, len(resp.Sections))
	for _, s := range resp.Sections {
		titles = append(titles, s.Title)
	}
	return titles
}

func TestProperty_EarlyExitNeverInvokesUnits(t *testing.T) {
	intents := []string{
		`{"intent_type":"irrelevant","confidence":0.95}`,
		`{"intent_type":"unclear","confidence":0.1}`,
	}
	for _, payload := range intents {
		registry := dragonscale.NewRegistry()
		calls := []*int32{
			countedUnit(t, registry, "lookup", "member", staticResult("m")),
			countedUnit(t, registry, "search", "search", staticResult("s")),
		}
		// Route the unclear intent somewhere so only the early-exit rule keeps it out.
		builder := planner.NewBuilder(registry, planner.WithRoute(dragonscale.IntentUnclear, "search"))

		intent, err := classifier.ParsePayload(payload)
		if err != nil {
			t.Fatalf("ParsePayload: %v", err)
		}
		plan, err := builder.BuildPlan(intent, "q")
		if err != nil || !plan.IsEmpty() {
			t.Fatalf("%s: plan=%v err=%v", payload, plan, err)
		}

		e := newEngine(t, backendReturning(payload), registry)
		resp, err := e.ds.Process(context.Background(), actor(1), "s1", "what's the weather")
		if err != nil {
			t.Fatalf("%s: unexpected error %v", payload, err)
		}
		if resp.Kind != dragonscale.ResponseRedirect {
			t.Errorf("%s: kind = %s", payload, resp.Kind)
		}
		for _, c := range calls {
			if n := atomic.LoadInt32(c); n != 0 {
				t.Errorf("%s: unit invoked %d times", payload, n)
			}
		}
	}
}

func TestProperty_PartialFailureStillAnswers(t *testing.T) {
	registry := dragonscale.NewRegistry()
	countedUnit(t, registry, "lookup", "member", func(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
		return nil, errors.New("member service down")
	})
	countedUnit(t, registry, "history", "history", staticResult(map[string]any{"visits": 3}))

	plan, err := planner.NewBuilder(registry).BuildPlan(dragonscale.IntentResult{IntentType: dragonscale.IntentMemberInquiry, Confidence: 0.9}, "q")
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if !reflect.DeepEqual(plan.Batches, [][]string{{"history", "lookup"}}) {
		t.Fatalf("batches = %v", plan.Batches)
	}
	plan, err = scheduler.New().Execute(context.Background(), plan, dragonscale.NewSharedContext("q", "s", nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	agg := dragonscale.Aggregate(plan)
	if agg.FailureCount != 1 || agg.SuccessCount != 1 {
		t.Fatalf("counts = %+v", agg)
	}

	e := newEngine(t, backendReturning(`{"intent_type":"member_inquiry","confidence":0.9}`), registry)
	resp, err := e.ds.Process(context.Background(), actor(1), "s1", "how many visits do I have")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != dragonscale.ResponseAnswer {
		t.Fatalf("kind = %s (%s)", resp.Kind, resp.Summary)
	}
	if !reflect.DeepEqual(sectionTitles(resp), []string{"Results from history"}) {
		t.Errorf("sections = %v", sectionTitles(resp))
	}
	if !strings.Contains(resp.Summary, "Some data could not be retrieved: lookup.") {
		t.Errorf("summary lacks degraded note: %q", resp.Summary)
	}
}

func TestProperty_FallbackClassificationIsDeterministic(t *testing.T) {
	down := classifier.BackendFunc(func(ctx context.Context, req classifier.Request) (string, error) {
		return "", errors.New("connection refused")
	})
	adapter := classifier.New(classifier.WithBackend(down))

	first, err := adapter.Classify(context.Background(), "book a yoga class for my membership", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	second, err := adapter.Classify(context.Background(), "book a yoga class for my membership", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !reflect.DeepEqual(first.Intent(), second.Intent()) {
		t.Errorf("fallback differs:\n%+v\n%+v", first.Intent(), second.Intent())
	}
}

func TestScenario_CleanAnswer(t *testing.T) {
	registry := dragonscale.NewRegistry()
	lookups := countedUnit(t, registry, "lookup", "member", staticResult(map[string]any{"name": "Avery Stone"}))
	histories := countedUnit(t, registry, "history", "history", staticResult(map[string]any{"visits": 3}))

	e := newEngine(t, backendReturning(`{"intent_type":"member_inquiry","confidence":0.9}`), registry)
	resp, err := e.ds.Process(context.Background(), actor(7), "s1", "show my membership")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != dragonscale.ResponseAnswer || len(resp.Sections) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Intent != dragonscale.IntentMemberInquiry || resp.RequestID == "" {
		t.Errorf("intent=%s request_id=%q", resp.Intent, resp.RequestID)
	}
	if atomic.LoadInt32(lookups) != 1 || atomic.LoadInt32(histories) != 1 {
		t.Errorf("calls lookup=%d history=%d", *lookups, *histories)
	}

	// The answer is remembered and offered to the actor's next session.
	records, err := memory.NewGateway(e.store).LoadRecent(context.Background(), 7, "s2", 5)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(records) != 1 || records[0].SessionID != "s1" || !strings.HasPrefix(records[0].Summary, "member_inquiry: ") {
		t.Errorf("records = %+v", records)
	}
}

func TestScenario_IrrelevantQuery(t *testing.T) {
	registry := dragonscale.NewRegistry()
	calls := countedUnit(t, registry, "search", "search", staticResult("s"))

	e := newEngine(t, backendReturning(`{"intent_type":"irrelevant","confidence":0.95}`), registry)
	resp, err := e.ds.Process(context.Background(), actor(7), "s1", "what's the weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != dragonscale.ResponseRedirect || resp.Intent != dragonscale.IntentIrrelevant {
		t.Errorf("response = %+v", resp)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Error("unit invoked for an irrelevant query")
	}
	if e.store.Len() != 0 {
		t.Error("redirects must not be remembered")
	}
}

func TestScenario_UnitTimeout(t *testing.T) {
	registry := dragonscale.NewRegistry()
	countedUnit(t, registry, "search", "search", staticResult([]string{"yoga", "spin"}))
	countedUnit(t, registry, "analytics", "analytics", func(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	intent := dragonscale.IntentResult{IntentType: dragonscale.IntentAnalysis, Confidence: 0.8}

	plan, err := planner.NewBuilder(registry).BuildPlan(intent, "q")
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	plan, err = scheduler.New(scheduler.WithStepTimeout(30*time.Millisecond)).
		Execute(context.Background(), plan, dragonscale.NewSharedContext("q", "s", nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	step, _ := plan.Step("analytics")
	if step.Status() != dragonscale.StepFailed || !dragonscale.IsCode(step.Err(), dragonscale.ErrCodeTimeout) {
		t.Fatalf("analytics status=%s err=%v", step.Status(), step.Err())
	}

	e := newEngine(t, backendReturning(`{"intent_type":"analysis","confidence":0.8}`), registry,
		scheduler.WithStepTimeout(30*time.Millisecond))
	resp, err := e.ds.Process(context.Background(), actor(1), "s1", "analyze class trends")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != dragonscale.ResponseAnswer {
		t.Fatalf("kind = %s (%s)", resp.Kind, resp.Summary)
	}
	if !reflect.DeepEqual(sectionTitles(resp), []string{"Results from search"}) {
		t.Errorf("sections = %v", sectionTitles(resp))
	}
	if !strings.Contains(resp.Summary, "analytics") {
		t.Errorf("summary does not mention the timed out unit: %q", resp.Summary)
	}
}

func TestScenario_ClassifierBackendDown(t *testing.T) {
	var attempts int32
	down := classifier.BackendFunc(func(ctx context.Context, req classifier.Request) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "", errors.New("503 service unavailable")
	})

	outcome, err := classifier.New(classifier.WithBackend(down)).Classify(context.Background(), "book an appointment", nil)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	intent := outcome.Intent()
	if !intent.UsedFallback || !outcome.Degraded() || intent.IntentType != dragonscale.IntentBooking {
		t.Fatalf("outcome = %+v degraded=%v", intent, outcome.Degraded())
	}
	if n := atomic.LoadInt32(&attempts); n != 2 {
		t.Errorf("backend attempts = %d, want 2", n)
	}

	registry := dragonscale.NewRegistry()
	lookups := countedUnit(t, registry, "lookup", "member", staticResult(map[string]any{"status": "active"}))
	bookings := countedUnit(t, registry, "scheduling", "scheduling", staticResult(map[string]any{"available": 3}),
		dragonscale.WithDependsOn("lookup"))

	e := newEngine(t, down, registry)
	resp, err := e.ds.Process(context.Background(), actor(1), "s1", "book an appointment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind != dragonscale.ResponseAnswer || resp.Intent != dragonscale.IntentBooking {
		t.Errorf("response = %+v", resp)
	}
	if atomic.LoadInt32(lookups) != 1 || atomic.LoadInt32(bookings) != 1 {
		t.Errorf("calls lookup=%d scheduling=%d", *lookups, *bookings)
	}
}
