package dragonscale

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
)

func TestStateMachine_EventBus_EmitsEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(64),
		eventbus.WithWorkerCount(1),
		eventbus.WithRetries(1, 10*time.Millisecond),
	)
	defer bus.Close()

	var mu sync.Mutex
	emitted := make(map[eventbus.EventType]int)
	entered := make(map[string]bool)
	handler := func(ctx context.Context, evt eventbus.Event) error {
		if evt == nil {
			t.Error("event is nil")
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		emitted[evt.Type()]++
		if evt.Type() == eventbus.EventStateEntered {
			entered[evt.Payload().(string)] = true
		}
		return nil
	}

	if _, err := bus.SubscribeAll(handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	f := newFixture()
	config := DefaultConfig()
	ds, err := New(
		WithConfig(config),
		WithClassifier(f.classifier),
		WithPlanBuilder(f.planner),
		WithScheduler(f.scheduler),
		WithSynthesizer(f.synthesizer),
		WithMemory(f.memory),
		WithEventBus(bus),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := ds.Process(context.Background(), intPtr(1), "s", "find yoga"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	want := []eventbus.EventType{
		eventbus.EventRequestStarted,
		eventbus.EventPlanBuilt,
		eventbus.EventAggregationCompleted,
		eventbus.EventMemorySaved,
		eventbus.EventRequestCompleted,
	}
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		missing := 0
		for _, eventType := range want {
			if emitted[eventType] == 0 {
				missing++
			}
		}
		allStates := entered[string(StateCompleted)] && entered[string(StateExecuting)]
		mu.Unlock()
		if missing == 0 && allStates {
			break
		}
		if time.Now().After(deadline) {
			mu.Lock()
			t.Fatalf("events not delivered: %v, states %v", emitted, entered)
			mu.Unlock()
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Close does not shut down a bus the caller supplied.
	if err := ds.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := bus.Publish(context.Background(), eventbus.NewEmptyEvent(eventbus.EventSystemError, "test")); err != nil {
		t.Errorf("supplied bus was closed: %v", err)
	}
}

func TestNew_OwnsDefaultEventBus(t *testing.T) {
	f := newFixture()
	ds, err := New(
		WithClassifier(f.classifier),
		WithPlanBuilder(f.planner),
		WithScheduler(f.scheduler),
		WithSynthesizer(f.synthesizer),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ds.EventBus() == nil {
		t.Fatal("expected a default event bus")
	}
	if err := ds.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
