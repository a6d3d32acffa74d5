// Package dragonscale orchestrates a request through classification,
// planning, concurrent unit execution, aggregation and response synthesis.
package dragonscale

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
)

// DragonScale is the main entry point into the orchestrator.
type DragonScale struct {
	// Core components
	classifier  Classifier
	planner     PlanBuilder
	scheduler   Scheduler
	synthesizer Synthesizer
	memory      MemoryGateway
	eventBus    eventbus.EventBus
	logger      logging.Logger

	// ownsEventBus is set when New created the bus and Close must shut it down.
	ownsEventBus bool

	// Configuration
	config Config

	// Async processing
	asyncExecutions      map[string]*asyncExecution
	asyncExecutionsMutex sync.RWMutex
}

// DragonScaleComponents holds references to the core components needed for state transitions.
type DragonScaleComponents struct {
	Classifier  Classifier
	Planner     PlanBuilder
	Scheduler   Scheduler
	Synthesizer Synthesizer
	Memory      MemoryGateway
	Logger      logging.Logger
	Config      Config
}

// Config holds the configuration options for the orchestrator.
type Config struct {
	// RequestTimeout bounds a whole request; zero means no bound.
	RequestTimeout time.Duration

	// SynthesisTimeout bounds synthesis, which runs detached from request cancellation.
	SynthesisTimeout time.Duration

	// MemoryTimeout bounds the detached summary save.
	MemoryTimeout time.Duration

	// MemoryLimit is how many earlier summaries are loaded per request.
	MemoryLimit int

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SynthesisTimeout:    20 * time.Second,
		MemoryTimeout:       2 * time.Second,
		MemoryLimit:         5,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Request is one query to process.
type Request struct {
	Query     string
	SessionID string
	// ActorID is nil for anonymous requests, which skip memory.
	ActorID *int
	// Prior holds earlier turns of the conversation, oldest first.
	Prior []Turn
}

// Option is a function that configures a DragonScale instance.
type Option func(*DragonScale)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(d *DragonScale) {
		d.config = config
	}
}

// WithClassifier sets the classifier component.
func WithClassifier(classifier Classifier) Option {
	return func(d *DragonScale) {
		d.classifier = classifier
	}
}

// WithPlanBuilder sets the plan builder component.
func WithPlanBuilder(planner PlanBuilder) Option {
	return func(d *DragonScale) {
		d.planner = planner
	}
}

// WithScheduler sets the scheduler component.
func WithScheduler(scheduler Scheduler) Option {
	return func(d *DragonScale) {
		d.scheduler = scheduler
	}
}

// WithSynthesizer sets the synthesizer component.
func WithSynthesizer(synthesizer Synthesizer) Option {
	return func(d *DragonScale) {
		d.synthesizer = synthesizer
	}
}

// WithMemory sets the memory gateway. Without one, memory is skipped.
func WithMemory(memory MemoryGateway) Option {
	return func(d *DragonScale) {
		d.memory = memory
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *DragonScale) {
		d.logger = logger
	}
}

// New creates a new DragonScale instance with the provided options.
func New(options ...Option) (*DragonScale, error) {
	ds := &DragonScale{
		config:          DefaultConfig(),
		asyncExecutions: make(map[string]*asyncExecution),
	}

	for _, option := range options {
		option(ds)
	}

	if ds.classifier == nil {
		return nil, NewConfigurationError("classifier is required", nil)
	}
	if ds.planner == nil {
		return nil, NewConfigurationError("plan builder is required", nil)
	}
	if ds.scheduler == nil {
		return nil, NewConfigurationError("scheduler is required", nil)
	}
	if ds.synthesizer == nil {
		return nil, NewConfigurationError("synthesizer is required", nil)
	}
	if ds.config.RequestTimeout < 0 {
		return nil, NewConfigurationError("request timeout must not be negative", nil)
	}

	defaults := DefaultConfig()
	if ds.config.SynthesisTimeout <= 0 {
		ds.config.SynthesisTimeout = defaults.SynthesisTimeout
	}
	if ds.config.MemoryTimeout <= 0 {
		ds.config.MemoryTimeout = defaults.MemoryTimeout
	}
	ds.logger = logging.OrNop(ds.logger)

	// Initialize event bus if enabled but not provided
	if ds.config.EnableEventBus && ds.eventBus == nil {
		ds.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(ds.config.EventBusBufferSize),
			eventbus.WithWorkerCount(ds.config.EventBusWorkerCount),
			eventbus.WithLogger(ds.logger),
		)
		ds.ownsEventBus = true
		ds.logger.Debug("Initialized default channel-based event bus", nil)
	}

	return ds, nil
}

// EventBus returns the event bus lifecycle events are published on, or nil.
func (d *DragonScale) EventBus() eventbus.EventBus {
	if !d.config.EnableEventBus {
		return nil
	}
	return d.eventBus
}

// Close releases the event bus if New created it.
func (d *DragonScale) Close() error {
	if d.ownsEventBus && d.eventBus != nil {
		return d.eventBus.Close()
	}
	return nil
}

// Process handles one query end to end. The response is never nil; the error
// is the request-fatal cause and is nil for answers, redirects and degraded results.
func (d *DragonScale) Process(ctx context.Context, actorID *int, sessionID, query string) (*FinalResponse, error) {
	return d.ProcessRequest(ctx, Request{Query: query, SessionID: sessionID, ActorID: actorID})
}

// ProcessRequest is Process with prior conversation turns.
func (d *DragonScale) ProcessRequest(ctx context.Context, req Request) (*FinalResponse, error) {
	if d.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.RequestTimeout)
		defer cancel()
	}

	pCtx := NewProcessContext(NewSharedContext(req.Query, req.SessionID, req.ActorID), req.Prior)
	return d.createStateMachine().Execute(ctx, pCtx)
}

// createStateMachine builds a state machine with all necessary transitions.
func (d *DragonScale) createStateMachine() *StateMachine {
	components := DragonScaleComponents{
		Classifier:  d.classifier,
		Planner:     d.planner,
		Scheduler:   d.scheduler,
		Synthesizer: d.synthesizer,
		Memory:      d.memory,
		Logger:      d.logger,
		Config:      d.config,
	}
	return CreateProcessStateMachine(components, d.EventBus())
}
