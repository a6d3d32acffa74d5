package main

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/genkit"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/cache"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/classifier"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/config"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/llm"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/memory"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/planner"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/scheduler"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/synthesizer"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/units"
)

type app struct {
	cfg        *config.Config
	logger     logging.Logger
	bus        *eventbus.ChannelEventBus
	registry   *dragonscale.Registry
	classifier *classifier.Adapter
	builder    *planner.Builder
	scheduler  *scheduler.BatchScheduler
	engine     *dragonscale.DragonScale
	// flows is nil when generation is disabled.
	flows   *adapters.Flows
	closers []func() error
}

// wireApp assembles the engine from cfg. The returned app must be closed.
func wireApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.bus = eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(100),
		eventbus.WithWorkerCount(2),
		eventbus.WithLogger(logger),
	)
	a.closers = append(a.closers, a.bus.Close)

	a.registry = dragonscale.NewRegistry()
	if err := units.Register(a.registry); err != nil {
		return nil, err
	}

	a.builder = planner.NewBuilder(a.registry, planner.WithLogger(logger))
	if cfg.Catalog.Path != "" {
		catalog, err := planner.LoadCatalog(cfg.Catalog.Path, a.registry)
		if err != nil {
			return nil, err
		}
		if err := catalog.Apply(a.builder); err != nil {
			return nil, err
		}
		logger.Info("Catalog applied", map[string]interface{}{"path": cfg.Catalog.Path, "routes": len(catalog.Routes)})
	}

	classifierOpts := []classifier.Option{
		classifier.WithCache(a.classificationCache()),
		classifier.WithLogger(logger),
		classifier.WithEventBus(a.bus),
	}
	synthesizerOpts := []synthesizer.Option{
		synthesizer.WithLogger(logger),
		synthesizer.WithEventBus(a.bus),
	}

	if cfg.LLM.Enabled {
		gen, err := llm.NewAnthropicGenerator(llm.Config{
			Model:      cfg.LLM.Model,
			APIKey:     cfg.LLM.APIKey,
			UseBedrock: cfg.LLM.UseBedrock,
			AWSRegion:  cfg.LLM.AWSRegion,
			AWSProfile: cfg.LLM.AWSProfile,
			MaxTokens:  cfg.LLM.MaxTokens,
			BaseURL:    cfg.LLM.BaseURL,
		})
		if err != nil {
			return nil, dragonscale.NewConfigurationError("creating generation backend", err)
		}
		g, err := genkit.Init(ctx)
		if err != nil {
			return nil, dragonscale.NewConfigurationError("initializing genkit", err)
		}
		flows := adapters.DefineFlows(g, gen)
		a.flows = &flows
		classifierOpts = append(classifierOpts, classifier.WithBackend(adapters.NewGenkitClassifierBackend(flows.Classify)))
		if cfg.Synthesizer.UseLLM {
			synthesizerOpts = append(synthesizerOpts, synthesizer.WithBackend(adapters.NewGenkitSynthesizerBackend(flows.Synthesize)))
		}
		logger.Debug("Generation flows defined", map[string]interface{}{"model": gen.Model()})
	}

	a.classifier = classifier.New(classifierOpts...)
	a.scheduler = scheduler.New(
		scheduler.WithStepTimeout(cfg.Scheduler.StepTimeout),
		scheduler.WithMaxInFlight(cfg.Scheduler.MaxInFlight),
		scheduler.WithEventBus(a.bus),
		scheduler.WithLogger(logger),
	)

	engineOpts := []dragonscale.Option{
		dragonscale.WithConfig(dragonscale.Config{
			RequestTimeout:   cfg.Orchestrator.RequestTimeout,
			SynthesisTimeout: cfg.Orchestrator.SynthesisTimeout,
			MemoryTimeout:    cfg.Memory.Timeout,
			MemoryLimit:      cfg.Orchestrator.MemoryLimit,
			EnableEventBus:   true,
		}),
		dragonscale.WithClassifier(a.classifier),
		dragonscale.WithPlanBuilder(a.builder),
		dragonscale.WithScheduler(a.scheduler),
		dragonscale.WithSynthesizer(synthesizer.New(synthesizerOpts...)),
		dragonscale.WithEventBus(a.bus),
		dragonscale.WithLogger(logger),
	}
	gateway, err := a.memoryGateway()
	if err != nil {
		return nil, err
	}
	if gateway != nil {
		engineOpts = append(engineOpts, dragonscale.WithMemory(gateway))
	}

	a.engine, err = dragonscale.New(engineOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) classificationCache() cache.Cache[dragonscale.IntentResult] {
	ttl := a.cfg.Classifier.CacheTTL
	if a.cfg.Classifier.CachePath != "" {
		c := cache.NewFilePersistentCache[dragonscale.IntentResult](ttl, a.cfg.Classifier.CachePath, a.logger)
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		return c
	}
	c := cache.NewInMemoryCache[dragonscale.IntentResult](ttl, a.logger)
	a.closers = append(a.closers, func() error { c.Close(); return nil })
	return c
}

func (a *app) memoryGateway() (*memory.Gateway, error) {
	gatewayOpts := []memory.Option{
		memory.WithTimeout(a.cfg.Memory.Timeout),
		memory.WithLogger(a.logger),
	}
	switch a.cfg.Memory.Backend {
	case config.MemorySQLite:
		path := a.cfg.Memory.Path
		if path == "" {
			path = memory.DefaultDBPath()
		}
		store, err := memory.OpenSQLite(path)
		if err != nil {
			return nil, dragonscale.NewMemoryFault("open", err)
		}
		a.closers = append(a.closers, store.Close)
		return memory.NewGateway(store, gatewayOpts...), nil
	case config.MemoryInMem:
		return memory.NewGateway(memory.NewInMemoryStore(), gatewayOpts...), nil
	case config.MemoryNone:
		return nil, nil
	}
	return nil, dragonscale.NewConfigurationError(fmt.Sprintf("unknown memory backend %q", a.cfg.Memory.Backend), nil)
}

// Close releases every resource in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
