// Package classifier implements the classifier adapter: a primary backend
// with one retry and a deterministic keyword fallback.
package classifier

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/cache"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
)

const (
	// MaxPriorPairs bounds the prior context window to this many user/assistant pairs.
	MaxPriorPairs = 3
	// MaxTurnRunes truncates each prior turn.
	MaxTurnRunes = 500
	// DefaultCacheTTL is how long a primary classification is reused.
	DefaultCacheTTL = 10 * time.Minute

	maxAttempts = 2
)

// Request is what the classification backend receives.
type Request struct {
	Query string             `json:"query"`
	Prior []dragonscale.Turn `json:"prior,omitempty"`
}

// Backend returns the raw classification payload for a request.
type Backend interface {
	Classify(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Classify(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Adapter implements dragonscale.Classifier.
type Adapter struct {
	backend  Backend
	matcher  *KeywordMatcher
	cache    cache.Cache[dragonscale.IntentResult]
	logger   logging.Logger
	eventBus eventbus.EventBus
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBackend sets the primary classification backend.
func WithBackend(backend Backend) Option {
	return func(a *Adapter) {
		a.backend = backend
	}
}

// WithMatcher overrides the keyword fallback.
func WithMatcher(matcher *KeywordMatcher) Option {
	return func(a *Adapter) {
		a.matcher = matcher
	}
}

// WithCache sets the cache for primary classifications.
func WithCache(c cache.Cache[dragonscale.IntentResult]) Option {
	return func(a *Adapter) {
		a.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithEventBus publishes classification events.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(a *Adapter) {
		a.eventBus = bus
	}
}

// New creates a classifier adapter.
func New(options ...Option) *Adapter {
	a := &Adapter{}
	for _, option := range options {
		option(a)
	}
	if a.matcher == nil {
		a.matcher = NewKeywordMatcher()
	}
	a.logger = logging.OrNop(a.logger)
	return a
}

// Classify returns the backend's classification, or the keyword fallback after two faults.
func (a *Adapter) Classify(ctx context.Context, query string, prior []dragonscale.Turn) (dragonscale.ClassificationOutcome, error) {
	if strings.TrimSpace(query) == "" {
		return dragonscale.ClassificationOutcome{}, dragonscale.NewValidationError("classification", "query must not be empty", nil)
	}

	req := Request{Query: query, Prior: BoundPrior(prior)}
	a.emit(ctx, eventbus.EventClassificationStarted, query, nil)

	if a.backend == nil {
		return a.fallback(ctx, query, dragonscale.NewClassificationFault("no classification backend configured", nil)), nil
	}

	key := cacheKey(req)
	if a.cache != nil {
		if cached, err := a.cache.Get(ctx, key); err == nil {
			a.logger.Debug("Classification cache hit", map[string]interface{}{"key": key})
			a.emit(ctx, eventbus.EventClassificationSuccess, cached, map[string]interface{}{"cached": true})
			return dragonscale.Classified(cached), nil
		}
	}

	var lastFault error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastFault = dragonscale.NewClassificationFault("classification interrupted", err)
			break
		}

		result, err := a.attempt(ctx, req)
		if err == nil {
			if a.cache != nil {
				if cacheErr := a.cache.Set(ctx, key, result); cacheErr != nil {
					a.logger.Warn("Classification cache write failed", map[string]interface{}{"error": cacheErr})
				}
			}
			a.logger.Info("Query classified", map[string]interface{}{
				"intent":     result.IntentType,
				"confidence": result.Confidence,
				"attempt":    attempt,
			})
			a.emit(ctx, eventbus.EventClassificationSuccess, result, map[string]interface{}{"attempt": attempt})
			return dragonscale.Classified(result), nil
		}

		lastFault = err
		a.logger.Warn("Classification backend fault", map[string]interface{}{"attempt": attempt, "error": err})
	}

	return a.fallback(ctx, query, lastFault), nil
}

func (a *Adapter) attempt(ctx context.Context, req Request) (dragonscale.IntentResult, error) {
	raw, err := a.backend.Classify(ctx, req)
	if err != nil {
		return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("classification backend call failed", err)
	}
	if strings.TrimSpace(raw) == "" {
		return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("classification backend returned an empty payload", nil)
	}
	return ParsePayload(raw)
}

func (a *Adapter) fallback(ctx context.Context, query string, reason error) dragonscale.ClassificationOutcome {
	result := a.matcher.Match(query)
	a.logger.Warn("Using keyword fallback classification", map[string]interface{}{
		"intent":     result.IntentType,
		"confidence": result.Confidence,
		"reason":     reason,
	})
	a.emit(context.WithoutCancel(ctx), eventbus.EventClassificationDegraded, result, map[string]interface{}{"reason": reason.Error()})
	return dragonscale.ClassificationDegraded(result, reason)
}

func (a *Adapter) emit(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	eventbus.Emit(ctx, a.eventBus, eventType, payload, "Classifier", metadata)
}

// BoundPrior keeps the last MaxPriorPairs pairs and truncates each turn.
func BoundPrior(prior []dragonscale.Turn) []dragonscale.Turn {
	if len(prior) > MaxPriorPairs*2 {
		prior = prior[len(prior)-MaxPriorPairs*2:]
	}
	bounded := make([]dragonscale.Turn, len(prior))
	for i, turn := range prior {
		bounded[i] = dragonscale.Turn{Role: turn.Role, Content: truncateRunes(turn.Content, MaxTurnRunes)}
	}
	return bounded
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// cacheKey hashes the query together with the bounded prior context.
func cacheKey(req Request) string {
	inputBytes, err := json.Marshal(req)
	if err != nil {
		return "classifier:" + req.Query
	}
	hasher := sha1.New()
	hasher.Write(inputBytes)
	return "classifier:" + hex.EncodeToString(hasher.Sum(nil))
}
