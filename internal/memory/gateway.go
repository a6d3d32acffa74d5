// Package memory implements the memory gateway over a pluggable summary store.
package memory

import (
	"context"
	"strings"
	"time"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
)

const (
	DefaultTimeout  = 2 * time.Second
	DefaultLimit    = 5
	MaxLimit        = 20
	MaxSummaryRunes = 500
)

// Gateway implements dragonscale.MemoryGateway.
type Gateway struct {
	store   Store
	timeout time.Duration
	logger  logging.Logger
	now     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds every store call.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithClock sets the time source for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// NewGateway wraps store.
func NewGateway(store Store, options ...Option) *Gateway {
	g := &Gateway{
		store:   store,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, option := range options {
		option(g)
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	g.logger = logging.OrNop(g.logger)
	return g
}

// ClampLimit caps limit at MaxLimit; non-positive means DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LoadRecent returns the actor's most recent summaries from other sessions.
func (g *Gateway) LoadRecent(ctx context.Context, actorID int, sessionID string, limit int) ([]dragonscale.MemoryRecord, error) {
	if g.store == nil {
		return nil, dragonscale.NewMemoryFault("load", dragonscale.NewConfigurationError("memory store is not configured", nil))
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	records, err := g.store.Recent(ctx, actorID, sessionID, ClampLimit(limit))
	if err != nil {
		g.logger.Warn("Memory load failed", map[string]interface{}{"actor_id": actorID, "session_id": sessionID, "error": err})
		return nil, dragonscale.NewMemoryFault("load", err)
	}
	g.logger.Debug("Memories loaded", map[string]interface{}{"actor_id": actorID, "count": len(records)})
	return records, nil
}

// SaveSummary upserts the summary of sessionID for the actor.
func (g *Gateway) SaveSummary(ctx context.Context, actorID int, sessionID, summary string) error {
	if g.store == nil {
		return dragonscale.NewMemoryFault("save", dragonscale.NewConfigurationError("memory store is not configured", nil))
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return dragonscale.NewMemoryFault("save", dragonscale.NewValidationError("memory", "summary is empty", nil))
	}
	if runes := []rune(summary); len(runes) > MaxSummaryRunes {
		summary = string(runes[:MaxSummaryRunes])
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	record := dragonscale.MemoryRecord{
		SessionID:   sessionID,
		Summary:     summary,
		LastUpdated: g.now().UTC(),
	}
	if err := g.store.Upsert(ctx, actorID, record); err != nil {
		g.logger.Warn("Memory save failed", map[string]interface{}{"actor_id": actorID, "session_id": sessionID, "error": err})
		return dragonscale.NewMemoryFault("save", err)
	}
	g.logger.Debug("Memory saved", map[string]interface{}{"actor_id": actorID, "session_id": sessionID})
	return nil
}
