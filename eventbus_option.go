package dragonscale

import "github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"

// WithEventBus sets the event bus component. A supplied bus is not closed by Close.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(d *DragonScale) {
		d.eventBus = bus
	}
}
