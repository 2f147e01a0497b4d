// Package events fans stream mutations out to renderers.
package events

import (
	"context"

	"github.com/capitalize-ai/chat-orchestrator/internal/model"
)

// Publisher receives every stream event in the order a task produced it.
// Implementations must not block the publishing task for long.
type Publisher interface {
	Publish(ctx context.Context, event model.StreamEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event model.StreamEvent)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event model.StreamEvent) {
	f(ctx, event)
}

// Nop discards events.
var Nop Publisher = PublisherFunc(func(context.Context, model.StreamEvent) {})

type multi []Publisher

// Multi publishes to every non-nil publisher in order.
func Multi(publishers ...Publisher) Publisher {
	var out multi
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) Publish(ctx context.Context, event model.StreamEvent) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}
