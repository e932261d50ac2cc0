package events

import (
	"context"

	"github.com/rs/zerolog"
)

// FallbackPublisher drops events when no broker is configured or reachable,
// so callers never have to branch on the events mode.
type FallbackPublisher struct {
	logger zerolog.Logger
}

func (p *FallbackPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	p.logger.Debug().Str("key", key).Msg("event export disabled, skipped publish")
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}

// NewFallback returns a publisher that drops everything
func NewFallback(logger zerolog.Logger) Publisher {
	return &FallbackPublisher{
		logger: logger.With().Str("component", "events").Logger(),
	}
}
