package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/rpc-absorber/internal/core"
	"github.com/rzpsarthak13/rpc-absorber/internal/logger"
)

// Notifier publishes events to a queue.
type Notifier struct {
	queue core.EventQueue
	clock clockwork.Clock
	log   zerolog.Logger
}

// NewNotifier creates a notifier writing to queue. A nil clock uses the
// real one.
func NewNotifier(queue core.EventQueue, clock clockwork.Clock) *Notifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Notifier{
		queue: queue,
		clock: clock,
		log:   logger.Component(logger.New(), "events"),
	}
}

// Notify enqueues an event of the given type for siteID.
func (n *Notifier) Notify(ctx context.Context, eventType core.EventType, siteID, method, message string) error {
	event := &core.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SiteID:    siteID,
		Method:    method,
		Message:   message,
		Timestamp: n.clock.Now(),
	}
	if err := n.queue.Enqueue(ctx, event); err != nil {
		n.log.Error().Err(err).Str("type", string(eventType)).Str("site", siteID).Msg("failed to publish event")
		return err
	}
	n.log.Debug().Str("id", event.ID).Str("type", string(eventType)).Str("site", siteID).Msg("event published")
	return nil
}
