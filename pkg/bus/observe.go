package bus

import (
	"context"
	"log/slog"
	"time"
)

// Observe logs every event published on b until ctx is done or the bus closes.
func Observe(ctx context.Context, b *Bus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	events, unsubscribe := b.SubscribeEvents(ctx, 256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			LogEvent(log, event)
		}
	}
}

// LogEvent writes one event with a stable attribute set so logs correlate by
// actor and sequence number.
func LogEvent(log *slog.Logger, event Event) {
	attrs := []any{
		"event_type", event.Type,
		"actor", event.Actor,
		"seq", event.Seq,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case EventMessageFailed, EventCallbackFailed:
		log.Error("Runtime event", append(attrs, "error", event.Error)...)
	case EventMessageReceived, EventMessageCompleted:
		log.Debug("Runtime event", attrs...)
	case EventStateChanged:
		log.Info("Runtime event", attrs...)
	default:
		log.Debug("Runtime event", attrs...)
	}
}
