package alert

import (
	"context"
	"errors"

	"servalliance/internal/logger"
	"servalliance/internal/models"
)

// Sink receives alert events. It may be called concurrently and out of
// order.
type Sink interface {
	Deliver(ctx context.Context, event models.AlertEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event models.AlertEvent) error

func (f SinkFunc) Deliver(ctx context.Context, event models.AlertEvent) error {
	return f(ctx, event)
}

// MultiSink delivers to every sink. A failing or panicking sink does not
// stop delivery to the others.
func MultiSink(sinks ...Sink) Sink {
	var active []Sink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return SinkFunc(func(ctx context.Context, event models.AlertEvent) error {
		var errs []error
		for _, s := range active {
			if err := safeDeliver(ctx, s, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// LogSink writes every alert to the log.
func LogSink(logger *logger.Logger) Sink {
	return SinkFunc(func(_ context.Context, event models.AlertEvent) error {
		clip := event.ClipPath
		if clip == "" {
			clip = "none"
		}
		logger.Warning("🚨 %s detected on camera %s (%.2f%%) clip=%s", event.ThreatType, event.Camera, event.ConfidencePercent, clip)
		return nil
	})
}

// Store persists alert events.
type Store interface {
	SaveAlert(ctx context.Context, event models.AlertEvent) error
}

// StoreSink saves every alert to store.
func StoreSink(store Store) Sink {
	return SinkFunc(store.SaveAlert)
}

// Broadcaster pushes a message to connected dashboards.
type Broadcaster interface {
	BroadcastJSON(v any) error
}

// BroadcastSink sends every alert to b as JSON.
func BroadcastSink(b Broadcaster) Sink {
	return SinkFunc(func(_ context.Context, event models.AlertEvent) error {
		return b.BroadcastJSON(event)
	})
}
