package notify

import (
	"context"
	"errors"
	"log/slog"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(ctx context.Context, evt Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"record_id", evt.RecordID,
		"actor_id", evt.ActorID,
		"occurred_at", evt.OccurredAt,
		"attributes", evt.Attributes,
	)
	return nil
}

// MultiSink delivers to every sink and joins their failures.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
