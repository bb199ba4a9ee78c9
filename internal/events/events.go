// Package events fans domain events out to the log, the Postgres event log
// and a NATS subject tree.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hackgods/project-vector/internal/domain"
)

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev domain.Event) error {
	attrs := []any{"type", ev.Type, "entity_id", ev.EntityID}
	if ev.ActorID != nil {
		attrs = append(attrs, "actor_id", *ev.ActorID)
	}
	if len(ev.Payload) > 0 {
		attrs = append(attrs, "payload", ev.Payload)
	}
	p.logger.InfoContext(ctx, "event", attrs...)
	return nil
}

// Multi publishes to every target in order. Every target is tried; the
// failures are joined.
type Multi []domain.EventPublisher

func (m Multi) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
