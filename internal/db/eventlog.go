package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/project-vector/internal/domain"
)

const eventLogSchema = `
CREATE TABLE IF NOT EXISTS event_logs (
	id         BIGSERIAL PRIMARY KEY,
	event_type TEXT NOT NULL,
	entity_id  UUID NOT NULL,
	actor_id   UUID,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS event_logs_entity_idx ON event_logs (entity_id, created_at);
`

// Execer is the subset of *pgxpool.Pool the event log needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EventLog appends domain events to the event_logs table.
type EventLog struct {
	db Execer
}

func NewEventLog(db Execer) *EventLog {
	return &EventLog{db: db}
}

func (l *EventLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, eventLogSchema); err != nil {
		return fmt.Errorf("create event_logs: %w", err)
	}
	return nil
}

func (l *EventLog) Publish(ctx context.Context, ev domain.Event) error {
	var payload []byte
	if len(ev.Payload) > 0 {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = data
	}

	var actor *uuid.UUID
	if ev.ActorID != nil {
		actor = ev.ActorID
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, entity_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.Type, ev.EntityID, actor, payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
