package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/auth"
	"github.com/hackgods/project-vector/internal/domain"
)

// BridgeAuth republishes auth state changes as AUTH_<type> domain events and
// returns the unsubscribe function. Signed-out events carry no entity.
func BridgeAuth(sim *auth.Simulator, pub domain.EventPublisher, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	return sim.OnAuthStateChange(func(ae auth.AuthEvent) {
		ev := domain.Event{
			Type:      "AUTH_" + string(ae.Type),
			CreatedAt: time.Now().UTC(),
		}
		if ae.Session != nil {
			id := ae.Session.UserID
			ev.EntityID = id
			ev.ActorID = &id
			ev.Payload = map[string]any{"role": ae.Session.Role}
		} else {
			ev.EntityID = uuid.Nil
		}
		if err := pub.Publish(context.Background(), ev); err != nil {
			logger.Warn("failed to publish auth event", "type", ev.Type, "error", err)
		}
	})
}
