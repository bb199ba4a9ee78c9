// Package waitlist lets members queue for a provider when no open slot
// suits them.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/lock"
)

const (
	EventWaitlistJoined    = "WAITLIST_JOINED"
	EventWaitlistLeft      = "WAITLIST_LEFT"
	EventWaitlistFulfilled = "WAITLIST_FULFILLED"
)

type Service struct {
	repo     domain.WaitlistRepository
	sessions domain.SessionResolver
	locker   lock.Locker
	events   domain.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo domain.WaitlistRepository, sessions domain.SessionResolver, locker lock.Locker, events domain.EventPublisher, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		sessions: sessions,
		locker:   locker,
		events:   events,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	return s
}

// Join adds the signed-in member to a provider's waitlist. A member holds at
// most one active entry per provider.
func (s *Service) Join(ctx context.Context, providerID uuid.UUID, serviceType, notes string) (*domain.WaitlistEntry, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if providerID == uuid.Nil {
		return nil, fmt.Errorf("%w: provider_id is required", domain.ErrInvalidInput)
	}

	var entry *domain.WaitlistEntry
	key := lock.Key("waitlist", sess.UserID.String()+":"+providerID.String())
	err = s.withLock(ctx, key, func(lockCtx context.Context) error {
		active, err := s.repo.ListWaitlist(lockCtx, domain.WaitlistFilter{
			MemberID:   &sess.UserID,
			ProviderID: &providerID,
			Status:     domain.WaitlistActive,
		})
		if err != nil {
			return fmt.Errorf("check waitlist: %w", err)
		}
		if len(active) > 0 {
			return domain.ErrAlreadyOnWaitlist
		}

		entry, err = s.repo.InsertWaitlistEntry(lockCtx, domain.WaitlistEntry{
			MemberID:    sess.UserID,
			ProviderID:  providerID,
			ServiceType: strings.TrimSpace(serviceType),
			Notes:       strings.TrimSpace(notes),
			Status:      domain.WaitlistActive,
		})
		if err != nil {
			return fmt.Errorf("insert waitlist entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, entry.ID, EventWaitlistJoined, sess.UserID, map[string]any{"provider_id": providerID.String()})
	return entry, nil
}

// ListMine returns the signed-in member's entries, oldest first.
func (s *Service) ListMine(ctx context.Context) ([]domain.WaitlistEntry, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListWaitlist(ctx, domain.WaitlistFilter{MemberID: &sess.UserID})
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// ListForProvider returns the active queue of a provider in join order.
// uuid.Nil means the signed-in provider.
func (s *Service) ListForProvider(ctx context.Context, providerID uuid.UUID) ([]domain.WaitlistEntry, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if providerID == uuid.Nil {
		providerID = sess.UserID
	}
	if !sess.Is(domain.RoleAdmin) && !(sess.Is(domain.RoleProvider) && sess.UserID == providerID) {
		return nil, domain.ErrForbidden
	}
	entries, err := s.repo.ListWaitlist(ctx, domain.WaitlistFilter{ProviderID: &providerID, Status: domain.WaitlistActive})
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// Leave cancels the member's own active entry.
func (s *Service) Leave(ctx context.Context, id uuid.UUID) (*domain.WaitlistEntry, error) {
	return s.transition(ctx, id, domain.WaitlistCancelled, EventWaitlistLeft, func(sess domain.Session, e *domain.WaitlistEntry) bool {
		return e.MemberID == sess.UserID || sess.Is(domain.RoleAdmin)
	})
}

// Fulfill closes an entry once the provider has offered the member a slot.
func (s *Service) Fulfill(ctx context.Context, id uuid.UUID) (*domain.WaitlistEntry, error) {
	return s.transition(ctx, id, domain.WaitlistFulfilled, EventWaitlistFulfilled, func(sess domain.Session, e *domain.WaitlistEntry) bool {
		return sess.Is(domain.RoleAdmin) || (sess.Is(domain.RoleProvider) && e.ProviderID == sess.UserID)
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.WaitlistStatus, event string, allowed func(domain.Session, *domain.WaitlistEntry) bool) (*domain.WaitlistEntry, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := s.repo.GetWaitlistEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load waitlist entry: %w", err)
	}

	var updated *domain.WaitlistEntry
	key := lock.Key("waitlist", entry.MemberID.String()+":"+entry.ProviderID.String())
	err = s.withLock(ctx, key, func(lockCtx context.Context) error {
		entry, err := s.repo.GetWaitlistEntry(lockCtx, id)
		if err != nil {
			return fmt.Errorf("load waitlist entry: %w", err)
		}
		if !allowed(sess, entry) {
			return domain.ErrForbidden
		}
		if entry.Status != domain.WaitlistActive {
			return domain.ErrInvalidTransition
		}
		entry.Status = to
		updated, err = s.repo.UpdateWaitlistEntry(lockCtx, *entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, event, sess.UserID, nil)
	return updated, nil
}

func (s *Service) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, key, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return domain.ErrResourceBusy
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, entityID uuid.UUID, eventType string, actor uuid.UUID, payload map[string]any) {
	if s.events == nil {
		return
	}
	ev := domain.Event{
		Type:      eventType,
		EntityID:  entityID,
		ActorID:   &actor,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", "type", eventType, "entity_id", entityID, "error", err)
	}
}
