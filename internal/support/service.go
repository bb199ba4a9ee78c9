// Package support handles help requests raised by members and worked by
// staff.
package support

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
)

const (
	EventHelpRequested = "HELP_REQUESTED"
	EventHelpUpdated   = "HELP_UPDATED"
)

type Service struct {
	repo     domain.HelpRequestRepository
	sessions domain.SessionResolver
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

func NewService(repo domain.HelpRequestRepository, sessions domain.SessionResolver, events domain.EventPublisher, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		sessions: sessions,
		events:   events,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type NewRequest struct {
	Category string
	Subject  string
	Message  string
}

func (s *Service) Create(ctx context.Context, in NewRequest) (*domain.HelpRequest, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	subject := strings.TrimSpace(in.Subject)
	message := strings.TrimSpace(in.Message)
	if subject == "" || message == "" {
		return nil, fmt.Errorf("%w: subject and message are required", domain.ErrInvalidInput)
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = "general"
	}

	req, err := s.repo.InsertHelpRequest(ctx, domain.HelpRequest{
		MemberID: sess.UserID,
		Category: category,
		Subject:  subject,
		Message:  message,
		Status:   domain.HelpPending,
	})
	if err != nil {
		return nil, fmt.Errorf("insert help request: %w", err)
	}

	s.logEvent(ctx, req.ID, EventHelpRequested, sess.UserID, map[string]any{"category": category})
	return req, nil
}

// ListMine returns the signed-in user's requests, newest first.
func (s *Service) ListMine(ctx context.Context) ([]domain.HelpRequest, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	reqs, err := s.repo.ListHelpRequests(ctx, domain.HelpRequestFilter{MemberID: &sess.UserID})
	if err != nil {
		return nil, fmt.Errorf("list help requests: %w", err)
	}
	return reqs, nil
}

// List returns every request, optionally narrowed to one status. Staff only.
func (s *Service) List(ctx context.Context, status domain.HelpStatus) ([]domain.HelpRequest, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.Is(domain.RoleAdmin, domain.RoleProvider) {
		return nil, domain.ErrForbidden
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown help status %q", domain.ErrInvalidInput, status)
	}
	reqs, err := s.repo.ListHelpRequests(ctx, domain.HelpRequestFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("list help requests: %w", err)
	}
	return reqs, nil
}

// UpdateStatus moves a request along pending, in_progress, resolved.
// Resolving stamps resolved_at; reopening clears it.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.HelpStatus, resolution string) (*domain.HelpRequest, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.Is(domain.RoleAdmin, domain.RoleProvider) {
		return nil, domain.ErrForbidden
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown help status %q", domain.ErrInvalidInput, status)
	}

	req, err := s.repo.GetHelpRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load help request: %w", err)
	}

	responder := sess.UserID
	req.Status = status
	req.RespondedBy = &responder
	if resolution = strings.TrimSpace(resolution); resolution != "" {
		req.ResolutionNote = resolution
	}
	if status == domain.HelpResolved {
		at := s.now().UTC()
		req.ResolvedAt = &at
	} else {
		req.ResolvedAt = nil
	}

	updated, err := s.repo.UpdateHelpRequest(ctx, *req)
	if err != nil {
		return nil, fmt.Errorf("update help request: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventHelpUpdated, sess.UserID, map[string]any{"status": string(status)})
	return updated, nil
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
