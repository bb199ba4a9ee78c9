// Package notes manages encounter notes written by providers about members,
// along with the monthly per-provider statistics derived from them.
package notes

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
	EventNoteAdded      = "NOTE_ADDED"
	EventNoteUpdated    = "NOTE_UPDATED"
	EventNoteArchived   = "NOTE_ARCHIVED"
	EventNoteUnarchived = "NOTE_UNARCHIVED"
)

type Service struct {
	repo     domain.NoteRepository
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

func NewService(repo domain.NoteRepository, sessions domain.SessionResolver, locker lock.Locker, events domain.EventPublisher, opts ...Option) *Service {
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

// NewNote is the input to Add.
type NewNote struct {
	MemberID              uuid.UUID
	Category              domain.NoteCategory
	Content               string
	Status                domain.NoteStatus
	FollowUpAppointmentID *uuid.UUID
}

// Add records a note authored by the signed-in provider and folds it into
// that provider's statistics for the current month.
func (s *Service) Add(ctx context.Context, in NewNote) (*domain.EncounterNote, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.Is(domain.RoleProvider) {
		return nil, domain.ErrForbidden
	}
	if in.Category == "" {
		in.Category = domain.CategoryGeneral
	}
	if in.Status == "" {
		in.Status = domain.NoteActive
	}
	if err := validate(in.MemberID, in.Category, in.Status, in.Content); err != nil {
		return nil, err
	}

	note, err := s.repo.InsertNote(ctx, domain.EncounterNote{
		ProviderID:            sess.UserID,
		MemberID:              in.MemberID,
		Category:              in.Category,
		Content:               strings.TrimSpace(in.Content),
		Status:                in.Status,
		FollowUpAppointmentID: in.FollowUpAppointmentID,
		CreatedAt:             s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}

	if err := s.recordStatistics(ctx, *note); err != nil {
		// the note itself is stored; statistics catch up on the next note
		s.logger.Error("failed to update note statistics",
			"note_id", note.ID, "provider_id", note.ProviderID, "error", err)
	}

	s.logEvent(ctx, note.ID, EventNoteAdded, sess.UserID, map[string]any{
		"member_id": note.MemberID.String(),
		"category":  string(note.Category),
	})
	return note, nil
}

func (s *Service) recordStatistics(ctx context.Context, note domain.EncounterNote) error {
	period := domain.StatisticsPeriod(note.CreatedAt)
	key := lock.Key("note-stats", period+":"+note.ProviderID.String())

	return s.withLock(ctx, key, func(lockCtx context.Context) error {
		stats, err := s.repo.GetStatistics(lockCtx, period, note.ProviderID)
		switch {
		case errors.Is(err, domain.ErrStatisticsNotFound):
			stats = &domain.NoteStatistics{
				Period:         period,
				ProviderID:     note.ProviderID,
				CategoryCounts: map[domain.NoteCategory]int{},
			}
		case err != nil:
			return fmt.Errorf("load statistics: %w", err)
		}

		Accumulate(stats, note)
		_, err = s.repo.UpsertStatistics(lockCtx, *stats)
		return err
	})
}

// Accumulate folds one new note into stats.
func Accumulate(stats *domain.NoteStatistics, note domain.EncounterNote) {
	if stats.CategoryCounts == nil {
		stats.CategoryCounts = map[domain.NoteCategory]int{}
	}
	stats.CategoryCounts[note.Category]++
	stats.TotalNotes++
	if note.Status == domain.NoteRequiresAction {
		stats.RequiresActionCount++
	}
	for _, id := range stats.PatientIDs {
		if id == note.MemberID {
			return
		}
	}
	stats.PatientIDs = append(stats.PatientIDs, note.MemberID)
	stats.UniquePatients = len(stats.PatientIDs)
}

// NoteUpdate carries the editable fields. Nil fields are left unchanged.
type NoteUpdate struct {
	Category              *domain.NoteCategory
	Content               *string
	FollowUpAppointmentID *uuid.UUID
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in NoteUpdate) (*domain.EncounterNote, error) {
	return s.change(ctx, id, EventNoteUpdated, func(n *domain.EncounterNote) error {
		if in.Category != nil {
			if !in.Category.Valid() {
				return fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, *in.Category)
			}
			n.Category = *in.Category
		}
		if in.Content != nil {
			content := strings.TrimSpace(*in.Content)
			if content == "" {
				return fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
			}
			n.Content = content
		}
		if in.FollowUpAppointmentID != nil {
			n.FollowUpAppointmentID = in.FollowUpAppointmentID
		}
		return nil
	})
}

func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status domain.NoteStatus) (*domain.EncounterNote, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown note status %q", domain.ErrInvalidInput, status)
	}
	return s.change(ctx, id, EventNoteUpdated, func(n *domain.EncounterNote) error {
		n.Status = status
		return nil
	})
}

// Archive hides a note from default listings. Notes are never deleted.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) (*domain.EncounterNote, error) {
	return s.change(ctx, id, EventNoteArchived, func(n *domain.EncounterNote) error {
		if n.IsArchived {
			return domain.ErrInvalidTransition
		}
		at := s.now().UTC()
		n.IsArchived = true
		n.ArchivedAt = &at
		return nil
	})
}

func (s *Service) Unarchive(ctx context.Context, id uuid.UUID) (*domain.EncounterNote, error) {
	return s.change(ctx, id, EventNoteUnarchived, func(n *domain.EncounterNote) error {
		if !n.IsArchived {
			return domain.ErrInvalidTransition
		}
		n.IsArchived = false
		n.ArchivedAt = nil
		return nil
	})
}

func (s *Service) change(ctx context.Context, id uuid.UUID, event string, apply func(n *domain.EncounterNote) error) (*domain.EncounterNote, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	var updated *domain.EncounterNote
	err = s.withLock(ctx, lock.Key("note", id.String()), func(lockCtx context.Context) error {
		note, err := s.repo.GetNote(lockCtx, id)
		if err != nil {
			return fmt.Errorf("load note: %w", err)
		}
		if !sess.Is(domain.RoleAdmin) && note.ProviderID != sess.UserID {
			return domain.ErrForbidden
		}
		if err := apply(note); err != nil {
			return err
		}
		updated, err = s.repo.UpdateNote(lockCtx, *note)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, event, sess.UserID, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// ListForMember returns a member's notes, newest first. Members may only
// read their own; uuid.Nil means the signed-in user.
func (s *Service) ListForMember(ctx context.Context, memberID uuid.UUID, includeArchived bool) ([]domain.EncounterNote, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if memberID == uuid.Nil {
		memberID = sess.UserID
	}
	if sess.Is(domain.RoleMember) && memberID != sess.UserID {
		return nil, domain.ErrForbidden
	}

	filter := domain.NoteFilter{MemberID: &memberID, IncludeArchived: includeArchived}
	if sess.Is(domain.RoleProvider) {
		filter.ProviderID = &sess.UserID
	}
	notes, err := s.repo.ListNotes(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list member notes: %w", err)
	}
	return notes, nil
}

// ListForProvider returns the notes the signed-in provider authored.
func (s *Service) ListForProvider(ctx context.Context, includeArchived bool) ([]domain.EncounterNote, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.Is(domain.RoleProvider, domain.RoleAdmin) {
		return nil, domain.ErrForbidden
	}
	notes, err := s.repo.ListNotes(ctx, domain.NoteFilter{ProviderID: &sess.UserID, IncludeArchived: includeArchived})
	if err != nil {
		return nil, fmt.Errorf("list provider notes: %w", err)
	}
	return notes, nil
}

// Statistics returns the signed-in provider's aggregate for period
// (YYYY-MM). An empty period means the current month. A month without notes
// yields zeroed statistics.
func (s *Service) Statistics(ctx context.Context, period string) (*domain.NoteStatistics, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.Is(domain.RoleProvider) {
		return nil, domain.ErrForbidden
	}
	if period == "" {
		period = domain.StatisticsPeriod(s.now())
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return nil, fmt.Errorf("%w: period must be YYYY-MM", domain.ErrInvalidInput)
	}

	stats, err := s.repo.GetStatistics(ctx, period, sess.UserID)
	if errors.Is(err, domain.ErrStatisticsNotFound) {
		return &domain.NoteStatistics{
			ID:             domain.StatisticsID(period, sess.UserID),
			Period:         period,
			ProviderID:     sess.UserID,
			CategoryCounts: map[domain.NoteCategory]int{},
			PatientIDs:     []uuid.UUID{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}
	return stats, nil
}

func validate(memberID uuid.UUID, category domain.NoteCategory, status domain.NoteStatus, content string) error {
	switch {
	case memberID == uuid.Nil:
		return fmt.Errorf("%w: member_id is required", domain.ErrInvalidInput)
	case !category.Valid():
		return fmt.Errorf("%w: unknown category %q", domain.ErrInvalidInput, category)
	case !status.Valid():
		return fmt.Errorf("%w: unknown note status %q", domain.ErrInvalidInput, status)
	case strings.TrimSpace(content) == "":
		return fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	}
	return nil
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
