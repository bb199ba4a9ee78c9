// Package appointment implements the scheduling rules: providers create
// capacity as open slots, members claim them, and both sides can cancel,
// block or reschedule.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/lifecycle"
	"github.com/hackgods/project-vector/internal/lock"
)

const (
	EventSlotsGenerated       = "SLOTS_GENERATED"
	EventSlotBlocked          = "SLOT_BLOCKED"
	EventSlotUnblocked        = "SLOT_UNBLOCKED"
	EventSlotDeleted          = "SLOT_DELETED"
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentMoved     = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
)

type Service struct {
	repo     domain.AppointmentRepository
	sessions domain.SessionResolver
	locker   lock.Locker
	events   domain.EventPublisher
	logger   *slog.Logger
	now      func() time.Time
	grace    time.Duration

	rndMu sync.Mutex
	rnd   *rand.Rand
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand sets the random source used for the video flag of generated
// slots.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rnd = r }
}

func WithNoShowGrace(d time.Duration) Option {
	return func(s *Service) { s.grace = d }
}

func NewService(repo domain.AppointmentRepository, sessions domain.SessionResolver, locker lock.Locker, events domain.EventPublisher, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		sessions: sessions,
		locker:   locker,
		events:   events,
		logger:   slog.Default(),
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		grace:    lifecycle.DefaultNoShowGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	return s
}

// BookSlot claims an open slot for the signed-in member. Only members book,
// only slots that have not started yet can be claimed, and a member can hold
// at most one non-cancelled appointment per calendar day.
func (s *Service) BookSlot(ctx context.Context, slotID uuid.UUID, notes string) (*domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.Is(domain.RoleMember) {
		return nil, domain.ErrForbidden
	}

	// fail fast before taking any lock
	slot, err := s.repo.GetAppointment(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if !s.bookable(*slot) {
		return nil, domain.ErrSlotNotOpen
	}

	var booked *domain.Appointment
	err = s.withSlotsAndMember(ctx, []uuid.UUID{slotID}, sess.UserID, func(lockCtx context.Context) error {
		// re-check inside the critical section
		slot, err := s.repo.GetAppointment(lockCtx, slotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if !s.bookable(*slot) {
			return domain.ErrSlotNotOpen
		}
		if err := s.checkDailyLimit(lockCtx, sess.UserID, slot.StartTime, uuid.Nil); err != nil {
			return err
		}

		member := sess.UserID
		slot.MemberID = &member
		slot.IsBooked = true
		slot.Status = domain.StatusConfirmed
		slot.Notes = notes

		booked, err = s.repo.UpdateAppointment(lockCtx, *slot)
		if err != nil {
			return fmt.Errorf("book slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, booked.ID, EventAppointmentBooked, &sess.UserID, map[string]any{
		"provider_id": booked.ProviderID.String(),
		"start_time":  booked.StartTime,
	})
	return booked, nil
}

// GenerateSlots creates open slots, or blocks when req.Block is set, for a
// provider. Providers can only generate for themselves.
func (s *Service) GenerateSlots(ctx context.Context, req SlotRequest) ([]domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if req.ProviderID == uuid.Nil {
		req.ProviderID = sess.UserID
	}
	if !canManage(sess, req.ProviderID) {
		return nil, domain.ErrForbidden
	}

	var created []domain.Appointment
	err = s.withLock(ctx, lock.Key("provider", req.ProviderID.String()), func(lockCtx context.Context) error {
		existing, err := s.repo.ListAppointments(lockCtx, domain.AppointmentFilter{
			ProviderID: &req.ProviderID,
		})
		if err != nil {
			return fmt.Errorf("list provider appointments: %w", err)
		}

		plan, err := PlanSlots(req, existing, s.videoFlag(req.VideoRatio))
		if err != nil {
			return err
		}

		// bookings do not take the provider lock, so a displaced slot may
		// have been claimed since the read above
		displaced, err := s.repo.DeleteOpenSlots(lockCtx, plan.Delete...)
		if err != nil {
			return fmt.Errorf("remove displaced slots: %w", err)
		}
		if len(plan.Insert) == 0 {
			created = []domain.Appointment{}
			return nil
		}
		created, err = s.repo.InsertAppointments(lockCtx, plan.Insert)
		if err != nil {
			return fmt.Errorf("insert slots: %w", err)
		}

		s.logger.Info("slots generated",
			"provider_id", req.ProviderID,
			"block", req.Block,
			"inserted", len(created),
			"displaced", displaced,
			"skipped", plan.Skipped)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(created) > 0 {
		s.logEvent(ctx, req.ProviderID, EventSlotsGenerated, &sess.UserID, map[string]any{
			"count": len(created),
			"block": req.Block,
		})
	}
	return created, nil
}

func (s *Service) videoFlag(ratio float64) func() bool {
	return func() bool {
		if ratio <= 0 {
			return false
		}
		s.rndMu.Lock()
		defer s.rndMu.Unlock()
		return s.rnd.Float64() < ratio
	}
}

// BlockSlot turns an open slot into a block so members can no longer claim
// it.
func (s *Service) BlockSlot(ctx context.Context, slotID uuid.UUID, reason string) (*domain.Appointment, error) {
	return s.changeSlot(ctx, slotID, EventSlotBlocked, func(a *domain.Appointment) error {
		if !a.IsOpen() {
			return domain.ErrSlotNotOpen
		}
		a.Status = domain.StatusBlocked
		a.IsBooked = true
		a.Notes = reason
		return nil
	})
}

func (s *Service) UnblockSlot(ctx context.Context, slotID uuid.UUID) (*domain.Appointment, error) {
	return s.changeSlot(ctx, slotID, EventSlotUnblocked, func(a *domain.Appointment) error {
		if a.Status != domain.StatusBlocked {
			return domain.ErrInvalidTransition
		}
		a.Status = domain.StatusPending
		a.IsBooked = false
		a.Notes = ""
		return nil
	})
}

// DeleteSlot removes unclaimed capacity. Claimed appointments must be
// cancelled instead.
func (s *Service) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return err
	}

	err = s.withLock(ctx, lock.Key("slot", slotID.String()), func(lockCtx context.Context) error {
		slot, err := s.repo.GetAppointment(lockCtx, slotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if !canManage(sess, slot.ProviderID) {
			return domain.ErrForbidden
		}
		if slot.MemberID != nil {
			return domain.ErrInvalidTransition
		}
		return s.repo.DeleteAppointments(lockCtx, slotID)
	})
	if err != nil {
		return err
	}

	s.logEvent(ctx, slotID, EventSlotDeleted, &sess.UserID, nil)
	return nil
}

func (s *Service) changeSlot(ctx context.Context, slotID uuid.UUID, event string, apply func(a *domain.Appointment) error) (*domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	var updated *domain.Appointment
	err = s.withLock(ctx, lock.Key("slot", slotID.String()), func(lockCtx context.Context) error {
		slot, err := s.repo.GetAppointment(lockCtx, slotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if !canManage(sess, slot.ProviderID) {
			return domain.ErrForbidden
		}
		if err := apply(slot); err != nil {
			return err
		}
		updated, err = s.repo.UpdateAppointment(lockCtx, *slot)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, event, &sess.UserID, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

// Reschedule moves a booking to another open slot of the same provider. The
// old appointment and the target slot are replaced by a single confirmed
// appointment at the target time.
func (s *Service) Reschedule(ctx context.Context, appointmentID, targetSlotID uuid.UUID) (*domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if current.MemberID == nil {
		return nil, domain.ErrInvalidTransition
	}
	member := *current.MemberID

	var moved *domain.Appointment
	err = s.withSlotsAndMember(ctx, []uuid.UUID{appointmentID, targetSlotID}, member, func(lockCtx context.Context) error {
		current, err := s.repo.GetAppointment(lockCtx, appointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if !current.BelongsTo(sess.UserID) && !sess.Is(domain.RoleAdmin) {
			return domain.ErrNotAppointmentOwner
		}
		if current.Status != domain.StatusPending && current.Status != domain.StatusConfirmed {
			return domain.ErrInvalidTransition
		}

		target, err := s.repo.GetAppointment(lockCtx, targetSlotID)
		if err != nil {
			return fmt.Errorf("load target slot: %w", err)
		}
		if !s.bookable(*target) {
			return domain.ErrSlotNotOpen
		}
		if target.ProviderID != current.ProviderID {
			return domain.ErrProviderMismatch
		}
		if err := s.checkDailyLimit(lockCtx, member, target.StartTime, current.ID); err != nil {
			return err
		}

		location := target.Location
		if location == "" {
			location = current.Location
		}
		replacement := domain.Appointment{
			ID:         uuid.New(),
			ProviderID: current.ProviderID,
			MemberID:   &member,
			StartTime:  target.StartTime,
			EndTime:    target.EndTime,
			Status:     domain.StatusConfirmed,
			IsBooked:   true,
			Notes:      current.Notes,
			Location:   location,
			IsVideo:    target.IsVideo,
		}

		moved, err = s.repo.SwapAppointments(lockCtx, []uuid.UUID{current.ID, target.ID}, replacement)
		if err != nil {
			return fmt.Errorf("swap appointments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, moved.ID, EventAppointmentMoved, &sess.UserID, map[string]any{
		"from_appointment_id": appointmentID.String(),
		"target_slot_id":      targetSlotID.String(),
		"start_time":          moved.StartTime,
	})
	return moved, nil
}

// Cancel is the member-initiated cancellation. The slot stays booked so it
// is not offered again.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, reason string) (*domain.Appointment, error) {
	return s.cancel(ctx, appointmentID, reason, false)
}

// ProviderCancel cancels on the provider's side and releases the booked
// flag.
func (s *Service) ProviderCancel(ctx context.Context, appointmentID uuid.UUID, reason string) (*domain.Appointment, error) {
	return s.cancel(ctx, appointmentID, reason, true)
}

func (s *Service) cancel(ctx context.Context, appointmentID uuid.UUID, reason string, byProvider bool) (*domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	var cancelled *domain.Appointment
	err = s.withLock(ctx, lock.Key("slot", appointmentID.String()), func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointment(lockCtx, appointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if byProvider {
			if !canManage(sess, appt.ProviderID) {
				return domain.ErrForbidden
			}
		} else if !appt.BelongsTo(sess.UserID) && !sess.Is(domain.RoleAdmin) {
			return domain.ErrNotAppointmentOwner
		}
		if appt.MemberID == nil {
			return domain.ErrInvalidTransition
		}
		if appt.Status != domain.StatusPending && appt.Status != domain.StatusConfirmed {
			return domain.ErrInvalidTransition
		}

		appt.Status = domain.StatusCancelled
		appt.CancelReason = reason
		if byProvider {
			appt.IsBooked = false
		}
		cancelled, err = s.repo.UpdateAppointment(lockCtx, *appt)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, cancelled.ID, EventAppointmentCancelled, &sess.UserID, map[string]any{
		"reason":      reason,
		"by_provider": byProvider,
	})
	return cancelled, nil
}

// Complete marks a claimed appointment as attended.
func (s *Service) Complete(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	var completed *domain.Appointment
	err = s.withLock(ctx, lock.Key("slot", appointmentID.String()), func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointment(lockCtx, appointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if !canManage(sess, appt.ProviderID) {
			return domain.ErrForbidden
		}
		if appt.MemberID == nil {
			return domain.ErrInvalidTransition
		}
		if appt.Status != domain.StatusPending && appt.Status != domain.StatusConfirmed {
			return domain.ErrInvalidTransition
		}
		appt.Status = domain.StatusCompleted
		completed, err = s.repo.UpdateAppointment(lockCtx, *appt)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, completed.ID, EventAppointmentCompleted, &sess.UserID, nil)
	return completed, nil
}

// ListOpenSlots returns unclaimed capacity starting in [from, to). A nil
// provider lists every provider; zero bounds are open-ended.
func (s *Service) ListOpenSlots(ctx context.Context, providerID *uuid.UUID, from, to time.Time) ([]domain.Appointment, error) {
	if _, err := s.sessions.Resolve(ctx); err != nil {
		return nil, err
	}
	slots, err := s.repo.ListAppointments(ctx, domain.AppointmentFilter{
		ProviderID:  providerID,
		StartFrom:   from,
		StartBefore: to,
		OpenOnly:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

// ProviderSchedule returns every appointment of a provider starting in
// [from, to). uuid.Nil means the signed-in provider.
func (s *Service) ProviderSchedule(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if providerID == uuid.Nil {
		providerID = sess.UserID
	}
	if !canManage(sess, providerID) {
		return nil, domain.ErrForbidden
	}

	appts, err := s.repo.ListAppointments(ctx, domain.AppointmentFilter{
		ProviderID:  &providerID,
		StartFrom:   from,
		StartBefore: to,
	})
	if err != nil {
		return nil, fmt.Errorf("list provider schedule: %w", err)
	}
	return appts, nil
}

// MemberAppointments lists the signed-in member's appointments.
func (s *Service) MemberAppointments(ctx context.Context) ([]domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	appts, err := s.repo.ListAppointments(ctx, domain.AppointmentFilter{MemberID: &sess.UserID})
	if err != nil {
		return nil, fmt.Errorf("list member appointments: %w", err)
	}
	return appts, nil
}

// Get returns one appointment. Members see open slots and their own
// bookings only.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if sess.Is(domain.RoleMember) && !appt.IsOpen() && !appt.BelongsTo(sess.UserID) {
		return nil, domain.ErrNotAppointmentOwner
	}
	return appt, nil
}

// IsAvailableOn reports whether the member has no non-cancelled appointment
// on the calendar day of day. Members can only ask about themselves.
func (s *Service) IsAvailableOn(ctx context.Context, memberID uuid.UUID, day time.Time) (bool, error) {
	sess, err := s.sessions.Resolve(ctx)
	if err != nil {
		return false, err
	}
	if sess.UserID != memberID && !sess.Is(domain.RoleProvider, domain.RoleAdmin) {
		return false, domain.ErrForbidden
	}
	err = s.checkDailyLimit(ctx, memberID, day, uuid.Nil)
	if errors.Is(err, domain.ErrDailyLimitReached) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NormalizeLifecycle applies the completion and no-show rules through the
// repository. The local store already does this on load; remote backends
// rely on the lifecycle worker calling this periodically.
func (s *Service) NormalizeLifecycle(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.ListAppointments(ctx, domain.AppointmentFilter{
		StartBefore: now,
		Statuses:    []domain.AppointmentStatus{domain.StatusPending, domain.StatusConfirmed},
	})
	if err != nil {
		return 0, fmt.Errorf("find due appointments: %w", err)
	}

	changed := 0
	for _, appt := range due {
		updated, outcome := lifecycle.Apply(appt, now, s.grace)
		if outcome == lifecycle.Unchanged {
			continue
		}
		if _, err := s.repo.UpdateAppointment(ctx, updated); err != nil {
			if errors.Is(err, domain.ErrAppointmentNotFound) {
				continue
			}
			s.logger.Error("failed to normalize appointment",
				"appointment_id", appt.ID, "outcome", outcome.String(), "error", err)
			continue
		}
		changed++

		event := EventAppointmentCompleted
		if outcome == lifecycle.NoShow {
			event = EventAppointmentNoShow
		}
		s.logEvent(ctx, appt.ID, event, nil, map[string]any{"reason": "lifecycle"})
	}
	return changed, nil
}

func (s *Service) checkDailyLimit(ctx context.Context, memberID uuid.UUID, day time.Time, ignore uuid.UUID) error {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	appts, err := s.repo.ListAppointments(ctx, domain.AppointmentFilter{
		MemberID:    &memberID,
		StartFrom:   start,
		StartBefore: start.AddDate(0, 0, 1),
	})
	if err != nil {
		return fmt.Errorf("check daily limit: %w", err)
	}
	for _, a := range appts {
		if a.ID != ignore && a.Status != domain.StatusCancelled {
			return domain.ErrDailyLimitReached
		}
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

// withSlotsAndMember takes the slot locks in key order, then the member
// lock. Every caller that holds more than one slot goes through here.
func (s *Service) withSlotsAndMember(ctx context.Context, slotIDs []uuid.UUID, memberID uuid.UUID, fn func(ctx context.Context) error) error {
	keys := make([]string, 0, len(slotIDs)+1)
	for _, id := range slotIDs {
		keys = append(keys, lock.Key("slot", id.String()))
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	keys = append(keys, lock.Key("member", memberID.String()))
	return s.withLocks(ctx, keys, fn)
}

func (s *Service) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return s.withLock(ctx, keys[0], func(lockCtx context.Context) error {
		return s.withLocks(lockCtx, keys[1:], fn)
	})
}

// bookable is an open slot that has not started yet.
func (s *Service) bookable(a domain.Appointment) bool {
	return a.IsOpen() && a.StartTime.After(s.now())
}

func canManage(sess domain.Session, providerID uuid.UUID) bool {
	return sess.Is(domain.RoleAdmin) || (sess.Is(domain.RoleProvider) && sess.UserID == providerID)
}

func (s *Service) logEvent(ctx context.Context, entityID uuid.UUID, eventType string, actor *uuid.UUID, payload map[string]any) {
	if s.events == nil {
		return
	}
	ev := domain.Event{
		Type:      eventType,
		EntityID:  entityID,
		ActorID:   actor,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", "type", eventType, "entity_id", entityID, "error", err)
	}
}
