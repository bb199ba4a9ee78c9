package appointment

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/kv"
	"github.com/hackgods/project-vector/internal/lock"
	"github.com/hackgods/project-vector/internal/mockstore"
)

var (
	clockNow = time.Date(2025, 10, 19, 8, 0, 0, 0, time.UTC)
	day      = time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)
)

type fakeSessions struct {
	mu      sync.Mutex
	current *domain.Session
}

func (f *fakeSessions) Resolve(context.Context) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return domain.Session{}, domain.ErrNotAuthenticated
	}
	return *f.current, nil
}

func (f *fakeSessions) signIn(id uuid.UUID, role domain.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = &domain.Session{UserID: id, Role: role}
}

func (f *fakeSessions) signOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	store    *mockstore.Store
	svc      *Service
	sessions *fakeSessions
	events   *recordingPublisher
	provider uuid.UUID
	member   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return clockNow }

	store := mockstore.New(kv.NewMemoryStore(), mockstore.WithClock(clock))
	require.NoError(t, store.Load(context.Background()))

	f := &fixture{
		store:    store,
		sessions: &fakeSessions{},
		events:   &recordingPublisher{},
		provider: uuid.New(),
		member:   uuid.New(),
	}
	f.svc = NewService(store, f.sessions, lock.NewLocal(), f.events,
		WithClock(clock),
		WithRand(rand.New(rand.NewSource(1))))
	return f
}

func (f *fixture) asProvider() { f.sessions.signIn(f.provider, domain.RoleProvider) }
func (f *fixture) asMember()   { f.sessions.signIn(f.member, domain.RoleMember) }

func morning(provider uuid.UUID) SlotRequest {
	return SlotRequest{
		ProviderID: provider,
		From:       day,
		To:         day,
		DayStart:   "09:00",
		DayEnd:     "13:00",
		Duration:   time.Hour,
	}
}

func (f *fixture) generateMorning(t *testing.T) []domain.Appointment {
	t.Helper()
	f.asProvider()
	slots, err := f.svc.GenerateSlots(context.Background(), morning(f.provider))
	require.NoError(t, err)
	require.Len(t, slots, 4)
	return slots
}

func slotAt(t *testing.T, slots []domain.Appointment, hour int) domain.Appointment {
	t.Helper()
	for _, s := range slots {
		if s.StartTime.Hour() == hour {
			return s
		}
	}
	t.Fatalf("no slot at %02d:00", hour)
	return domain.Appointment{}
}

func TestGenerateSlots_HolidayBlockLeavesNoOpenSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.generateMorning(t)

	req := morning(f.provider)
	req.Block = true
	req.Reason = "Holiday"
	blocks, err := f.svc.GenerateSlots(ctx, req)
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	for _, b := range blocks {
		assert.Equal(t, domain.StatusBlocked, b.Status)
		assert.Equal(t, "Holiday", b.Notes)
		assert.Nil(t, b.MemberID)
	}

	f.asMember()
	open, err := f.svc.ListOpenSlots(ctx, &f.provider, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Len(t, f.store.Snapshot().Appointments, 4, "open slots are replaced by the blocks")
}

func TestBlockSlot_SickLeaveHidesOnlyThatSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots := f.generateMorning(t)
	ten := slotAt(t, slots, 10)

	blocked, err := f.svc.BlockSlot(ctx, ten.ID, "Sick Leave")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, blocked.Status)
	assert.True(t, blocked.IsBooked)

	f.sessions.signOut()
	f.asMember()

	open, err := f.svc.ListOpenSlots(ctx, &f.provider, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, open, 3)
	for _, s := range open {
		assert.NotEqual(t, ten.ID, s.ID)
		assert.NotEqual(t, 10, s.StartTime.Hour())
	}
}

func TestBookSlot_ShowsInProviderSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots := f.generateMorning(t)
	nine := slotAt(t, slots, 9)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, nine.ID, "Urgent Pain")
	require.NoError(t, err)
	require.NotNil(t, booked.MemberID)
	assert.Equal(t, f.member, *booked.MemberID)
	assert.Equal(t, domain.StatusConfirmed, booked.Status)
	assert.True(t, booked.IsBooked)

	f.asProvider()
	schedule, err := f.svc.ProviderSchedule(ctx, uuid.Nil, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	var found *domain.Appointment
	for i := range schedule {
		if schedule[i].ID == nine.ID {
			found = &schedule[i]
		}
	}
	require.NotNil(t, found)
	assert.Contains(t, found.Notes, "Urgent Pain")
	assert.Equal(t, domain.StatusConfirmed, found.Status)

	assert.Contains(t, f.events.types(), EventAppointmentBooked)
}

func TestBookSlot_PreservesLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.asProvider()
	req := morning(f.provider)
	req.Location = "Room 4"
	slots, err := f.svc.GenerateSlots(ctx, req)
	require.NoError(t, err)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, slots[0].ID, "Checkup")
	require.NoError(t, err)
	assert.Equal(t, "Room 4", booked.Location)
	assert.Equal(t, "Checkup", booked.Notes)
}

func TestBookSlot_NotFoundLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.generateMorning(t)

	before := f.store.Snapshot()

	f.asMember()
	_, err := f.svc.BookSlot(ctx, uuid.New(), "Anything")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrAppointmentNotFound)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))

	assert.Equal(t, before, f.store.Snapshot())
}

func TestBookSlot_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)

	f.sessions.signOut()
	_, err := f.svc.BookSlot(ctx, slots[0].ID, "")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)

	f.asMember()
	_, err = f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	require.NoError(t, err)

	_, err = f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	assert.ErrorIs(t, err, domain.ErrSlotNotOpen)

	_, err = f.svc.BookSlot(ctx, slotAt(t, slots, 11).ID, "")
	assert.ErrorIs(t, err, domain.ErrDailyLimitReached)
	assert.Equal(t, domain.CodeConflict, domain.CodeOf(err))

	available, err := f.svc.IsAvailableOn(ctx, f.member, day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.False(t, available)

	available, err = f.svc.IsAvailableOn(ctx, f.member, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, available)

	f.sessions.signIn(uuid.New(), domain.RoleMember)
	_, err = f.svc.IsAvailableOn(ctx, f.member, day)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.asProvider()
	available, err = f.svc.IsAvailableOn(ctx, f.member, day)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestBookSlot_MembersOnlyAndFutureSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)

	_, err := f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.asMember()
	midMorning := func() time.Time { return day.Add(9*time.Hour + 30*time.Minute) }
	late := NewService(f.store, f.sessions, f.svc.locker, nil, WithClock(midMorning))

	_, err = late.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	assert.ErrorIs(t, err, domain.ErrSlotNotOpen)

	booked, err := late.BookSlot(ctx, slotAt(t, slots, 10).ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, booked.Status)
}

func TestBookSlot_CancelledDoesNotCountTowardsDailyLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, booked.ID, "conflict at work")
	require.NoError(t, err)

	_, err = f.svc.BookSlot(ctx, slotAt(t, slots, 11).ID, "")
	assert.NoError(t, err)
}

func TestBookSlot_ConcurrentClaimsSucceedOnce(t *testing.T) {
	f := newFixture(t)
	slots := f.generateMorning(t)
	target := slotAt(t, slots, 12).ID

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			member := uuid.New()
			ctx := context.Background()
			sessions := &fakeSessions{current: &domain.Session{UserID: member, Role: domain.RoleMember}}
			svc := NewService(f.store, sessions, f.svc.locker, nil, WithClock(f.svc.now))
			if _, err := svc.BookSlot(ctx, target, ""); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestReschedule_SwapsIntoTargetSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)
	nine := slotAt(t, slots, 9)
	eleven := slotAt(t, slots, 11)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, nine.ID, "Back pain")
	require.NoError(t, err)

	moved, err := f.svc.Reschedule(ctx, booked.ID, eleven.ID)
	require.NoError(t, err)
	assert.Equal(t, eleven.StartTime, moved.StartTime)
	assert.Equal(t, domain.StatusConfirmed, moved.Status)
	assert.Equal(t, "Back pain", moved.Notes)
	assert.Equal(t, f.provider, moved.ProviderID)
	require.NotNil(t, moved.MemberID)
	assert.Equal(t, f.member, *moved.MemberID)

	_, err = f.store.GetAppointment(ctx, booked.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.store.GetAppointment(ctx, eleven.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mine, err := f.svc.MemberAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, moved.ID, mine[0].ID)
	assert.Len(t, f.store.Snapshot().Appointments, 3)
}

func TestReschedule_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)

	other := uuid.New()
	f.sessions.signIn(other, domain.RoleProvider)
	otherSlots, err := f.svc.GenerateSlots(ctx, morning(other))
	require.NoError(t, err)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, booked.ID, otherSlots[0].ID)
	assert.ErrorIs(t, err, domain.ErrProviderMismatch)

	_, err = f.svc.Reschedule(ctx, booked.ID, booked.ID)
	assert.ErrorIs(t, err, domain.ErrSlotNotOpen)

	f.sessions.signIn(uuid.New(), domain.RoleMember)
	_, err = f.svc.Reschedule(ctx, booked.ID, slotAt(t, slots, 10).ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	before := f.store.Snapshot()
	f.asMember()
	_, err = f.svc.Reschedule(ctx, booked.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, before, f.store.Snapshot())
}

func TestCancel_MemberAndProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "Follow-up")
	require.NoError(t, err)

	f.sessions.signIn(uuid.New(), domain.RoleMember)
	_, err = f.svc.Cancel(ctx, booked.ID, "not mine")
	assert.ErrorIs(t, err, domain.ErrNotAppointmentOwner)

	f.asMember()
	cancelled, err := f.svc.Cancel(ctx, booked.ID, "feeling better")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, "feeling better", cancelled.CancelReason)
	assert.Equal(t, "Follow-up", cancelled.Notes)
	assert.True(t, cancelled.IsBooked)

	_, err = f.svc.Cancel(ctx, booked.ID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	booked, err = f.svc.BookSlot(ctx, slotAt(t, slots, 10).ID, "")
	require.NoError(t, err)

	f.asProvider()
	cancelled, err = f.svc.ProviderCancel(ctx, booked.ID, "provider unavailable")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.IsBooked)
	assert.Equal(t, "provider unavailable", cancelled.CancelReason)
}

func TestSlotManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)
	nine := slotAt(t, slots, 9)

	f.asMember()
	_, err := f.svc.BlockSlot(ctx, nine.ID, "x")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.asProvider()
	_, err = f.svc.UnblockSlot(ctx, nine.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.BlockSlot(ctx, nine.ID, "Lunch")
	require.NoError(t, err)
	unblocked, err := f.svc.UnblockSlot(ctx, nine.ID)
	require.NoError(t, err)
	assert.True(t, unblocked.IsOpen())

	require.NoError(t, f.svc.DeleteSlot(ctx, nine.ID))
	_, err = f.store.GetAppointment(ctx, nine.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, slotAt(t, slots, 10).ID, "")
	require.NoError(t, err)

	f.asProvider()
	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, booked.ID), domain.ErrInvalidTransition)

	completed, err := f.svc.Complete(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
}

func TestGet_MemberVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, booked.ID, got.ID)

	f.sessions.signIn(uuid.New(), domain.RoleMember)
	_, err = f.svc.Get(ctx, booked.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Get(ctx, slotAt(t, slots, 10).ID)
	assert.NoError(t, err)
}

func TestGenerateSlots_VideoFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.asProvider()

	req := morning(f.provider)
	req.VideoRatio = 1
	slots, err := f.svc.GenerateSlots(ctx, req)
	require.NoError(t, err)
	for _, s := range slots {
		assert.True(t, s.IsVideo)
	}

	noVideo := false
	req = morning(f.provider)
	req.From = day.AddDate(0, 0, 1)
	req.To = req.From
	req.VideoRatio = 1
	req.IsVideo = &noVideo
	slots, err = f.svc.GenerateSlots(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	for _, s := range slots {
		assert.False(t, s.IsVideo)
	}
}

func TestGenerateSlots_ProviderScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.asMember()
	_, err := f.svc.GenerateSlots(ctx, morning(f.provider))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.sessions.signIn(uuid.New(), domain.RoleProvider)
	_, err = f.svc.GenerateSlots(ctx, morning(f.provider))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.sessions.signIn(uuid.New(), domain.RoleAdmin)
	slots, err := f.svc.GenerateSlots(ctx, morning(f.provider))
	require.NoError(t, err)
	assert.Len(t, slots, 4)
}

func TestNormalizeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	require.NoError(t, err)

	later := day.Add(14 * time.Hour)
	worker := NewService(f.store, f.sessions, lock.NewLocal(), f.events,
		WithClock(func() time.Time { return later }))

	changed, err := worker.NormalizeLifecycle(ctx)
	require.NoError(t, err)
	// the booking and the three untouched open slots all ended before 14:00
	assert.Equal(t, 4, changed)

	got, err := f.store.GetAppointment(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	changed, err = worker.NormalizeLifecycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

// hookedRepo runs a callback once at a chosen point inside a service call.
type hookedRepo struct {
	domain.AppointmentRepository
	fired      atomic.Bool
	beforeSwap func()
	afterList  func(filter domain.AppointmentFilter)
}

func (h *hookedRepo) ListAppointments(ctx context.Context, filter domain.AppointmentFilter) ([]domain.Appointment, error) {
	out, err := h.AppointmentRepository.ListAppointments(ctx, filter)
	if h.afterList != nil && h.fired.CompareAndSwap(false, true) {
		h.afterList(filter)
	}
	return out, err
}

func (h *hookedRepo) SwapAppointments(ctx context.Context, remove []uuid.UUID, replacement domain.Appointment) (*domain.Appointment, error) {
	if h.beforeSwap != nil && h.fired.CompareAndSwap(false, true) {
		h.beforeSwap()
	}
	return h.AppointmentRepository.SwapAppointments(ctx, remove, replacement)
}

func TestReschedule_HoldsTheMovedAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)

	f.asMember()
	booked, err := f.svc.BookSlot(ctx, slotAt(t, slots, 9).ID, "")
	require.NoError(t, err)

	memberSessions := &fakeSessions{current: &domain.Session{UserID: f.member, Role: domain.RoleMember}}
	other := NewService(f.store, memberSessions, f.svc.locker, nil, WithClock(f.svc.now))

	cancelErr := make(chan error, 1)
	repo := &hookedRepo{AppointmentRepository: f.store}
	repo.beforeSwap = func() {
		go func() {
			_, err := other.Cancel(ctx, booked.ID, "ill")
			cancelErr <- err
		}()
		select {
		case err := <-cancelErr:
			t.Errorf("cancel finished while the reschedule held its locks: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}
	svc := NewService(repo, f.sessions, f.svc.locker, nil, WithClock(f.svc.now))

	moved, err := svc.Reschedule(ctx, booked.ID, slotAt(t, slots, 10).ID)
	require.NoError(t, err)

	select {
	case err := <-cancelErr:
		assert.ErrorIs(t, err, domain.ErrAppointmentNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel never ran")
	}

	got, err := f.store.GetAppointment(ctx, moved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Len(t, f.store.Snapshot().Appointments, 3)
}

func TestGenerateSlots_BlockKeepsConcurrentBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slots := f.generateMorning(t)
	ten := slotAt(t, slots, 10)

	memberSessions := &fakeSessions{current: &domain.Session{UserID: f.member, Role: domain.RoleMember}}
	member := NewService(f.store, memberSessions, f.svc.locker, nil, WithClock(f.svc.now))

	repo := &hookedRepo{AppointmentRepository: f.store}
	repo.afterList = func(domain.AppointmentFilter) {
		_, err := member.BookSlot(ctx, ten.ID, "")
		assert.NoError(t, err)
	}
	svc := NewService(repo, f.sessions, f.svc.locker, nil, WithClock(f.svc.now))

	req := morning(f.provider)
	req.Block = true
	req.Reason = "Training"
	_, err := svc.GenerateSlots(ctx, req)
	require.NoError(t, err)

	mine, err := member.MemberAppointments(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ten.ID, mine[0].ID)
	assert.Equal(t, domain.StatusConfirmed, mine[0].Status)

	open, err := member.ListOpenSlots(ctx, &f.provider, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, open)
}
