package mockstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/kv"
)

var testNow = time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newTestStore(t *testing.T, store kv.Store) *Store {
	t.Helper()
	s := New(store, WithClock(fixedClock))
	require.NoError(t, s.Load(context.Background()))
	return s
}

// flakyKV fails every Set once failSet is true.
type flakyKV struct {
	*kv.MemoryStore
	failSet bool
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func openSlot(provider uuid.UUID, start time.Time) domain.Appointment {
	return domain.Appointment{
		ProviderID: provider,
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     domain.StatusPending,
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())

	doc := s.Snapshot()
	assert.Empty(t, doc.Appointments)
	assert.Empty(t, doc.EncounterNotes)
	assert.False(t, doc.Init)
	assert.True(t, s.Loaded())
}

func TestStore_SaveAndReload(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	provider := uuid.New()
	inserted, err := s.InsertAppointments(ctx, []domain.Appointment{
		openSlot(provider, testNow.Add(24*time.Hour)),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	reloaded := newTestStore(t, mem)
	got, err := reloaded.GetAppointment(ctx, inserted[0].ID)
	require.NoError(t, err)
	assert.Equal(t, inserted[0], *got)
}

func TestStore_ResetThenLoad(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	_, err := s.Seed(ctx, SeedData{Appointments: []domain.Appointment{
		openSlot(uuid.New(), testNow.Add(time.Hour)),
	}})
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, PreviousKey, []byte(`{"appointments":[]}`)))
	require.NoError(t, mem.Set(ctx, PINPrefix+"someone", []byte("hash")))
	require.NoError(t, mem.Set(ctx, SessionKey, []byte("{}")))

	require.NoError(t, s.Reset(ctx))

	keys, err := mem.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{SessionKey}, keys)

	reloaded := newTestStore(t, mem)
	doc := reloaded.Snapshot()
	assert.Empty(t, doc.Appointments)
	assert.False(t, doc.Init)
}

func TestStore_MigratesPreviousVersion(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()

	id := uuid.New()
	member := uuid.New()
	start := testNow.Add(48 * time.Hour)
	legacy := map[string]any{
		"appointments": []map[string]any{{
			"id":          id,
			"provider_id": uuid.New(),
			"member_id":   member,
			"start_time":  start,
			"end_time":    start.Add(30 * time.Minute),
			"status":      "cancelled",
			"is_booked":   false,
			"notes":       "Urgent Pain | Location: Room 4 | CANCEL_REASON: feeling better",
			"is_video":    true,
			"created_at":  testNow,
		}},
		"noteStatistics": map[string]any{"total": 3},
		"init":           true,
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, PreviousKey, raw))

	s := newTestStore(t, mem)

	got, err := s.GetAppointment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Urgent Pain", got.Notes)
	assert.Equal(t, "Room 4", got.Location)
	assert.Equal(t, "feeling better", got.CancelReason)
	assert.True(t, got.IsVideo)
	assert.True(t, s.Initialized())
	assert.Empty(t, s.Snapshot().NoteStatistics)

	_, err = mem.Get(ctx, CurrentKey)
	require.NoError(t, err, "migration should persist under the current key")

	// a second load reads the current key and leaves the document as is
	before, err := mem.Get(ctx, CurrentKey)
	require.NoError(t, err)
	newTestStore(t, mem)
	after, err := mem.Get(ctx, CurrentKey)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestUnpackLegacyNotes(t *testing.T) {
	tests := []struct {
		name     string
		packed   string
		notes    string
		location string
		reason   string
		noShow   bool
	}{
		{"plain", "Checkup", "Checkup", "", "", false},
		{"empty", "", "", "", "", false},
		{"location only", "Location: Clinic B", "", "Clinic B", "", false},
		{"no-show", "Follow up [NO-SHOW]", "Follow up [NO-SHOW]", "", "", true},
		{"all parts", "Pain | Location: Room 1 | CANCEL_REASON: travel", "Pain", "Room 1", "travel", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes, location, reason, noShow := unpackLegacyNotes(tt.packed)
			assert.Equal(t, tt.notes, notes)
			assert.Equal(t, tt.location, location)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.noShow, noShow)
		})
	}
}

func TestStore_CorruptDocumentFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	require.NoError(t, mem.Set(ctx, CurrentKey, []byte("{not json")))

	s := newTestStore(t, mem)
	assert.Empty(t, s.Snapshot().Appointments)

	raw, err := mem.Get(ctx, CurrentKey)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw), "corrupt data is kept until the next write")
}

func TestStore_NormalizesOnLoad(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemoryStore()
	s := newTestStore(t, mem)

	member := uuid.New()
	past := openSlot(uuid.New(), testNow.Add(-3*time.Hour))
	past.MemberID = &member
	past.Status = domain.StatusConfirmed
	past.IsBooked = true

	inserted, err := s.InsertAppointments(ctx, []domain.Appointment{past})
	require.NoError(t, err)

	reloaded := newTestStore(t, mem)
	got, err := reloaded.GetAppointment(ctx, inserted[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	raw, err := mem.Get(ctx, CurrentKey)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Appointments, 1)
	assert.Equal(t, domain.StatusCompleted, doc.Appointments[0].Status)
}

func TestStore_FailedWriteLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyKV{MemoryStore: kv.NewMemoryStore()}
	s := newTestStore(t, flaky)

	flaky.failSet = true
	_, err := s.InsertAppointments(ctx, []domain.Appointment{openSlot(uuid.New(), testNow.Add(time.Hour))})
	require.Error(t, err)

	list, err := s.ListAppointments(ctx, domain.AppointmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, kv.NewMemoryStore())

	member := uuid.New()
	a := openSlot(uuid.New(), testNow.Add(time.Hour))
	a.MemberID = &member
	inserted, err := s.InsertAppointments(ctx, []domain.Appointment{a})
	require.NoError(t, err)

	got, err := s.GetAppointment(ctx, inserted[0].ID)
	require.NoError(t, err)
	*got.MemberID = uuid.New()
	got.Notes = "changed"

	again, err := s.GetAppointment(ctx, inserted[0].ID)
	require.NoError(t, err)
	assert.Equal(t, member, *again.MemberID)
	assert.Empty(t, again.Notes)
}

func TestStore_SwapAppointments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, kv.NewMemoryStore())

	provider := uuid.New()
	inserted, err := s.InsertAppointments(ctx, []domain.Appointment{
		openSlot(provider, testNow.Add(time.Hour)),
		openSlot(provider, testNow.Add(2*time.Hour)),
	})
	require.NoError(t, err)

	replacement := openSlot(provider, testNow.Add(2*time.Hour))
	replacement.Status = domain.StatusConfirmed
	created, err := s.SwapAppointments(ctx, []uuid.UUID{inserted[0].ID, inserted[1].ID}, replacement)
	require.NoError(t, err)

	list, err := s.ListAppointments(ctx, domain.AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	_, err = s.SwapAppointments(ctx, []uuid.UUID{uuid.New()}, replacement)
	assert.ErrorIs(t, err, domain.ErrAppointmentNotFound)
	list, err = s.ListAppointments(ctx, domain.AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_DeleteOpenSlots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, kv.NewMemoryStore())

	provider := uuid.New()
	member := uuid.New()
	claimed := openSlot(provider, testNow.Add(time.Hour))
	claimed.MemberID = &member
	claimed.IsBooked = true
	claimed.Status = domain.StatusConfirmed
	blocked := openSlot(provider, testNow.Add(2*time.Hour))
	blocked.Status = domain.StatusBlocked
	blocked.IsBooked = true

	inserted, err := s.InsertAppointments(ctx, []domain.Appointment{
		openSlot(provider, testNow),
		claimed,
		blocked,
	})
	require.NoError(t, err)

	removed, err := s.DeleteOpenSlots(ctx, inserted[0].ID, inserted[1].ID, inserted[2].ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	list, err := s.ListAppointments(ctx, domain.AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, inserted[1].ID, list[0].ID)
	assert.Equal(t, inserted[2].ID, list[1].ID)

	removed, err = s.DeleteOpenSlots(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStore_UpsertStatistics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, kv.NewMemoryStore())

	provider := uuid.New()
	period := domain.StatisticsPeriod(testNow)

	_, err := s.GetStatistics(ctx, period, provider)
	assert.ErrorIs(t, err, domain.ErrStatisticsNotFound)

	_, err = s.UpsertStatistics(ctx, domain.NoteStatistics{Period: period, ProviderID: provider, TotalNotes: 1})
	require.NoError(t, err)
	_, err = s.UpsertStatistics(ctx, domain.NoteStatistics{Period: period, ProviderID: provider, TotalNotes: 2})
	require.NoError(t, err)

	got, err := s.GetStatistics(ctx, period, provider)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalNotes)
	assert.Len(t, s.Snapshot().NoteStatistics, 1)
}

func TestStore_SeedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, kv.NewMemoryStore())

	data := SeedData{Appointments: []domain.Appointment{openSlot(uuid.New(), testNow.Add(time.Hour))}}

	seeded, err := s.Seed(ctx, data)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = s.Seed(ctx, data)
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Len(t, s.Snapshot().Appointments, 1)
}
