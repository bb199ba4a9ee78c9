package supabase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"

	"github.com/hackgods/project-vector/internal/domain"
)

var _ domain.Backend = (*Backend)(nil)

// Backend stores every record as a row in the matching Supabase table.
// Filters are pushed down to PostgREST and re-checked locally, so results
// always agree with the local store.
type Backend struct {
	db     Querier
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Backend)

func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

func New(db Querier, opts ...Option) *Backend {
	b := &Backend{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) timestamp() time.Time {
	return b.now().UTC()
}

func (b *Backend) Ping(_ context.Context) error {
	_, _, err := b.db.From(tableAppointments).
		Select("id", "", false).
		Limit(1, "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase ping: %w", err)
	}
	return nil
}

// Appointments

func (b *Backend) GetAppointment(_ context.Context, id uuid.UUID) (*domain.Appointment, error) {
	return getByID[domain.Appointment](b.db, tableAppointments, id, domain.ErrAppointmentNotFound)
}

func (b *Backend) ListAppointments(_ context.Context, filter domain.AppointmentFilter) ([]domain.Appointment, error) {
	q := b.db.From(tableAppointments).Select("*", "", false)
	if filter.ProviderID != nil {
		q = q.Eq("provider_id", filter.ProviderID.String())
	}
	if filter.MemberID != nil {
		q = q.Eq("member_id", filter.MemberID.String())
	}
	if !filter.StartFrom.IsZero() {
		q = q.Gte("start_time", timeParam(filter.StartFrom))
	}
	if !filter.StartBefore.IsZero() {
		q = q.Lt("start_time", timeParam(filter.StartBefore))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q = q.In("status", statuses)
	}
	if filter.OpenOnly {
		q = q.Is("member_id", "null").Eq("is_booked", "false")
	}
	q = q.Order("start_time", &postgrest.OrderOpts{Ascending: true})

	rows, err := execRows[domain.Appointment](q)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	out := make([]domain.Appointment, 0, len(rows))
	for _, a := range rows {
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (b *Backend) InsertAppointments(_ context.Context, appts []domain.Appointment) ([]domain.Appointment, error) {
	if len(appts) == 0 {
		return []domain.Appointment{}, nil
	}
	now := b.timestamp()
	rows := make([]domain.Appointment, len(appts))
	for i, a := range appts {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.UpdatedAt = now
		rows[i] = a
	}
	return insertRows[domain.Appointment](b.db, tableAppointments, rows)
}

func (b *Backend) UpdateAppointment(_ context.Context, appt domain.Appointment) (*domain.Appointment, error) {
	appt.UpdatedAt = b.timestamp()
	return updateByID[domain.Appointment](b.db, tableAppointments, appt.ID, appt, domain.ErrAppointmentNotFound)
}

func (b *Backend) DeleteAppointments(_ context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, _, err := b.db.From(tableAppointments).
		Delete("", "").
		In("id", idParams(ids)).
		Execute()
	if err != nil {
		return fmt.Errorf("delete appointments: %w", err)
	}
	return nil
}

// DeleteOpenSlots puts the open-slot condition into the delete filter, so a
// row claimed since the caller read it is left alone.
func (b *Backend) DeleteOpenSlots(_ context.Context, ids ...uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	rows, err := execRows[domain.Appointment](b.db.From(tableAppointments).
		Delete(returnRows, "").
		In("id", idParams(ids)).
		Is("member_id", "null").
		Eq("is_booked", "false").
		Eq("status", string(domain.StatusPending)))
	if err != nil {
		return 0, fmt.Errorf("delete open slots: %w", err)
	}
	return len(rows), nil
}

// SwapAppointments inserts the replacement first and then removes the old
// rows. PostgREST has no multi-statement transaction, so a failed delete
// is compensated by deleting the replacement again.
func (b *Backend) SwapAppointments(ctx context.Context, remove []uuid.UUID, replacement domain.Appointment) (*domain.Appointment, error) {
	existing, err := execRows[domain.Appointment](b.db.From(tableAppointments).
		Select("id", "", false).
		In("id", idParams(remove)))
	if err != nil {
		return nil, fmt.Errorf("swap appointments: %w", err)
	}
	if len(existing) == 0 {
		return nil, domain.ErrAppointmentNotFound
	}

	inserted, err := b.InsertAppointments(ctx, []domain.Appointment{replacement})
	if err != nil {
		return nil, err
	}
	if len(inserted) == 0 {
		return nil, errors.New("swap appointments: insert returned no rows")
	}
	created := inserted[0]

	if err := b.DeleteAppointments(ctx, remove...); err != nil {
		if rbErr := b.DeleteAppointments(ctx, created.ID); rbErr != nil {
			b.logger.Error("failed to roll back swap", "appointment_id", created.ID, "error", rbErr)
		}
		return nil, err
	}
	return &created, nil
}

// Encounter notes

func (b *Backend) GetNote(_ context.Context, id uuid.UUID) (*domain.EncounterNote, error) {
	return getByID[domain.EncounterNote](b.db, tableNotes, id, domain.ErrNoteNotFound)
}

func (b *Backend) ListNotes(_ context.Context, filter domain.NoteFilter) ([]domain.EncounterNote, error) {
	q := b.db.From(tableNotes).Select("*", "", false)
	if filter.ProviderID != nil {
		q = q.Eq("provider_id", filter.ProviderID.String())
	}
	if filter.MemberID != nil {
		q = q.Eq("member_id", filter.MemberID.String())
	}
	if !filter.IncludeArchived {
		q = q.Eq("is_archived", "false")
	}
	q = q.Order("created_at", &postgrest.OrderOpts{Ascending: false})

	rows, err := execRows[domain.EncounterNote](q)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	out := make([]domain.EncounterNote, 0, len(rows))
	for _, n := range rows {
		if filter.Match(n) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (b *Backend) InsertNote(_ context.Context, note domain.EncounterNote) (*domain.EncounterNote, error) {
	now := b.timestamp()
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now
	return insertOne[domain.EncounterNote](b.db, tableNotes, note)
}

func (b *Backend) UpdateNote(_ context.Context, note domain.EncounterNote) (*domain.EncounterNote, error) {
	note.UpdatedAt = b.timestamp()
	return updateByID[domain.EncounterNote](b.db, tableNotes, note.ID, note, domain.ErrNoteNotFound)
}

func (b *Backend) GetStatistics(_ context.Context, period string, providerID uuid.UUID) (*domain.NoteStatistics, error) {
	return getByID[domain.NoteStatistics](b.db, tableStatistics, domain.StatisticsID(period, providerID), domain.ErrStatisticsNotFound)
}

func (b *Backend) UpsertStatistics(_ context.Context, stats domain.NoteStatistics) (*domain.NoteStatistics, error) {
	stats.ID = domain.StatisticsID(stats.Period, stats.ProviderID)
	stats.UpdatedAt = b.timestamp()

	rows, err := execRows[domain.NoteStatistics](b.db.From(tableStatistics).
		Insert(stats, true, "id", returnRows, ""))
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", tableStatistics, err)
	}
	if len(rows) == 0 {
		return &stats, nil
	}
	return &rows[0], nil
}

// Help requests

func (b *Backend) GetHelpRequest(_ context.Context, id uuid.UUID) (*domain.HelpRequest, error) {
	return getByID[domain.HelpRequest](b.db, tableHelpRequests, id, domain.ErrHelpRequestNotFound)
}

func (b *Backend) ListHelpRequests(_ context.Context, filter domain.HelpRequestFilter) ([]domain.HelpRequest, error) {
	q := b.db.From(tableHelpRequests).Select("*", "", false)
	if filter.MemberID != nil {
		q = q.Eq("member_id", filter.MemberID.String())
	}
	if filter.Status != "" {
		q = q.Eq("status", string(filter.Status))
	}
	q = q.Order("created_at", &postgrest.OrderOpts{Ascending: false})

	rows, err := execRows[domain.HelpRequest](q)
	if err != nil {
		return nil, fmt.Errorf("list help requests: %w", err)
	}
	out := make([]domain.HelpRequest, 0, len(rows))
	for _, h := range rows {
		if filter.Match(h) {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (b *Backend) InsertHelpRequest(_ context.Context, req domain.HelpRequest) (*domain.HelpRequest, error) {
	now := b.timestamp()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	return insertOne[domain.HelpRequest](b.db, tableHelpRequests, req)
}

func (b *Backend) UpdateHelpRequest(_ context.Context, req domain.HelpRequest) (*domain.HelpRequest, error) {
	req.UpdatedAt = b.timestamp()
	return updateByID[domain.HelpRequest](b.db, tableHelpRequests, req.ID, req, domain.ErrHelpRequestNotFound)
}

// Waitlist

func (b *Backend) GetWaitlistEntry(_ context.Context, id uuid.UUID) (*domain.WaitlistEntry, error) {
	return getByID[domain.WaitlistEntry](b.db, tableWaitlist, id, domain.ErrWaitlistNotFound)
}

func (b *Backend) ListWaitlist(_ context.Context, filter domain.WaitlistFilter) ([]domain.WaitlistEntry, error) {
	q := b.db.From(tableWaitlist).Select("*", "", false)
	if filter.MemberID != nil {
		q = q.Eq("member_id", filter.MemberID.String())
	}
	if filter.ProviderID != nil {
		q = q.Eq("provider_id", filter.ProviderID.String())
	}
	if filter.Status != "" {
		q = q.Eq("status", string(filter.Status))
	}
	q = q.Order("created_at", &postgrest.OrderOpts{Ascending: true})

	rows, err := execRows[domain.WaitlistEntry](q)
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	out := make([]domain.WaitlistEntry, 0, len(rows))
	for _, w := range rows {
		if filter.Match(w) {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (b *Backend) InsertWaitlistEntry(_ context.Context, entry domain.WaitlistEntry) (*domain.WaitlistEntry, error) {
	now := b.timestamp()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	return insertOne[domain.WaitlistEntry](b.db, tableWaitlist, entry)
}

func (b *Backend) UpdateWaitlistEntry(_ context.Context, entry domain.WaitlistEntry) (*domain.WaitlistEntry, error) {
	entry.UpdatedAt = b.timestamp()
	return updateByID[domain.WaitlistEntry](b.db, tableWaitlist, entry.ID, entry, domain.ErrWaitlistNotFound)
}

func insertOne[T any](db Querier, table string, row T) (*T, error) {
	rows, err := insertRows[T](db, table, []T{row})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &row, nil
	}
	return &rows[0], nil
}
