package mockstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
)

var _ domain.Backend = (*Store)(nil)

// Appointments

func (s *Store) GetAppointment(_ context.Context, id uuid.UUID) (*domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.doc.Appointments {
		if a.ID == id {
			out := cloneAppointment(a)
			return &out, nil
		}
	}
	return nil, domain.ErrAppointmentNotFound
}

func (s *Store) ListAppointments(_ context.Context, filter domain.AppointmentFilter) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Appointment{}
	for _, a := range s.doc.Appointments {
		if filter.Match(a) {
			out = append(out, cloneAppointment(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (s *Store) InsertAppointments(ctx context.Context, appts []domain.Appointment) ([]domain.Appointment, error) {
	now := s.timestamp()
	created := make([]domain.Appointment, 0, len(appts))

	err := s.mutate(ctx, func(doc *Document) error {
		for _, a := range appts {
			if a.ID == uuid.Nil {
				a.ID = uuid.New()
			}
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
			a.UpdatedAt = now
			a = cloneAppointment(a)
			doc.Appointments = append(doc.Appointments, a)
			created = append(created, cloneAppointment(a))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, appt domain.Appointment) (*domain.Appointment, error) {
	var updated domain.Appointment

	err := s.mutate(ctx, func(doc *Document) error {
		for i := range doc.Appointments {
			if doc.Appointments[i].ID == appt.ID {
				appt.CreatedAt = doc.Appointments[i].CreatedAt
				appt.UpdatedAt = s.timestamp()
				doc.Appointments[i] = cloneAppointment(appt)
				updated = cloneAppointment(appt)
				return nil
			}
		}
		return domain.ErrAppointmentNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteAppointments(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.mutate(ctx, func(doc *Document) error {
		doc.Appointments = removeAppointments(doc.Appointments, ids)
		return nil
	})
}

func (s *Store) DeleteOpenSlots(ctx context.Context, ids ...uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	removed := 0
	err := s.mutate(ctx, func(doc *Document) error {
		kept := doc.Appointments[:0]
		for _, a := range doc.Appointments {
			if _, ok := drop[a.ID]; ok && a.IsOpen() {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		doc.Appointments = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// SwapAppointments happens in a single document write, so either both the
// removal and the insert are persisted or neither is.
func (s *Store) SwapAppointments(ctx context.Context, remove []uuid.UUID, replacement domain.Appointment) (*domain.Appointment, error) {
	var created domain.Appointment

	err := s.mutate(ctx, func(doc *Document) error {
		before := len(doc.Appointments)
		doc.Appointments = removeAppointments(doc.Appointments, remove)
		if len(doc.Appointments) == before && len(remove) > 0 {
			return domain.ErrAppointmentNotFound
		}

		now := s.timestamp()
		if replacement.ID == uuid.Nil {
			replacement.ID = uuid.New()
		}
		replacement.CreatedAt = now
		replacement.UpdatedAt = now
		doc.Appointments = append(doc.Appointments, cloneAppointment(replacement))
		created = cloneAppointment(replacement)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func removeAppointments(appts []domain.Appointment, ids []uuid.UUID) []domain.Appointment {
	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := appts[:0]
	for _, a := range appts {
		if _, ok := drop[a.ID]; !ok {
			kept = append(kept, a)
		}
	}
	return kept
}

// Encounter notes and statistics

func (s *Store) GetNote(_ context.Context, id uuid.UUID) (*domain.EncounterNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.doc.EncounterNotes {
		if n.ID == id {
			out := cloneNote(n)
			return &out, nil
		}
	}
	return nil, domain.ErrNoteNotFound
}

func (s *Store) ListNotes(_ context.Context, filter domain.NoteFilter) ([]domain.EncounterNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.EncounterNote{}
	for _, n := range s.doc.EncounterNotes {
		if filter.Match(n) {
			out = append(out, cloneNote(n))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) InsertNote(ctx context.Context, note domain.EncounterNote) (*domain.EncounterNote, error) {
	now := s.timestamp()
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	err := s.mutate(ctx, func(doc *Document) error {
		doc.EncounterNotes = append(doc.EncounterNotes, cloneNote(note))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := cloneNote(note)
	return &out, nil
}

func (s *Store) UpdateNote(ctx context.Context, note domain.EncounterNote) (*domain.EncounterNote, error) {
	var updated domain.EncounterNote

	err := s.mutate(ctx, func(doc *Document) error {
		for i := range doc.EncounterNotes {
			if doc.EncounterNotes[i].ID == note.ID {
				note.CreatedAt = doc.EncounterNotes[i].CreatedAt
				note.UpdatedAt = s.timestamp()
				doc.EncounterNotes[i] = cloneNote(note)
				updated = cloneNote(note)
				return nil
			}
		}
		return domain.ErrNoteNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetStatistics(_ context.Context, period string, providerID uuid.UUID) (*domain.NoteStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.doc.NoteStatistics {
		if st.Period == period && st.ProviderID == providerID {
			out := cloneStatistics(st)
			return &out, nil
		}
	}
	return nil, domain.ErrStatisticsNotFound
}

func (s *Store) UpsertStatistics(ctx context.Context, stats domain.NoteStatistics) (*domain.NoteStatistics, error) {
	stats.ID = domain.StatisticsID(stats.Period, stats.ProviderID)
	stats.UpdatedAt = s.timestamp()

	err := s.mutate(ctx, func(doc *Document) error {
		for i := range doc.NoteStatistics {
			if doc.NoteStatistics[i].ID == stats.ID {
				doc.NoteStatistics[i] = cloneStatistics(stats)
				return nil
			}
		}
		doc.NoteStatistics = append(doc.NoteStatistics, cloneStatistics(stats))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := cloneStatistics(stats)
	return &out, nil
}

// Help requests

func (s *Store) GetHelpRequest(_ context.Context, id uuid.UUID) (*domain.HelpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, h := range s.doc.HelpRequests {
		if h.ID == id {
			out := cloneHelpRequest(h)
			return &out, nil
		}
	}
	return nil, domain.ErrHelpRequestNotFound
}

func (s *Store) ListHelpRequests(_ context.Context, filter domain.HelpRequestFilter) ([]domain.HelpRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.HelpRequest{}
	for _, h := range s.doc.HelpRequests {
		if filter.Match(h) {
			out = append(out, cloneHelpRequest(h))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) InsertHelpRequest(ctx context.Context, req domain.HelpRequest) (*domain.HelpRequest, error) {
	now := s.timestamp()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.CreatedAt = now
	req.UpdatedAt = now

	err := s.mutate(ctx, func(doc *Document) error {
		doc.HelpRequests = append(doc.HelpRequests, cloneHelpRequest(req))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := cloneHelpRequest(req)
	return &out, nil
}

func (s *Store) UpdateHelpRequest(ctx context.Context, req domain.HelpRequest) (*domain.HelpRequest, error) {
	var updated domain.HelpRequest

	err := s.mutate(ctx, func(doc *Document) error {
		for i := range doc.HelpRequests {
			if doc.HelpRequests[i].ID == req.ID {
				req.CreatedAt = doc.HelpRequests[i].CreatedAt
				req.UpdatedAt = s.timestamp()
				doc.HelpRequests[i] = cloneHelpRequest(req)
				updated = cloneHelpRequest(req)
				return nil
			}
		}
		return domain.ErrHelpRequestNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Waitlist

func (s *Store) GetWaitlistEntry(_ context.Context, id uuid.UUID) (*domain.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.doc.Waitlist {
		if w.ID == id {
			out := w
			return &out, nil
		}
	}
	return nil, domain.ErrWaitlistNotFound
}

func (s *Store) ListWaitlist(_ context.Context, filter domain.WaitlistFilter) ([]domain.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.WaitlistEntry{}
	for _, w := range s.doc.Waitlist {
		if filter.Match(w) {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) InsertWaitlistEntry(ctx context.Context, entry domain.WaitlistEntry) (*domain.WaitlistEntry, error) {
	now := s.timestamp()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	err := s.mutate(ctx, func(doc *Document) error {
		doc.Waitlist = append(doc.Waitlist, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) UpdateWaitlistEntry(ctx context.Context, entry domain.WaitlistEntry) (*domain.WaitlistEntry, error) {
	var updated domain.WaitlistEntry

	err := s.mutate(ctx, func(doc *Document) error {
		for i := range doc.Waitlist {
			if doc.Waitlist[i].ID == entry.ID {
				entry.CreatedAt = doc.Waitlist[i].CreatedAt
				entry.UpdatedAt = s.timestamp()
				doc.Waitlist[i] = entry
				updated = entry
				return nil
			}
		}
		return domain.ErrWaitlistNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
