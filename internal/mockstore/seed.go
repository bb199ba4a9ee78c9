package mockstore

import (
	"context"

	"github.com/hackgods/project-vector/internal/domain"
)

// SeedData is the initial content written to an uninitialized store.
type SeedData struct {
	Appointments   []domain.Appointment
	EncounterNotes []domain.EncounterNote
	HelpRequests   []domain.HelpRequest
	Waitlist       []domain.WaitlistEntry
	NoteStatistics []domain.NoteStatistics
}

// Seed appends data and sets the init flag. A store that is already
// initialized is left alone and Seed reports false.
func (s *Store) Seed(ctx context.Context, data SeedData) (bool, error) {
	seeded := false
	err := s.mutate(ctx, func(doc *Document) error {
		if doc.Init {
			return nil
		}
		now := s.timestamp()
		for _, a := range data.Appointments {
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
			if a.UpdatedAt.IsZero() {
				a.UpdatedAt = a.CreatedAt
			}
			doc.Appointments = append(doc.Appointments, cloneAppointment(a))
		}
		for _, n := range data.EncounterNotes {
			doc.EncounterNotes = append(doc.EncounterNotes, cloneNote(n))
		}
		for _, h := range data.HelpRequests {
			doc.HelpRequests = append(doc.HelpRequests, cloneHelpRequest(h))
		}
		doc.Waitlist = append(doc.Waitlist, data.Waitlist...)
		for _, st := range data.NoteStatistics {
			st.ID = domain.StatisticsID(st.Period, st.ProviderID)
			doc.NoteStatistics = append(doc.NoteStatistics, cloneStatistics(st))
		}
		doc.Init = true
		seeded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if seeded {
		s.logger.Info("store seeded",
			"appointments", len(data.Appointments),
			"notes", len(data.EncounterNotes),
			"help_requests", len(data.HelpRequests),
			"waitlist", len(data.Waitlist))
	}
	return seeded, nil
}
