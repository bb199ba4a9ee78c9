package mockstore

import (
	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
)

// Document is the single persisted value holding every collection.
type Document struct {
	Appointments   []domain.Appointment    `json:"appointments"`
	EncounterNotes []domain.EncounterNote  `json:"encounterNotes"`
	HelpRequests   []domain.HelpRequest    `json:"helpRequests"`
	Waitlist       []domain.WaitlistEntry  `json:"waitlist"`
	NoteStatistics []domain.NoteStatistics `json:"noteStatistics"`
	Init           bool                    `json:"init"`
}

func emptyDocument() Document {
	return Document{
		Appointments:   []domain.Appointment{},
		EncounterNotes: []domain.EncounterNote{},
		HelpRequests:   []domain.HelpRequest{},
		Waitlist:       []domain.WaitlistEntry{},
		NoteStatistics: []domain.NoteStatistics{},
	}
}

// fillNil replaces nil collections so the persisted form always carries
// arrays rather than nulls.
func (d *Document) fillNil() {
	if d.Appointments == nil {
		d.Appointments = []domain.Appointment{}
	}
	if d.EncounterNotes == nil {
		d.EncounterNotes = []domain.EncounterNote{}
	}
	if d.HelpRequests == nil {
		d.HelpRequests = []domain.HelpRequest{}
	}
	if d.Waitlist == nil {
		d.Waitlist = []domain.WaitlistEntry{}
	}
	if d.NoteStatistics == nil {
		d.NoteStatistics = []domain.NoteStatistics{}
	}
}

func (d Document) clone() Document {
	out := Document{
		Appointments:   make([]domain.Appointment, len(d.Appointments)),
		EncounterNotes: make([]domain.EncounterNote, len(d.EncounterNotes)),
		HelpRequests:   make([]domain.HelpRequest, len(d.HelpRequests)),
		Waitlist:       make([]domain.WaitlistEntry, len(d.Waitlist)),
		NoteStatistics: make([]domain.NoteStatistics, len(d.NoteStatistics)),
		Init:           d.Init,
	}
	for i, a := range d.Appointments {
		out.Appointments[i] = cloneAppointment(a)
	}
	for i, n := range d.EncounterNotes {
		out.EncounterNotes[i] = cloneNote(n)
	}
	for i, h := range d.HelpRequests {
		out.HelpRequests[i] = cloneHelpRequest(h)
	}
	copy(out.Waitlist, d.Waitlist)
	for i, s := range d.NoteStatistics {
		out.NoteStatistics[i] = cloneStatistics(s)
	}
	return out
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneAppointment(a domain.Appointment) domain.Appointment {
	a.MemberID = cloneUUID(a.MemberID)
	return a
}

func cloneNote(n domain.EncounterNote) domain.EncounterNote {
	n.FollowUpAppointmentID = cloneUUID(n.FollowUpAppointmentID)
	if n.ArchivedAt != nil {
		t := *n.ArchivedAt
		n.ArchivedAt = &t
	}
	return n
}

func cloneHelpRequest(h domain.HelpRequest) domain.HelpRequest {
	h.RespondedBy = cloneUUID(h.RespondedBy)
	if h.ResolvedAt != nil {
		t := *h.ResolvedAt
		h.ResolvedAt = &t
	}
	return h
}

func cloneStatistics(s domain.NoteStatistics) domain.NoteStatistics {
	counts := make(map[domain.NoteCategory]int, len(s.CategoryCounts))
	for k, v := range s.CategoryCounts {
		counts[k] = v
	}
	s.CategoryCounts = counts
	s.PatientIDs = append([]uuid.UUID(nil), s.PatientIDs...)
	return s
}
