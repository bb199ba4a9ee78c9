package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentFilter narrows ListAppointments. Zero values mean "any".
type AppointmentFilter struct {
	ProviderID *uuid.UUID
	MemberID   *uuid.UUID
	// StartFrom and StartBefore bound start_time as [StartFrom, StartBefore).
	StartFrom   time.Time
	StartBefore time.Time
	Statuses    []AppointmentStatus
	OpenOnly    bool
}

// Match applies the filter in memory. Remote backends translate the same
// fields into their own query language.
func (f AppointmentFilter) Match(a Appointment) bool {
	if f.ProviderID != nil && a.ProviderID != *f.ProviderID {
		return false
	}
	if f.MemberID != nil && !a.BelongsTo(*f.MemberID) {
		return false
	}
	if !f.StartFrom.IsZero() && a.StartTime.Before(f.StartFrom) {
		return false
	}
	if !f.StartBefore.IsZero() && !a.StartTime.Before(f.StartBefore) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.OpenOnly && !a.IsOpen() {
		return false
	}
	return true
}

// AppointmentRepository is the capability set every backend provides for
// appointments.
type AppointmentRepository interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	InsertAppointments(ctx context.Context, appts []Appointment) ([]Appointment, error)
	UpdateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	DeleteAppointments(ctx context.Context, ids ...uuid.UUID) error
	// DeleteOpenSlots removes the ids that are still open slots at the time
	// of the write and reports how many went. Claimed entries are kept.
	DeleteOpenSlots(ctx context.Context, ids ...uuid.UUID) (int, error)

	// SwapAppointments removes every id in remove and inserts replacement as
	// one unit of work.
	SwapAppointments(ctx context.Context, remove []uuid.UUID, replacement Appointment) (*Appointment, error)
}

type NoteFilter struct {
	ProviderID      *uuid.UUID
	MemberID        *uuid.UUID
	IncludeArchived bool
}

func (f NoteFilter) Match(n EncounterNote) bool {
	if f.ProviderID != nil && n.ProviderID != *f.ProviderID {
		return false
	}
	if f.MemberID != nil && n.MemberID != *f.MemberID {
		return false
	}
	if !f.IncludeArchived && n.IsArchived {
		return false
	}
	return true
}

type NoteRepository interface {
	GetNote(ctx context.Context, id uuid.UUID) (*EncounterNote, error)
	ListNotes(ctx context.Context, filter NoteFilter) ([]EncounterNote, error)
	InsertNote(ctx context.Context, note EncounterNote) (*EncounterNote, error)
	UpdateNote(ctx context.Context, note EncounterNote) (*EncounterNote, error)

	GetStatistics(ctx context.Context, period string, providerID uuid.UUID) (*NoteStatistics, error)
	UpsertStatistics(ctx context.Context, stats NoteStatistics) (*NoteStatistics, error)
}

type HelpRequestFilter struct {
	MemberID *uuid.UUID
	Status   HelpStatus
}

func (f HelpRequestFilter) Match(h HelpRequest) bool {
	if f.MemberID != nil && h.MemberID != *f.MemberID {
		return false
	}
	if f.Status != "" && h.Status != f.Status {
		return false
	}
	return true
}

type HelpRequestRepository interface {
	GetHelpRequest(ctx context.Context, id uuid.UUID) (*HelpRequest, error)
	ListHelpRequests(ctx context.Context, filter HelpRequestFilter) ([]HelpRequest, error)
	InsertHelpRequest(ctx context.Context, req HelpRequest) (*HelpRequest, error)
	UpdateHelpRequest(ctx context.Context, req HelpRequest) (*HelpRequest, error)
}

type WaitlistFilter struct {
	MemberID   *uuid.UUID
	ProviderID *uuid.UUID
	Status     WaitlistStatus
}

func (f WaitlistFilter) Match(w WaitlistEntry) bool {
	if f.MemberID != nil && w.MemberID != *f.MemberID {
		return false
	}
	if f.ProviderID != nil && w.ProviderID != *f.ProviderID {
		return false
	}
	if f.Status != "" && w.Status != f.Status {
		return false
	}
	return true
}

type WaitlistRepository interface {
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	ListWaitlist(ctx context.Context, filter WaitlistFilter) ([]WaitlistEntry, error)
	InsertWaitlistEntry(ctx context.Context, entry WaitlistEntry) (*WaitlistEntry, error)
	UpdateWaitlistEntry(ctx context.Context, entry WaitlistEntry) (*WaitlistEntry, error)
}

// Backend bundles every repository. It is selected once at startup (local
// document store or Supabase) and injected into the services.
type Backend interface {
	AppointmentRepository
	NoteRepository
	HelpRequestRepository
	WaitlistRepository

	Ping(ctx context.Context) error
}

// SessionResolver yields the session a request acts on behalf of.
type SessionResolver interface {
	Resolve(ctx context.Context) (Session, error)
}

// Event is a domain event emitted by the services after a successful
// mutation.
type Event struct {
	Type      string         `json:"type"`
	EntityID  uuid.UUID      `json:"entity_id"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}
