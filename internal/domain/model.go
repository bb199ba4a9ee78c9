package domain

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusBlocked   AppointmentStatus = "blocked"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// NoShowMarker is appended to the notes of a claimed appointment that was
// never advanced past pending.
const NoShowMarker = "[NO-SHOW]"

// Appointment is both provider capacity (MemberID == nil) and a booking.
type Appointment struct {
	ID           uuid.UUID         `json:"id"`
	ProviderID   uuid.UUID         `json:"provider_id"`
	MemberID     *uuid.UUID        `json:"member_id"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Status       AppointmentStatus `json:"status"`
	IsBooked     bool              `json:"is_booked"`
	Notes        string            `json:"notes,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	Location     string            `json:"location,omitempty"`
	NoShow       bool              `json:"no_show,omitempty"`
	IsVideo      bool              `json:"is_video"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// IsOpen reports whether the appointment is unclaimed capacity.
func (a Appointment) IsOpen() bool {
	return a.MemberID == nil && a.Status == StatusPending && !a.IsBooked
}

// Overlaps reports whether the appointment intersects [start, end).
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && a.EndTime.After(start)
}

func (a Appointment) BelongsTo(memberID uuid.UUID) bool {
	return a.MemberID != nil && *a.MemberID == memberID
}

type NoteCategory string

const (
	CategoryGeneral    NoteCategory = "general"
	CategoryMedication NoteCategory = "medication"
	CategoryLabResult  NoteCategory = "lab_result"
	CategoryReferral   NoteCategory = "referral"
	CategoryFollowUp   NoteCategory = "follow_up"
)

func (c NoteCategory) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryMedication, CategoryLabResult, CategoryReferral, CategoryFollowUp:
		return true
	}
	return false
}

type NoteStatus string

const (
	NoteActive         NoteStatus = "active"
	NoteRequiresAction NoteStatus = "requires_action"
	NoteResolved       NoteStatus = "resolved"
)

func (s NoteStatus) Valid() bool {
	switch s {
	case NoteActive, NoteRequiresAction, NoteResolved:
		return true
	}
	return false
}

type EncounterNote struct {
	ID                    uuid.UUID    `json:"id"`
	ProviderID            uuid.UUID    `json:"provider_id"`
	MemberID              uuid.UUID    `json:"member_id"`
	Category              NoteCategory `json:"category"`
	Content               string       `json:"content"`
	Status                NoteStatus   `json:"status"`
	IsArchived            bool         `json:"is_archived"`
	ArchivedAt            *time.Time   `json:"archived_at,omitempty"`
	FollowUpAppointmentID *uuid.UUID   `json:"follow_up_appointment_id,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// NoteStatistics is a monthly aggregate per provider. It is maintained
// incrementally when notes are added and is never rebuilt from the notes.
type NoteStatistics struct {
	ID                  uuid.UUID            `json:"id"`
	Period              string               `json:"period"`
	ProviderID          uuid.UUID            `json:"provider_id"`
	CategoryCounts      map[NoteCategory]int `json:"category_counts"`
	TotalNotes          int                  `json:"total_notes"`
	UniquePatients      int                  `json:"unique_patients"`
	PatientIDs          []uuid.UUID          `json:"patient_ids"`
	RequiresActionCount int                  `json:"requires_action_count"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// StatisticsPeriod formats the aggregation period for t.
func StatisticsPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

var statisticsNamespace = uuid.MustParse("6f1c1a52-8d7e-4c55-9a8b-2f0d4a3e9b10")

// StatisticsID is stable for a (period, provider) pair so that upserts
// against any backend address the same row.
func StatisticsID(period string, providerID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(statisticsNamespace, []byte(period+"/"+providerID.String()))
}

type HelpStatus string

const (
	HelpPending    HelpStatus = "pending"
	HelpInProgress HelpStatus = "in_progress"
	HelpResolved   HelpStatus = "resolved"
)

func (s HelpStatus) Valid() bool {
	switch s {
	case HelpPending, HelpInProgress, HelpResolved:
		return true
	}
	return false
}

type HelpRequest struct {
	ID             uuid.UUID  `json:"id"`
	MemberID       uuid.UUID  `json:"member_id"`
	Category       string     `json:"category"`
	Subject        string     `json:"subject"`
	Message        string     `json:"message"`
	Status         HelpStatus `json:"status"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	RespondedBy    *uuid.UUID `json:"responded_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type WaitlistStatus string

const (
	WaitlistActive    WaitlistStatus = "active"
	WaitlistFulfilled WaitlistStatus = "fulfilled"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

type WaitlistEntry struct {
	ID          uuid.UUID      `json:"id"`
	MemberID    uuid.UUID      `json:"member_id"`
	ProviderID  uuid.UUID      `json:"provider_id"`
	ServiceType string         `json:"service_type,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Status      WaitlistStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Role string

const (
	RoleMember   Role = "member"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

type Session struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	Alias       string    `json:"alias"`
	Role        Role      `json:"role"`
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s Session) Is(roles ...Role) bool {
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}
