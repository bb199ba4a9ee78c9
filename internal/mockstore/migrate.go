package mockstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
)

// v2 packed location, cancellation reason and the no-show marker into the
// notes string, delimited by "|".
type legacyAppointment struct {
	ID         uuid.UUID                `json:"id"`
	ProviderID uuid.UUID                `json:"provider_id"`
	MemberID   *uuid.UUID               `json:"member_id"`
	StartTime  time.Time                `json:"start_time"`
	EndTime    time.Time                `json:"end_time"`
	Status     domain.AppointmentStatus `json:"status"`
	IsBooked   bool                     `json:"is_booked"`
	Notes      string                   `json:"notes"`
	IsVideo    bool                     `json:"is_video"`
	CreatedAt  time.Time                `json:"created_at"`
}

// legacyDocument lists the fields v3 still understands. Anything else in a
// v2 document, including its aggregate stats, has no analogue and is
// dropped.
type legacyDocument struct {
	Appointments   []legacyAppointment    `json:"appointments"`
	EncounterNotes []domain.EncounterNote `json:"encounterNotes"`
	HelpRequests   []domain.HelpRequest   `json:"helpRequests"`
	Waitlist       []domain.WaitlistEntry `json:"waitlist"`
	Init           bool                   `json:"init"`
}

const (
	legacyLocationPrefix = "Location:"
	legacyCancelPrefix   = "CANCEL_REASON:"
)

func migrateV2(raw []byte) (Document, error) {
	var legacy legacyDocument
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return Document{}, err
	}

	doc := emptyDocument()
	doc.Init = legacy.Init

	for _, la := range legacy.Appointments {
		notes, location, reason, noShow := unpackLegacyNotes(la.Notes)
		doc.Appointments = append(doc.Appointments, domain.Appointment{
			ID:           la.ID,
			ProviderID:   la.ProviderID,
			MemberID:     la.MemberID,
			StartTime:    la.StartTime,
			EndTime:      la.EndTime,
			Status:       la.Status,
			IsBooked:     la.IsBooked,
			Notes:        notes,
			Location:     location,
			CancelReason: reason,
			NoShow:       noShow,
			IsVideo:      la.IsVideo,
			CreatedAt:    la.CreatedAt,
			UpdatedAt:    la.CreatedAt,
		})
	}
	if legacy.EncounterNotes != nil {
		doc.EncounterNotes = legacy.EncounterNotes
	}
	if legacy.HelpRequests != nil {
		doc.HelpRequests = legacy.HelpRequests
	}
	if legacy.Waitlist != nil {
		doc.Waitlist = legacy.Waitlist
	}
	return doc, nil
}

// unpackLegacyNotes splits "Urgent Pain | Location: Room 4 | CANCEL_REASON: ill"
// into its free text and structured parts.
func unpackLegacyNotes(packed string) (notes, location, cancelReason string, noShow bool) {
	var free []string
	for _, seg := range strings.Split(packed, "|") {
		seg = strings.TrimSpace(seg)
		switch {
		case seg == "":
		case strings.HasPrefix(seg, legacyLocationPrefix):
			location = strings.TrimSpace(strings.TrimPrefix(seg, legacyLocationPrefix))
		case strings.HasPrefix(seg, legacyCancelPrefix):
			cancelReason = strings.TrimSpace(strings.TrimPrefix(seg, legacyCancelPrefix))
		default:
			if strings.Contains(seg, domain.NoShowMarker) {
				noShow = true
			}
			free = append(free, seg)
		}
	}
	return strings.Join(free, " "), location, cancelReason, noShow
}
