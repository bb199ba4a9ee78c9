package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
)

type SignInRequest struct {
	Email string `json:"email"`
}

type PINRequest struct {
	PIN string `json:"pin"`
}

type PINResponse struct {
	Valid bool `json:"valid"`
}

type BookRequest struct {
	Notes string `json:"notes"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	TargetSlotID string `json:"target_slot_id"`
}

// GenerateSlotsRequest mirrors appointment.SlotRequest with wire friendly
// types: dates are YYYY-MM-DD, durations are minutes.
type GenerateSlotsRequest struct {
	ProviderID      string  `json:"provider_id,omitempty"`
	From            string  `json:"from"`
	To              string  `json:"to"`
	DayStart        string  `json:"day_start"`
	DayEnd          string  `json:"day_end"`
	DurationMinutes int     `json:"duration_minutes"`
	BreakMinutes    int     `json:"break_minutes,omitempty"`
	Weekdays        []int   `json:"weekdays,omitempty"`
	TimeZone        string  `json:"time_zone,omitempty"`
	Block           bool    `json:"block,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	Location        string  `json:"location,omitempty"`
	IsVideo         *bool   `json:"is_video,omitempty"`
	VideoRatio      float64 `json:"video_ratio,omitempty"`
}

type AvailabilityResponse struct {
	MemberID  uuid.UUID `json:"member_id"`
	Date      string    `json:"date"`
	Available bool      `json:"available"`
}

type NormalizeResponse struct {
	Changed int `json:"changed"`
}

type CreateNoteRequest struct {
	MemberID              string `json:"member_id"`
	Category              string `json:"category"`
	Content               string `json:"content"`
	Status                string `json:"status,omitempty"`
	FollowUpAppointmentID string `json:"follow_up_appointment_id,omitempty"`
}

type UpdateNoteRequest struct {
	Category              *string `json:"category,omitempty"`
	Content               *string `json:"content,omitempty"`
	FollowUpAppointmentID *string `json:"follow_up_appointment_id,omitempty"`
}

type StatusRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution,omitempty"`
}

type CreateHelpRequest struct {
	Category string `json:"category,omitempty"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

type JoinWaitlistRequest struct {
	ProviderID  string `json:"provider_id"`
	ServiceType string `json:"service_type,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.CodeNotAuthenticated:
		status = http.StatusUnauthorized
	case domain.CodeForbidden:
		status = http.StatusForbidden
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeConflict:
		status = http.StatusConflict
	case domain.CodeInvalidInput:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, status, string(code), err.Error())
}

var errBadRequest = fmt.Errorf("%w: could not parse JSON", domain.ErrInvalidInput)

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return errBadRequest
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}

func parseUUID(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a valid UUID", domain.ErrInvalidInput, name)
	}
	return id, nil
}

func urlID(r *http.Request) (uuid.UUID, error) {
	return parseUUID("id", chi.URLParam(r, "id"))
}

// optionalUUID parses raw, returning uuid.Nil for an empty value or "me".
func optionalUUID(name, raw string) (uuid.UUID, error) {
	if raw == "" || raw == "me" {
		return uuid.Nil, nil
	}
	return parseUUID(name, raw)
}

// parseTime accepts RFC3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseTime(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC3339 or YYYY-MM-DD", domain.ErrInvalidInput, name)
}

func parseBool(raw string) bool {
	b, _ := strconv.ParseBool(raw)
	return b
}
