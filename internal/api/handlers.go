package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/appointment"
	"github.com/hackgods/project-vector/internal/auth"
	"github.com/hackgods/project-vector/internal/domain"
)

// Auth

func signInHandler(sim *auth.Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignInRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
		sess, err := sim.SignIn(r.Context(), req.Email)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func signOutHandler(sim *auth.Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sim.SignOut(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func sessionHandler(sim *auth.Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := sim.Resolve(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		sess.AccessToken = ""
		writeJSON(w, http.StatusOK, sess)
	}
}

func setPINHandler(sim *auth.Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PINRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
		if err := sim.SetPIN(r.Context(), req.PIN); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func verifyPINHandler(sim *auth.Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PINRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
		ok, err := sim.VerifyPIN(r.Context(), req.PIN)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PINResponse{Valid: ok})
	}
}

// Slots

func listOpenSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var providerID *uuid.UUID
		if raw := q.Get("provider_id"); raw != "" {
			id, err := parseUUID("provider_id", raw)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			providerID = &id
		}
		from, to, err := timeRange(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		slots, err := svc.ListOpenSlots(r.Context(), providerID, from, to)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

func generateSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateSlotsRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
		slotReq, err := req.toSlotRequest()
		if err != nil {
			writeDomainError(w, err)
			return
		}

		created, err := svc.GenerateSlots(r.Context(), slotReq)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (req GenerateSlotsRequest) toSlotRequest() (appointment.SlotRequest, error) {
	providerID, err := optionalUUID("provider_id", req.ProviderID)
	if err != nil {
		return appointment.SlotRequest{}, err
	}

	tz := time.UTC
	if req.TimeZone != "" {
		tz, err = time.LoadLocation(req.TimeZone)
		if err != nil {
			return appointment.SlotRequest{}, fmt.Errorf("%w: unknown time zone %q", domain.ErrInvalidInput, req.TimeZone)
		}
	}
	from, err := time.ParseInLocation(time.DateOnly, req.From, tz)
	if err != nil {
		return appointment.SlotRequest{}, fmt.Errorf("%w: from must be YYYY-MM-DD", domain.ErrInvalidInput)
	}
	to, err := time.ParseInLocation(time.DateOnly, req.To, tz)
	if err != nil {
		return appointment.SlotRequest{}, fmt.Errorf("%w: to must be YYYY-MM-DD", domain.ErrInvalidInput)
	}

	weekdays := make([]time.Weekday, 0, len(req.Weekdays))
	for _, d := range req.Weekdays {
		if d < 0 || d > 6 {
			return appointment.SlotRequest{}, fmt.Errorf("%w: weekday %d out of range", domain.ErrInvalidInput, d)
		}
		weekdays = append(weekdays, time.Weekday(d))
	}

	return appointment.SlotRequest{
		ProviderID: providerID,
		From:       from,
		To:         to,
		DayStart:   req.DayStart,
		DayEnd:     req.DayEnd,
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
		Break:      time.Duration(req.BreakMinutes) * time.Minute,
		Weekdays:   weekdays,
		TimeZone:   tz,
		Block:      req.Block,
		Reason:     req.Reason,
		Notes:      req.Notes,
		Location:   req.Location,
		IsVideo:    req.IsVideo,
		VideoRatio: req.VideoRatio,
	}, nil
}

func bookSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		var req BookRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				writeDomainError(w, err)
				return
			}
		}

		appt, err := svc.BookSlot(r.Context(), id, req.Notes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func blockSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return withReason(func(r *http.Request, id uuid.UUID, reason string) (any, error) {
		return svc.BlockSlot(r.Context(), id, reason)
	})
}

func unblockSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		return svc.UnblockSlot(r.Context(), id)
	})
}

func deleteSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := svc.DeleteSlot(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Appointments

func memberAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.MemberAppointments(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appts)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		return svc.Get(r.Context(), id)
	})
}

func rescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		var req RescheduleRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
		target, err := parseUUID("target_slot_id", req.TargetSlotID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, target)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func cancelHandler(svc *appointment.Service, byProvider bool) http.HandlerFunc {
	return withReason(func(r *http.Request, id uuid.UUID, reason string) (any, error) {
		if byProvider {
			return svc.ProviderCancel(r.Context(), id, reason)
		}
		return svc.Cancel(r.Context(), id, reason)
	})
}

func completeHandler(svc *appointment.Service) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		return svc.Complete(r.Context(), id)
	})
}

func providerScheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := optionalUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		from, to, err := timeRange(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		appts, err := svc.ProviderSchedule(r.Context(), providerID, from, to)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appts)
	}
}

func availabilityHandler(sim *auth.Simulator, svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, err := optionalUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if memberID == uuid.Nil {
			sess, err := sim.Resolve(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			memberID = sess.UserID
		}

		raw := r.URL.Query().Get("date")
		day, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(domain.CodeInvalidInput), "date must be YYYY-MM-DD")
			return
		}

		ok, err := svc.IsAvailableOn(r.Context(), memberID, day)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityResponse{MemberID: memberID, Date: raw, Available: ok})
	}
}

func normalizeHandler(sim *auth.Simulator, svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := sim.Resolve(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !sess.Is(domain.RoleAdmin) {
			writeDomainError(w, domain.ErrForbidden)
			return
		}

		changed, err := svc.NormalizeLifecycle(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NormalizeResponse{Changed: changed})
	}
}

func timeRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseTime("from", q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTime("to", q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

// withID adapts a single-resource action to a handler answering 200 with
// the result.
func withID(fn func(r *http.Request, id uuid.UUID) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out, err := fn(r, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// withReason is withID for actions taking an optional {"reason": ...} body.
func withReason(fn func(r *http.Request, id uuid.UUID, reason string) (any, error)) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		var req ReasonRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				return nil, err
			}
		}
		return fn(r, id, req.Reason)
	})
}
