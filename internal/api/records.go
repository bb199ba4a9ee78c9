package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/notes"
	"github.com/hackgods/project-vector/internal/support"
	"github.com/hackgods/project-vector/internal/waitlist"
)

// Encounter notes

func createNoteHandler(svc *notes.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateNoteRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
		memberID, err := parseUUID("member_id", req.MemberID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		in := notes.NewNote{
			MemberID: memberID,
			Category: domain.NoteCategory(req.Category),
			Content:  req.Content,
			Status:   domain.NoteStatus(req.Status),
		}
		if req.FollowUpAppointmentID != "" {
			id, err := parseUUID("follow_up_appointment_id", req.FollowUpAppointmentID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			in.FollowUpAppointmentID = &id
		}

		note, err := svc.Add(r.Context(), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, note)
	}
}

func providerNotesHandler(svc *notes.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListForProvider(r.Context(), parseBool(r.URL.Query().Get("include_archived")))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func memberNotesHandler(svc *notes.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, err := optionalUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		list, err := svc.ListForMember(r.Context(), memberID, parseBool(r.URL.Query().Get("include_archived")))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func noteStatisticsHandler(svc *notes.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Statistics(r.Context(), r.URL.Query().Get("period"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func updateNoteHandler(svc *notes.Service) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		var req UpdateNoteRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		in := notes.NoteUpdate{Content: req.Content}
		if req.Category != nil {
			c := domain.NoteCategory(*req.Category)
			in.Category = &c
		}
		if req.FollowUpAppointmentID != nil {
			followUp, err := parseUUID("follow_up_appointment_id", *req.FollowUpAppointmentID)
			if err != nil {
				return nil, err
			}
			in.FollowUpAppointmentID = &followUp
		}
		return svc.Update(r.Context(), id, in)
	})
}

func noteStatusHandler(svc *notes.Service) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		var req StatusRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return svc.SetStatus(r.Context(), id, domain.NoteStatus(req.Status))
	})
}

func archiveNoteHandler(svc *notes.Service, archive bool) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		if archive {
			return svc.Archive(r.Context(), id)
		}
		return svc.Unarchive(r.Context(), id)
	})
}

// Help requests

func createHelpHandler(svc *support.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateHelpRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
		created, err := svc.Create(r.Context(), support.NewRequest{
			Category: req.Category,
			Subject:  req.Subject,
			Message:  req.Message,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func listHelpHandler(svc *support.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context(), domain.HelpStatus(r.URL.Query().Get("status")))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func myHelpHandler(svc *support.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListMine(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func helpStatusHandler(svc *support.Service) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		var req StatusRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return svc.UpdateStatus(r.Context(), id, domain.HelpStatus(req.Status), req.Resolution)
	})
}

// Waitlist

func joinWaitlistHandler(svc *waitlist.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinWaitlistRequest
		if err := decode(r, &req); err != nil {
			writeDomainError(w, err)
			return
		}
		providerID, err := parseUUID("provider_id", req.ProviderID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		entry, err := svc.Join(r.Context(), providerID, req.ServiceType, req.Notes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func myWaitlistHandler(svc *waitlist.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListMine(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func providerWaitlistHandler(svc *waitlist.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := optionalUUID("id", chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		list, err := svc.ListForProvider(r.Context(), providerID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func leaveWaitlistHandler(svc *waitlist.Service) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		return svc.Leave(r.Context(), id)
	})
}

func fulfillWaitlistHandler(svc *waitlist.Service) http.HandlerFunc {
	return withID(func(r *http.Request, id uuid.UUID) (any, error) {
		return svc.Fulfill(r.Context(), id)
	})
}
