package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/project-vector/internal/appointment"
	"github.com/hackgods/project-vector/internal/auth"
	"github.com/hackgods/project-vector/internal/notes"
	"github.com/hackgods/project-vector/internal/support"
	"github.com/hackgods/project-vector/internal/waitlist"
)

type RouterConfig struct {
	Auth         *auth.Simulator
	Appointments *appointment.Service
	Notes        *notes.Service
	Support      *support.Service
	Waitlist     *waitlist.Service

	Checks   []Check
	Registry *prometheus.Registry
	Logger   *slog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	metrics := NewMetrics(cfg.Registry)

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(metrics.Middleware)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/sign-in", signInHandler(cfg.Auth))
			r.Post("/sign-out", signOutHandler(cfg.Auth))
			r.Get("/session", sessionHandler(cfg.Auth))
			r.Post("/pin", setPINHandler(cfg.Auth))
			r.Post("/pin/verify", verifyPINHandler(cfg.Auth))
		})

		r.Route("/slots", func(r chi.Router) {
			r.Get("/", listOpenSlotsHandler(cfg.Appointments))
			r.Post("/generate", generateSlotsHandler(cfg.Appointments))
			r.Post("/{id}/book", bookSlotHandler(cfg.Appointments))
			r.Post("/{id}/block", blockSlotHandler(cfg.Appointments))
			r.Post("/{id}/unblock", unblockSlotHandler(cfg.Appointments))
			r.Delete("/{id}", deleteSlotHandler(cfg.Appointments))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", memberAppointmentsHandler(cfg.Appointments))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
			r.Post("/{id}/reschedule", rescheduleHandler(cfg.Appointments))
			r.Post("/{id}/cancel", cancelHandler(cfg.Appointments, false))
			r.Post("/{id}/provider-cancel", cancelHandler(cfg.Appointments, true))
			r.Post("/{id}/complete", completeHandler(cfg.Appointments))
		})

		r.Get("/providers/{id}/schedule", providerScheduleHandler(cfg.Appointments))
		r.Get("/providers/{id}/waitlist", providerWaitlistHandler(cfg.Waitlist))
		r.Get("/members/{id}/availability", availabilityHandler(cfg.Auth, cfg.Appointments))
		r.Get("/members/{id}/notes", memberNotesHandler(cfg.Notes))
		r.Post("/admin/normalize", normalizeHandler(cfg.Auth, cfg.Appointments))

		r.Route("/notes", func(r chi.Router) {
			r.Post("/", createNoteHandler(cfg.Notes))
			r.Get("/", providerNotesHandler(cfg.Notes))
			r.Get("/statistics", noteStatisticsHandler(cfg.Notes))
			r.Patch("/{id}", updateNoteHandler(cfg.Notes))
			r.Post("/{id}/status", noteStatusHandler(cfg.Notes))
			r.Post("/{id}/archive", archiveNoteHandler(cfg.Notes, true))
			r.Post("/{id}/unarchive", archiveNoteHandler(cfg.Notes, false))
		})

		r.Route("/help", func(r chi.Router) {
			r.Post("/", createHelpHandler(cfg.Support))
			r.Get("/", listHelpHandler(cfg.Support))
			r.Get("/mine", myHelpHandler(cfg.Support))
			r.Post("/{id}/status", helpStatusHandler(cfg.Support))
		})

		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", joinWaitlistHandler(cfg.Waitlist))
			r.Get("/mine", myWaitlistHandler(cfg.Waitlist))
			r.Post("/{id}/leave", leaveWaitlistHandler(cfg.Waitlist))
			r.Post("/{id}/fulfill", fulfillWaitlistHandler(cfg.Waitlist))
		})
	})

	return r
}
