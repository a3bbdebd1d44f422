package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicore/episode-service/internal/schedule"
)

type RouterDeps struct {
	Schedule ScheduleService
	Lab      LabService
	Episode  EpisodeService
	Health   *HealthHandler
	Logger   zerolog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(deps.Logger))

	r.Get("/health/live", deps.Health.Liveness)
	r.Get("/health/ready", deps.Health.Readiness)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(deps.Schedule))
		r.Get("/{id}", getAppointmentHandler(deps.Schedule))
		r.Post("/{id}/confirm", transitionAppointmentHandler(deps.Schedule, schedule.StatusConfirmed))
		r.Post("/{id}/cancel", transitionAppointmentHandler(deps.Schedule, schedule.StatusCancelled))
		r.Post("/{id}/finalize", finalizeHandler(deps.Episode))
		r.Get("/{id}/diagnosis", getDiagnosisHandler(deps.Episode))
	})

	r.Get("/doctors/{id}/slots", doctorSlotsHandler(deps.Schedule))

	r.Route("/lab-orders", func(r chi.Router) {
		r.Post("/", createLabOrderHandler(deps.Lab))
		r.Get("/{id}", getLabOrderHandler(deps.Lab))
		r.Post("/{id}/start", startProcessingHandler(deps.Lab))
		r.Put("/{id}/tentative-date", setTentativeDateHandler(deps.Lab))
		r.Post("/{id}/external", markExternalHandler(deps.Lab))
		r.Delete("/{id}/external", markInternalHandler(deps.Lab))
		r.Put("/{id}/results/{parameterID}", recordResultHandler(deps.Lab))
		r.Post("/{id}/attachments", addAttachmentHandler(deps.Lab))
		r.Post("/{id}/complete", completeLabOrderHandler(deps.Lab))
		r.Get("/{id}/progress", labOrderProgressHandler(deps.Lab))
	})

	return r
}
