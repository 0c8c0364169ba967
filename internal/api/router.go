package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/myhubcares/clinic-scheduling/internal/notification"
)

type RouterConfig struct {
	Service       AppointmentService
	Notifications notification.Store
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(ActorMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints. Static availability/date segments are routed
	// before the {id} wildcard.
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/date/{date}", listAppointmentsByDateHandler(cfg.Service))
		r.Get("/availability/check", checkAvailabilityHandler(cfg.Service))
		r.Get("/availability/slots", listOpenSlotsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))

		r.Post("/", RequireActor(bookAppointmentHandler(cfg.Service)))
		r.Put("/{id}", RequireActor(updateAppointmentHandler(cfg.Service)))
		r.Delete("/{id}", RequireActor(cancelAppointmentHandler(cfg.Service)))
		r.Post("/{id}/accept", RequireActor(acceptAppointmentHandler(cfg.Service)))
		r.Post("/{id}/decline", RequireActor(declineAppointmentHandler(cfg.Service)))
		r.Post("/{id}/confirm", RequireActor(confirmAppointmentHandler(cfg.Service)))
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", RequireActor(listNotificationsHandler(cfg.Notifications)))
		r.Post("/{id}/read", RequireActor(markNotificationReadHandler(cfg.Notifications)))
	})

	return r
}
