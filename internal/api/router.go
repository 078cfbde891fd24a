package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Booking  BookingService
	Schedule ScheduleService
	Auditor  ConsistencyAuditor
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Booking
	r.Post("/bookings", bookSlotHandler(cfg.Booking))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Booking))
	r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Booking))
	r.Put("/appointments/{id}/external-ref", setExternalRefHandler(cfg.Booking))
	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Booking))

	// Schedule administration
	r.Route("/locations/{id}", func(r chi.Router) {
		r.Get("/slots", listSlotsHandler(cfg.Schedule))
		r.Put("/schedule-rules", upsertRuleHandler(cfg.Schedule))
		r.Get("/schedule-rules", listRulesHandler(cfg.Schedule))
		r.Delete("/schedule-rules/{weekday}", deleteRuleHandler(cfg.Schedule))
		r.Post("/blackouts", createBlackoutHandler(cfg.Schedule))
		r.Get("/blackouts", listBlackoutsHandler(cfg.Schedule))
		r.Post("/reconcile", reconcileHandler(cfg.Schedule))
		r.Post("/emergency-block", emergencyBlockHandler(cfg.Schedule))
		r.Post("/unblock", unblockHandler(cfg.Schedule))
	})
	r.Delete("/blackouts/{id}", deleteBlackoutHandler(cfg.Schedule))

	// Consistency
	r.Get("/admin/consistency", consistencyCheckHandler(cfg.Auditor))
	r.Post("/admin/consistency/fix", consistencyFixHandler(cfg.Auditor))

	return r
}
