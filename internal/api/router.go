package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinova/allocation-engine/internal/booking"
	"github.com/clinova/allocation-engine/internal/waitlist"
)

type RouterConfig struct {
	Authority       *booking.Authority
	Ledger          *booking.Ledger
	BookingRepo     booking.Repository
	Queue           *waitlist.Queue
	Matcher         *waitlist.Matcher
	RevisionHorizon int
	PgPool          *pgxpool.Pool
	Redis           *redis.Client
	Env             string
	Version         string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/bookings", createBookingHandler(cfg.Authority))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.BookingRepo))
	r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Authority))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Ledger))
	r.Post("/appointments/{id}/no-show", markNoShowHandler(cfg.Ledger))

	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.BookingRepo))

	r.Get("/doctors/{id}/slots", listOpenSlotsHandler(cfg.Authority))
	r.Get("/doctors/{id}/appointments", listDoctorAppointmentsHandler(cfg.BookingRepo))
	r.Put("/doctors/{id}/calendar", publishCalendarHandler(cfg.Authority, cfg.RevisionHorizon))

	r.Post("/waitlist", registerWaitlistHandler(cfg.Queue))
	r.Get("/waitlist", listWaitlistHandler(cfg.Queue))
	r.Delete("/waitlist/{id}", withdrawWaitlistHandler(cfg.Queue))
	r.Post("/waitlist/{id}/reprioritize", reprioritizeWaitlistHandler(cfg.Queue))
	r.Post("/waitlist/{id}/confirm", confirmHoldHandler(cfg.Matcher))

	return r
}
