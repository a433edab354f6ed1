package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateBookingRequest struct {
	DoctorID  string    `json:"doctor_id"`
	ServiceID string    `json:"service_id"`
	PatientID string    `json:"patient_id"`
	Start     time.Time `json:"start"`
}

type AppointmentResponse struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	ServiceID uuid.UUID  `json:"service_id"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Status    string     `json:"status"`
	Origin    string     `json:"origin"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type SlotResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type DayRequestPayload struct {
	Day     string   `json:"day"` // YYYY-MM-DD
	Periods []string `json:"periods,omitempty"`
}

type RegisterWaitlistRequest struct {
	PatientID   string              `json:"patient_id"`
	ServiceID   string              `json:"service_id"`
	Days        []DayRequestPayload `json:"days"`
	Flexibility struct {
		Mode       string `json:"mode"`
		WindowDays int    `json:"window_days,omitempty"`
	} `json:"flexibility"`
	Tier string `json:"tier"`
}

type ReprioritizeRequest struct {
	Tier string `json:"tier"`
}

type WaitlistEntryResponse struct {
	ID            uuid.UUID           `json:"id"`
	PatientID     uuid.UUID           `json:"patient_id"`
	ServiceID     uuid.UUID           `json:"service_id"`
	Days          []DayRequestPayload `json:"days"`
	Flexibility   string              `json:"flexibility"`
	WindowDays    int                 `json:"window_days,omitempty"`
	Tier          string              `json:"tier"`
	EnqueuedAt    time.Time           `json:"enqueued_at"`
	Status        string              `json:"status"`
	AppointmentID *uuid.UUID          `json:"appointment_id,omitempty"`
}

type CalendarRequest struct {
	DayStart    string `json:"day_start"` // HH:MM
	DayEnd      string `json:"day_end"`   // HH:MM
	DaysOff     []int  `json:"days_off"`  // weekday indices, Sunday = 0
	SlotMinutes int    `json:"slot_minutes"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
