package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinova/allocation-engine/internal/schedule"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all store interactions needed by the ledger and the
// allocation authority.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*schedule.Doctor, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*schedule.Service, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// UpdateDoctorCalendar replaces the doctor's working pattern; used by
	// schedule revisions.
	UpdateDoctorCalendar(ctx context.Context, id uuid.UUID, cal schedule.Calendar) (*schedule.Doctor, error)

	// ListBlocking returns the appointments that occupy any part of the
	// interval for the doctor at the given instant (confirmed, or pending
	// with an unexpired hold).
	ListBlocking(ctx context.Context, doctorID uuid.UUID, iv schedule.Interval, now time.Time) ([]Appointment, error)

	InsertAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus transitions id from one status to another
	// atomically; returns ErrAppointmentNotFound if the row is missing or no
	// longer in the from status.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
}
