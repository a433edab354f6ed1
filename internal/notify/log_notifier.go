package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogNotifier writes notification records to the structured log. The default
// sink until a real messaging channel is wired behind the port.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) OnAllocationProposed(ctx context.Context, a Allocation) {
	allocationEvent(a).Time("hold_expiry", a.HoldExpiry).Msg("allocation proposed")
}

func (n *LogNotifier) OnAllocationConfirmed(ctx context.Context, a Allocation) {
	allocationEvent(a).Msg("allocation confirmed")
}

func (n *LogNotifier) OnAllocationExpired(ctx context.Context, a Allocation) {
	allocationEvent(a).Msg("allocation hold expired")
}

func (n *LogNotifier) OnBookingConfirmed(ctx context.Context, b Booking) {
	log.Info().
		Str("appointment_id", b.AppointmentID.String()).
		Str("patient_id", b.PatientID.String()).
		Str("doctor_id", b.DoctorID.String()).
		Time("start", b.Start).
		Time("end", b.End).
		Msg("booking confirmed")
}

func allocationEvent(a Allocation) *zerolog.Event {
	return log.Info().
		Str("entry_id", a.EntryID.String()).
		Str("patient_id", a.PatientID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("appointment_id", a.AppointmentID.String()).
		Time("start", a.Start).
		Time("end", a.End)
}
