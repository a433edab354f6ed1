package schedule

import (
	"time"

	"github.com/google/uuid"
)

// MinuteOfDay is a time-of-day expressed as minutes since midnight.
type MinuteOfDay int

func (m MinuteOfDay) Duration() time.Duration {
	return time.Duration(m) * time.Minute
}

// Calendar is a doctor's working pattern for one schedule period. Immutable;
// replaced wholesale by a schedule revision.
type Calendar struct {
	DayStart    MinuteOfDay
	DayEnd      MinuteOfDay
	DaysOff     map[time.Weekday]bool
	SlotMinutes int
}

// WorksOn reports whether the calendar covers the given date at all.
func (c Calendar) WorksOn(d time.Time) bool {
	return !c.DaysOff[d.Weekday()]
}

type Doctor struct {
	ID             uuid.UUID
	Name           string
	Specialty      string
	GeneralPurpose bool
	Calendar       Calendar
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Service struct {
	ID              uuid.UUID
	Name            string
	Category        string
	DurationMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Compatible reports whether the doctor may perform the service: specialty
// equals the service category, or the doctor is flagged general-purpose.
func Compatible(d *Doctor, s *Service) bool {
	return d.GeneralPurpose || d.Specialty == s.Category
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// TimeSlot is a doctor-specific interval sized to a service's duration. Slots
// are computed on demand from Doctor + Service, never persisted.
type TimeSlot struct {
	DoctorID uuid.UUID
	Interval Interval
}
