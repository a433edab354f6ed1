package schedule

import "time"

// CandidateSlots generates every grid-aligned slot the doctor could host the
// service in over [from, to] (calendar dates, inclusive). Pure computation:
// the result reflects only the doctor's calendar and the service duration,
// never ledger occupancy. Returns nil when the doctor cannot perform the
// service.
//
// Starts step by the doctor's slot granularity from the start of day. A
// service whose duration is not a multiple of the granularity still gets
// grid-aligned starts; the resulting slot may run past the next grid line, so
// occupancy checks elsewhere compare true intervals, not grid cells.
func CandidateSlots(doctor *Doctor, service *Service, from, to time.Time) []TimeSlot {
	if !Compatible(doctor, service) {
		return nil
	}

	cal := doctor.Calendar
	if cal.SlotMinutes <= 0 || cal.DayEnd <= cal.DayStart {
		return nil
	}

	duration := time.Duration(service.DurationMinutes) * time.Minute
	step := time.Duration(cal.SlotMinutes) * time.Minute

	var slots []TimeSlot
	for day := dateOnly(from); !day.After(dateOnly(to)); day = day.AddDate(0, 0, 1) {
		if !cal.WorksOn(day) {
			continue
		}

		dayEnd := day.Add(cal.DayEnd.Duration())
		for start := day.Add(cal.DayStart.Duration()); !start.Add(duration).After(dayEnd); start = start.Add(step) {
			slots = append(slots, TimeSlot{
				DoctorID: doctor.ID,
				Interval: Interval{Start: start, End: start.Add(duration)},
			})
		}
	}

	return slots
}

// AlignedStart reports whether start sits on the doctor's slot grid for its
// day and the full interval fits inside the working window.
func AlignedStart(doctor *Doctor, iv Interval) bool {
	cal := doctor.Calendar

	day := dateOnly(iv.Start)
	if !cal.WorksOn(day) {
		return false
	}

	windowStart := day.Add(cal.DayStart.Duration())
	windowEnd := day.Add(cal.DayEnd.Duration())
	if iv.Start.Before(windowStart) || iv.End.After(windowEnd) {
		return false
	}

	offset := iv.Start.Sub(windowStart)
	step := time.Duration(cal.SlotMinutes) * time.Minute
	return step > 0 && offset >= 0 && offset%step == 0
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
