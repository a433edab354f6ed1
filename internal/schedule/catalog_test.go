package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoctor(start, end MinuteOfDay, slotMinutes int, daysOff ...time.Weekday) *Doctor {
	off := make(map[time.Weekday]bool, len(daysOff))
	for _, wd := range daysOff {
		off[wd] = true
	}
	return &Doctor{
		ID:        uuid.New(),
		Name:      "Dr. Test",
		Specialty: "Cardiology",
		Calendar: Calendar{
			DayStart:    start,
			DayEnd:      end,
			DaysOff:     off,
			SlotMinutes: slotMinutes,
		},
	}
}

func testService(category string, minutes int) *Service {
	return &Service{
		ID:              uuid.New(),
		Name:            "Consultation",
		Category:        category,
		DurationMinutes: minutes,
	}
}

func TestCandidateSlots_SingleDayGrid(t *testing.T) {
	// 09:00-12:00 on a 30-minute grid with a 30-minute service yields
	// exactly six starts.
	doctor := testDoctor(9*60, 12*60, 30)
	service := testService("Cardiology", 30)

	day := time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC)
	slots := CandidateSlots(doctor, service, day, day)

	require.Len(t, slots, 6)
	wantStarts := []int{9 * 60, 9*60 + 30, 10 * 60, 10*60 + 30, 11 * 60, 11*60 + 30}
	for i, s := range slots {
		assert.Equal(t, day.Add(time.Duration(wantStarts[i])*time.Minute), s.Interval.Start)
		assert.Equal(t, 30*time.Minute, s.Interval.Duration())
		assert.Equal(t, doctor.ID, s.DoctorID)
	}
}

func TestCandidateSlots_SkipsDaysOff(t *testing.T) {
	doctor := testDoctor(9*60, 12*60, 30, time.Saturday, time.Sunday)
	service := testService("Cardiology", 30)

	// 2025-06-20 is a Friday; range runs through the weekend to Monday.
	friday := time.Date(2025, time.June, 20, 0, 0, 0, 0, time.UTC)
	monday := friday.AddDate(0, 0, 3)

	slots := CandidateSlots(doctor, service, friday, monday)
	require.Len(t, slots, 12)
	for _, s := range slots {
		wd := s.Interval.Start.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}
}

func TestCandidateSlots_IncompatibleService(t *testing.T) {
	doctor := testDoctor(9*60, 12*60, 30)
	service := testService("Dermatology", 30)

	day := time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, CandidateSlots(doctor, service, day, day))

	doctor.GeneralPurpose = true
	assert.NotEmpty(t, CandidateSlots(doctor, service, day, day))
}

func TestCandidateSlots_DurationNotMultipleOfGrid(t *testing.T) {
	// 45-minute service on a 30-minute grid: starts stay grid-aligned, slots
	// run past the next grid line, and the last start leaves room for the
	// full duration.
	doctor := testDoctor(9*60, 11*60, 30)
	service := testService("Cardiology", 45)

	day := time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC)
	slots := CandidateSlots(doctor, service, day, day)

	require.Len(t, slots, 3) // 09:00, 09:30, 10:00; 10:30+45m would pass 11:00
	for _, s := range slots {
		assert.Equal(t, 45*time.Minute, s.Interval.Duration())
	}
	last := slots[len(slots)-1]
	assert.Equal(t, day.Add(10*time.Hour), last.Interval.Start)
	assert.Equal(t, day.Add(10*time.Hour+45*time.Minute), last.Interval.End)
}

func TestIntervalOverlaps_HalfOpen(t *testing.T) {
	base := time.Date(2025, time.June, 16, 10, 0, 0, 0, time.UTC)
	a := Interval{Start: base, End: base.Add(30 * time.Minute)}

	// Touching intervals do not overlap.
	b := Interval{Start: a.End, End: a.End.Add(30 * time.Minute)}
	assert.False(t, a.Overlaps(b))
	assert.False(t, b.Overlaps(a))

	// One minute of intersection does.
	c := Interval{Start: base.Add(29 * time.Minute), End: base.Add(59 * time.Minute)}
	assert.True(t, a.Overlaps(c))
	assert.True(t, c.Overlaps(a))

	// Containment does too.
	d := Interval{Start: base.Add(10 * time.Minute), End: base.Add(20 * time.Minute)}
	assert.True(t, a.Overlaps(d))
}

func TestAlignedStart(t *testing.T) {
	doctor := testDoctor(9*60, 12*60, 30)
	day := time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC)

	ok := Interval{Start: day.Add(10 * time.Hour), End: day.Add(10*time.Hour + 30*time.Minute)}
	assert.True(t, AlignedStart(doctor, ok))

	offGrid := Interval{Start: day.Add(10*time.Hour + 15*time.Minute), End: day.Add(10*time.Hour + 45*time.Minute)}
	assert.False(t, AlignedStart(doctor, offGrid))

	beforeWindow := Interval{Start: day.Add(8 * time.Hour), End: day.Add(8*time.Hour + 30*time.Minute)}
	assert.False(t, AlignedStart(doctor, beforeWindow))

	pastWindow := Interval{Start: day.Add(11*time.Hour + 30*time.Minute), End: day.Add(12*time.Hour + 15*time.Minute)}
	assert.False(t, AlignedStart(doctor, pastWindow))

	dayOffDoctor := testDoctor(9*60, 12*60, 30, time.Monday)
	assert.False(t, AlignedStart(dayOffDoctor, ok)) // 2025-06-16 is a Monday
}
