package appointment

import (
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/timerange"
)

// FindConflict returns the first live appointment in existing whose interval
// overlaps candidate, or nil. existing is expected to hold a single
// practitioner's appointments for a single date.
func FindConflict(candidate timerange.Interval, existing []Appointment) *Appointment {
	return findConflictExcept(candidate, existing, uuid.Nil)
}

// findConflictExcept ignores the appointment with id self, which is what a
// reschedule needs when the moved appointment is still in the candidate set.
func findConflictExcept(candidate timerange.Interval, existing []Appointment, self uuid.UUID) *Appointment {
	for i := range existing {
		a := &existing[i]
		if !a.Live() || a.ID == self {
			continue
		}
		if candidate.Overlaps(a.Interval()) {
			return a
		}
	}
	return nil
}

func HasConflict(candidate timerange.Interval, existing []Appointment) bool {
	return FindConflict(candidate, existing) != nil
}

// FreeWindows returns the gaps inside day not covered by any live
// appointment, keeping only gaps of at least minDuration minutes.
func FreeWindows(day timerange.Interval, existing []Appointment, minDuration int) []timerange.Interval {
	busy := make([]timerange.Interval, 0, len(existing))
	for i := range existing {
		if existing[i].Live() {
			busy = append(busy, existing[i].Interval())
		}
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start < busy[j].Start })

	var free []timerange.Interval
	cursor := day.Start
	for _, b := range busy {
		if b.End <= cursor {
			continue
		}
		if b.Start >= day.End {
			break
		}
		if b.Start > cursor {
			free = appendWindow(free, timerange.Interval{Start: cursor, End: b.Start}, minDuration)
		}
		cursor = b.End
	}
	if cursor < day.End {
		free = appendWindow(free, timerange.Interval{Start: cursor, End: day.End}, minDuration)
	}
	return free
}

func appendWindow(free []timerange.Interval, w timerange.Interval, minDuration int) []timerange.Interval {
	if w.Duration() >= minDuration {
		return append(free, w)
	}
	return free
}
