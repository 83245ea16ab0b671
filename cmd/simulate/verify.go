package main

import (
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/timerange"
)

type Overlap struct {
	PractitionerID uuid.UUID
	Date           string
	First, Second  uuid.UUID
}

// FindOverlaps reports every pair of live appointments of the same
// practitioner and date whose intervals intersect.
func FindOverlaps(appts []api.AppointmentResponse) []Overlap {
	type key struct {
		practitioner uuid.UUID
		date         string
	}
	type entry struct {
		id       uuid.UUID
		interval timerange.Interval
	}

	days := map[key][]entry{}
	for _, a := range appts {
		if !appointment.AppointmentStatus(a.Status).Live() {
			continue
		}
		iv, err := timerange.NewInterval(a.Time, a.DurationMinutes)
		if err != nil {
			continue
		}
		k := key{a.PractitionerID, a.Date}
		days[k] = append(days[k], entry{a.ID, iv})
	}

	var out []Overlap
	for k, entries := range days {
		sort.Slice(entries, func(i, j int) bool { return entries[i].interval.Start < entries[j].interval.Start })
		for i := range entries {
			for j := i + 1; j < len(entries) && entries[j].interval.Start < entries[i].interval.End; j++ {
				out = append(out, Overlap{PractitionerID: k.practitioner, Date: k.date, First: entries[i].id, Second: entries[j].id})
			}
		}
	}
	return out
}
