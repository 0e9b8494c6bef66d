package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// BucketSize is the granularity of busy tracking.
const BucketSize = 30 * time.Minute

const bucketMinutes = TimeOfDay(BucketSize / time.Minute)

// BusySet holds the starts of occupied 30-minute buckets, anchored at midnight.
type BusySet map[TimeOfDay]struct{}

func bucketOf(t TimeOfDay) TimeOfDay {
	return t - t%bucketMinutes
}

// Mark flags the bucket containing t.
func (b BusySet) Mark(t TimeOfDay) {
	b[bucketOf(t)] = struct{}{}
}

// MarkRange flags every bucket intersecting [from, to).
func (b BusySet) MarkRange(from, to TimeOfDay) {
	for t := bucketOf(from); t < to; t += bucketMinutes {
		b[t] = struct{}{}
	}
}

// IsBusy reports whether the bucket containing t is occupied.
func (b BusySet) IsBusy(t TimeOfDay) bool {
	_, ok := b[bucketOf(t)]
	return ok
}

// FreeFor reports whether no bucket intersecting [start, start+d) is occupied.
func (b BusySet) FreeFor(start TimeOfDay, d time.Duration) bool {
	end := start.Add(d)
	for t := bucketOf(start); t < end; t += bucketMinutes {
		if _, ok := b[t]; ok {
			return false
		}
	}
	return true
}

// Candidate is a professional eligible for a day, with their weekly policy.
type Candidate struct {
	ID    uuid.UUID
	Hours WorkingHours
}

// Span is an occupying appointment.
type Span struct {
	ProfessionalID uuid.UUID
	Start          time.Time
	End            time.Time
}

// Block is a cached external calendar event. A nil ProfessionalID blocks everyone.
type Block struct {
	ProfessionalID *uuid.UUID
	Start          time.Time
	End            time.Time
	AllDay         bool
}

// AggregateInput is everything known about one tenant day.
type AggregateInput struct {
	Day          time.Time
	Candidates   []Candidate
	Appointments []Span
	Blocks       []Block
}

// Aggregate builds each candidate's busy buckets for the day. A bucket counts
// as free only when the working-hours policy covers it completely.
func Aggregate(in AggregateInput) map[uuid.UUID]BusySet {
	policy := make(map[uuid.UUID]DayPolicy, len(in.Candidates))
	out := make(map[uuid.UUID]BusySet, len(in.Candidates))
	for _, c := range in.Candidates {
		day := c.Hours.ForDay(in.Day.Weekday())
		policy[c.ID] = day
		busy := BusySet{}
		for t := TimeOfDay(0); t < MinutesPerDay; t += bucketMinutes {
			if !day.Covers(t, t+bucketMinutes) {
				busy[t] = struct{}{}
			}
		}
		out[c.ID] = busy
	}

	for _, appt := range in.Appointments {
		busy, ok := out[appt.ProfessionalID]
		if !ok {
			continue
		}
		if from, to, ok := clipToDay(in.Day, appt.Start, appt.End); ok {
			busy.MarkRange(from, to)
		}
	}

	for _, block := range in.Blocks {
		from, to, ok := clipToDay(in.Day, block.Start, block.End)
		if !ok {
			continue
		}
		if block.AllDay {
			from, to = 0, MinutesPerDay
		}
		if block.ProfessionalID == nil {
			for _, busy := range out {
				busy.MarkRange(from, to)
			}
			continue
		}
		if busy, found := out[*block.ProfessionalID]; found {
			busy.MarkRange(from, to)
		}
	}
	return out
}

// clipToDay projects [start, end) onto the calendar day as wall-clock minutes.
func clipToDay(day, start, end time.Time) (TimeOfDay, TimeOfDay, bool) {
	dayStart := StartOfDay(day)
	dayEnd := dayStart.AddDate(0, 0, 1)
	if !start.Before(dayEnd) || !end.After(dayStart) {
		return 0, 0, false
	}
	loc := day.Location()
	from, to := TimeOfDay(0), TimeOfDay(MinutesPerDay)
	if start.After(dayStart) {
		from = TimeOfDayOf(start.In(loc))
	}
	if end.Before(dayEnd) {
		to = TimeOfDayOf(end.In(loc))
		if end.In(loc).Second() > 0 {
			to++
		}
	}
	if from >= to {
		return 0, 0, false
	}
	return from, to, true
}
