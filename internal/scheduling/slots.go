package scheduling

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Preference narrows slot generation to part of the day.
type Preference string

const (
	PreferenceAny       Preference = ""
	PreferenceMorning   Preference = "morning"
	PreferenceAfternoon Preference = "afternoon"
)

// afternoonStart splits morning from afternoon.
var afternoonStart = At(13, 0)

// ParsePreference accepts "", "any", "morning" and "afternoon".
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return PreferenceAny, nil
	case "morning":
		return PreferenceMorning, nil
	case "afternoon":
		return PreferenceAfternoon, nil
	default:
		return PreferenceAny, fmt.Errorf("scheduling: unknown preference %q", s)
	}
}

// SlotQuery parameterizes GenerateSlots.
type SlotQuery struct {
	// Day carries the calendar date and the clinic location.
	Day         time.Time
	Busy        map[uuid.UUID]BusySet
	WindowStart TimeOfDay
	WindowEnd   TimeOfDay
	Step        time.Duration
	Duration    time.Duration
	// Limit caps the result. Zero or negative means no cap.
	Limit       int
	Preference  Preference
	// MiddayBreak is skipped when no preference is given. Nil disables it.
	MiddayBreak *Interval
	Now         time.Time
}

// GenerateSlots walks the window in Step increments and returns, in order, every
// start at which at least one professional is free for the whole duration.
func GenerateSlots(q SlotQuery) []TimeOfDay {
	step := q.Step
	if step <= 0 {
		step = BucketSize
	}
	if q.Duration <= 0 {
		return nil
	}
	ids := sortedIDs(q.Busy)

	var out []TimeOfDay
	for t := q.WindowStart; t.Add(q.Duration) <= q.WindowEnd; t = t.Add(step) {
		if !q.Now.IsZero() && !t.On(q.Day).After(q.Now) {
			continue
		}
		switch q.Preference {
		case PreferenceMorning:
			if t >= afternoonStart {
				continue
			}
		case PreferenceAfternoon:
			if t < afternoonStart {
				continue
			}
		default:
			if q.MiddayBreak != nil && q.MiddayBreak.Overlaps(t, t.Add(q.Duration)) {
				continue
			}
		}
		if len(FreeProfessionals(q.Busy, ids, t, q.Duration)) == 0 {
			continue
		}
		out = append(out, t)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// FreeProfessionals returns, in the given order, the professionals free for
// [start, start+d). A nil order means sorted by id.
func FreeProfessionals(busy map[uuid.UUID]BusySet, order []uuid.UUID, start TimeOfDay, d time.Duration) []uuid.UUID {
	if order == nil {
		order = sortedIDs(busy)
	}
	var free []uuid.UUID
	for _, id := range order {
		set, ok := busy[id]
		if !ok {
			continue
		}
		if set.FreeFor(start, d) {
			free = append(free, id)
		}
	}
	return free
}

func sortedIDs(busy map[uuid.UUID]BusySet) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(busy))
	for id := range busy {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
