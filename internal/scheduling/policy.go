package scheduling

import (
	"fmt"
	"sort"
	"time"
)

// DayPolicy describes when a professional works on one weekday.
type DayPolicy struct {
	Enabled bool       `json:"enabled"`
	Slots   []Interval `json:"slots"`
}

// IsOpen reports whether t is inside one of the day's working intervals.
func (p DayPolicy) IsOpen(t TimeOfDay) bool {
	if !p.Enabled {
		return false
	}
	for _, slot := range p.Slots {
		if slot.Contains(t) {
			return true
		}
	}
	return false
}

// IsOpen is the free-function form used by callers that only hold a policy value.
func IsOpen(t TimeOfDay, p DayPolicy) bool {
	return p.IsOpen(t)
}

// Covers reports whether every minute of [from, to) is working time.
// Back-to-back slots count as continuous.
func (p DayPolicy) Covers(from, to TimeOfDay) bool {
	if !p.Enabled || from >= to {
		return false
	}
	cur := from
	for cur < to {
		next := cur
		for _, slot := range p.Slots {
			if slot.Contains(cur) && slot.End > next {
				next = slot.End
			}
		}
		if next == cur {
			return false
		}
		cur = next
	}
	return true
}

// Validate rejects inverted and overlapping slots.
func (p DayPolicy) Validate() error {
	slots := append([]Interval(nil), p.Slots...)
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })
	for i, slot := range slots {
		if slot.Start < 0 || slot.End > MinutesPerDay {
			return fmt.Errorf("slot %s outside the day", slot)
		}
		if slot.Start >= slot.End {
			return fmt.Errorf("slot %s ends before it starts", slot)
		}
		if i > 0 && slots[i-1].End > slot.Start {
			return fmt.Errorf("slots %s and %s overlap", slots[i-1], slot)
		}
	}
	if p.Enabled && len(p.Slots) == 0 {
		return fmt.Errorf("enabled day has no slots")
	}
	return nil
}

// WorkingHours is a professional's weekly policy. The JSON shape matches the
// professionals.working_hours column.
type WorkingHours struct {
	Monday    DayPolicy `json:"monday"`
	Tuesday   DayPolicy `json:"tuesday"`
	Wednesday DayPolicy `json:"wednesday"`
	Thursday  DayPolicy `json:"thursday"`
	Friday    DayPolicy `json:"friday"`
	Saturday  DayPolicy `json:"saturday"`
	Sunday    DayPolicy `json:"sunday"`
}

// ForDay returns the policy for a weekday.
func (w WorkingHours) ForDay(day time.Weekday) DayPolicy {
	switch day {
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	default:
		return w.Sunday
	}
}

// Validate checks every weekday and names the first broken one.
func (w WorkingHours) Validate() error {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if err := w.ForDay(day).Validate(); err != nil {
			return &PolicyError{Reason: fmt.Sprintf("%s: %v", day, err)}
		}
	}
	return nil
}

// DefaultWorkingHours is Monday to Saturday 09:00-18:00 with Sunday off.
func DefaultWorkingHours() WorkingHours {
	day := func() DayPolicy {
		return DayPolicy{Enabled: true, Slots: []Interval{{Start: At(9, 0), End: At(18, 0)}}}
	}
	return WorkingHours{
		Monday:    day(),
		Tuesday:   day(),
		Wednesday: day(),
		Thursday:  day(),
		Friday:    day(),
		Saturday:  day(),
		Sunday:    DayPolicy{Enabled: false, Slots: []Interval{}},
	}
}
