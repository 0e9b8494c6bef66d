package handlers

import (
	"fmt"
	"strings"
	"time"
)

// parseDay accepts YYYY-MM-DD, DD/MM/YYYY and the relative words callers
// type in chat. The result is local midnight in loc.
func parseDay(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	today := now.In(loc)
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "today", "hoy":
		return today, nil
	case "tomorrow", "mañana", "manana":
		return today.AddDate(0, 0, 1), nil
	case "day after tomorrow", "pasado mañana", "pasado manana":
		return today.AddDate(0, 0, 2), nil
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006", "2/1/2006"} {
		if d, err := time.ParseInLocation(layout, strings.TrimSpace(raw), loc); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// parseStart reads an RFC 3339 start, or a local date plus HH:MM.
func parseStart(start, date, clock string, now time.Time, loc *time.Location) (time.Time, error) {
	if s := strings.TrimSpace(start); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("start must be RFC 3339: %w", err)
		}
		return t.In(loc), nil
	}
	if strings.TrimSpace(clock) == "" {
		return time.Time{}, fmt.Errorf("start or time is required")
	}
	day, err := parseDay(date, now, loc)
	if err != nil {
		return time.Time{}, err
	}
	hm, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("time must be HH:MM")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), 0, 0, loc), nil
}
