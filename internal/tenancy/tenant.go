package tenancy

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
)

// CalendarProvider decides whether external calendar busy blocks count and
// whether bookings are mirrored out.
type CalendarProvider string

const (
	ProviderLocal    CalendarProvider = "local"
	ProviderExternal CalendarProvider = "external"
)

// ParseCalendarProvider accepts local, external and google (alias of external).
// An empty value means local.
func ParseCalendarProvider(raw string) (CalendarProvider, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "local":
		return ProviderLocal, nil
	case "external", "google":
		return ProviderExternal, nil
	default:
		return "", fmt.Errorf("tenancy: unknown calendar provider %q", raw)
	}
}

// Tenant is one clinic and the settings the scheduling engine reads per request.
type Tenant struct {
	ID                uuid.UUID            `json:"id"`
	Name              string               `json:"name"`
	CalendarProvider  CalendarProvider     `json:"calendar_provider"`
	Timezone          string               `json:"timezone"`
	GlobalCalendarID  string               `json:"global_calendar_id,omitempty"`
	NotificationEmail string               `json:"notification_email,omitempty"`
	MiddayBreak       *scheduling.Interval `json:"midday_break,omitempty"`
}

// UsesExternalCalendar reports whether external busy blocks and mirroring apply.
func (t *Tenant) UsesExternalCalendar() bool {
	return t != nil && t.CalendarProvider == ProviderExternal
}

// Location loads the tenant timezone, falling back to UTC when unknown.
func (t *Tenant) Location() *time.Location {
	if t == nil || t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
