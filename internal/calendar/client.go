// Package calendar talks to the external calendar provider and caches its
// busy blocks for availability.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned by NoopClient when no provider credentials exist.
var ErrNotConfigured = errors.New("calendar: external calendar not configured")

// Event is an external calendar entry reduced to what availability needs.
type Event struct {
	ID            string
	Summary       string
	Start         time.Time
	End           time.Time
	AllDay        bool
	// AppointmentID is set on events this system created as appointment mirrors.
	AppointmentID string
}

// IsMirror reports whether the event mirrors one of our appointments. Mirrors
// never count as busy time; the appointment row already does.
func (e Event) IsMirror() bool {
	return e.AppointmentID != ""
}

// EventInput describes an event to mirror an appointment.
type EventInput struct {
	AppointmentID string
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	TimeZone      string
}

// Client is the external calendar collaborator.
type Client interface {
	// ListEvents returns busy events overlapping [from, to). All-day dates are
	// interpreted in from's location.
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, calendarID string, in EventInput) (string, error)
	// DeleteEvent treats an already missing event as success.
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// NoopClient stands in when no credentials are configured.
type NoopClient struct{}

func (NoopClient) ListEvents(context.Context, string, time.Time, time.Time) ([]Event, error) {
	return nil, ErrNotConfigured
}

func (NoopClient) CreateEvent(context.Context, string, EventInput) (string, error) {
	return "", ErrNotConfigured
}

func (NoopClient) DeleteEvent(context.Context, string, string) error {
	return ErrNotConfigured
}
