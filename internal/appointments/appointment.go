// Package appointments books, moves and cancels appointments without
// double-booking a professional.
package appointments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/treatments"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

// ParseStatus validates a status string.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return s, nil
	default:
		return "", fmt.Errorf("appointments: unknown status %q", raw)
	}
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Occupies reports whether an appointment in this status holds its time.
func (s Status) Occupies() bool {
	return s != StatusCancelled
}

// Movable reports whether the appointment can still be rescheduled.
func (s Status) Movable() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Source tags who created the appointment.
type Source string

const (
	SourceAI     Source = "ai"
	SourceManual Source = "manual"
)

// ParseSource accepts ai and manual. Empty means manual.
func ParseSource(raw string) (Source, error) {
	switch s := Source(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return SourceManual, nil
	case SourceAI, SourceManual:
		return s, nil
	default:
		return "", fmt.Errorf("appointments: unknown source %q", raw)
	}
}

// SyncStatus tracks the external calendar mirror.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
	SyncRemoved SyncStatus = "removed"
	SyncSkipped SyncStatus = "skipped"
)

// Appointment is one booked visit.
type Appointment struct {
	ID                 uuid.UUID          `json:"id"`
	TenantID           uuid.UUID          `json:"tenant_id"`
	PatientID          uuid.UUID          `json:"patient_id"`
	ProfessionalID     uuid.UUID          `json:"professional_id"`
	TreatmentCode      string             `json:"treatment_code"`
	StartsAt           time.Time          `json:"starts_at"`
	EndsAt             time.Time          `json:"ends_at"`
	DurationMinutes    int                `json:"duration_minutes"`
	Status             Status             `json:"status"`
	Source             Source             `json:"source"`
	Urgency            treatments.Urgency `json:"urgency"`
	Notes              string             `json:"notes,omitempty"`
	ExternalEventID    string             `json:"external_event_id,omitempty"`
	ExternalCalendarID string             `json:"external_calendar_id,omitempty"`
	SyncStatus         SyncStatus         `json:"sync_status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Duration returns the booked length.
func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// Patch is the set of fields an update may change. Nil fields are kept.
type Patch struct {
	Status  *Status             `json:"status,omitempty"`
	Notes   *string             `json:"notes,omitempty"`
	Urgency *treatments.Urgency `json:"urgency,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.Notes == nil && p.Urgency == nil
}

// SyncState is what the calendar reconciler writes back.
type SyncState struct {
	Status     SyncStatus
	EventID    string
	CalendarID string
}

// ListFilter narrows List. Zero values mean no constraint.
type ListFilter struct {
	From           time.Time
	To             time.Time
	ProfessionalID *uuid.UUID
	PatientID      *uuid.UUID
	Statuses       []Status
	Limit          int
}

var (
	// ErrOverlap is returned when the exclusion constraint rejects a write.
	ErrOverlap = errors.New("appointments: overlapping appointment")
	// ErrStaleStatus means the row changed status between read and write.
	ErrStaleStatus = errors.New("appointments: status changed concurrently")
)

// TransitionError rejects a status change the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("appointments: cannot move from %s to %s", e.From, e.To)
}
