package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CollisionError means no candidate professional is free for the requested span.
type CollisionError struct {
	Start time.Time
	End   time.Time
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("scheduling: no professional available %s-%s",
		e.Start.Format("2006-01-02 15:04"), e.End.Format("15:04"))
}

// PolicyError means the request falls outside working hours or the bookable window.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return "scheduling: " + e.Reason
}

// MissingPatientDataError lists identity fields a first-time patient still owes.
type MissingPatientDataError struct {
	Missing []string
}

func (e *MissingPatientDataError) Error() string {
	return "scheduling: missing patient data: " + strings.Join(e.Missing, ", ")
}

// NotFoundError names the tenant-scoped entity that could not be found.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("scheduling: %s not found", e.Kind)
	}
	return fmt.Sprintf("scheduling: %s %s not found", e.Kind, e.ID)
}

// ExternalSyncWarning wraps a failed external calendar call. It is logged and
// never fails the operation that triggered it.
type ExternalSyncWarning struct {
	Op            string
	AppointmentID uuid.UUID
	Err           error
}

func (e *ExternalSyncWarning) Error() string {
	return fmt.Sprintf("scheduling: external calendar %s for appointment %s: %v", e.Op, e.AppointmentID, e.Err)
}

func (e *ExternalSyncWarning) Unwrap() error { return e.Err }
