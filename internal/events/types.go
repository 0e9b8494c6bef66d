package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeAppointmentBooked        = "appointment.booked.v1"
	TypeAppointmentCancelled     = "appointment.cancelled.v1"
	TypeAppointmentRescheduled   = "appointment.rescheduled.v1"
	TypeAppointmentDeleted       = "appointment.deleted.v1"
	TypeAppointmentStatusChanged = "appointment.status_changed.v1"
)

// AppointmentAggregate names the outbox aggregate for an appointment.
func AppointmentAggregate(id uuid.UUID) string {
	return "appointment:" + id.String()
}

type AppointmentBookedV1 struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	ProfessionalID uuid.UUID `json:"professional_id"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	Treatment      string    `json:"treatment"`
	Source         string    `json:"source"`
}

func (AppointmentBookedV1) EventType() string { return TypeAppointmentBooked }

type AppointmentCancelledV1 struct {
	AppointmentID      uuid.UUID `json:"appointment_id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	ProfessionalID     uuid.UUID `json:"professional_id"`
	StartsAt           time.Time `json:"starts_at"`
	ExternalEventID    string    `json:"external_event_id,omitempty"`
	ExternalCalendarID string    `json:"external_calendar_id,omitempty"`
	CancelledAt        time.Time `json:"cancelled_at"`
}

func (AppointmentCancelledV1) EventType() string { return TypeAppointmentCancelled }

type AppointmentRescheduledV1 struct {
	AppointmentID          uuid.UUID `json:"appointment_id"`
	TenantID               uuid.UUID `json:"tenant_id"`
	PreviousProfessionalID uuid.UUID `json:"previous_professional_id"`
	ProfessionalID         uuid.UUID `json:"professional_id"`
	PreviousStartsAt       time.Time `json:"previous_starts_at"`
	StartsAt               time.Time `json:"starts_at"`
	EndsAt                 time.Time `json:"ends_at"`
}

func (AppointmentRescheduledV1) EventType() string { return TypeAppointmentRescheduled }

// AppointmentDeletedV1 carries the mirror reference because the row is gone
// by the time the event is delivered.
type AppointmentDeletedV1 struct {
	AppointmentID      uuid.UUID `json:"appointment_id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	ExternalEventID    string    `json:"external_event_id,omitempty"`
	ExternalCalendarID string    `json:"external_calendar_id,omitempty"`
	DeletedAt          time.Time `json:"deleted_at"`
}

func (AppointmentDeletedV1) EventType() string { return TypeAppointmentDeleted }

type AppointmentStatusChangedV1 struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	ChangedAt     time.Time `json:"changed_at"`
}

func (AppointmentStatusChangedV1) EventType() string { return TypeAppointmentStatusChanged }
