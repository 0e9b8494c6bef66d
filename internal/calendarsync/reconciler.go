// Package calendarsync keeps external calendar mirrors in line with
// appointments. It runs as an outbox consumer, so booking requests never wait
// on the provider and failed calls are retried with backoff.
package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduling-platform/internal/appointments"
	"github.com/wolfman30/clinic-scheduling-platform/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-platform/internal/events"
	"github.com/wolfman30/clinic-scheduling-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduling-platform/internal/professionals"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

var syncTracer = otel.Tracer("clinic.internal.calendarsync")

// AppointmentStore reads appointments and records mirror state.
type AppointmentStore interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*appointments.Appointment, error)
	UpdateSync(ctx context.Context, tenantID, id uuid.UUID, state appointments.SyncState) error
	RecordMirror(ctx context.Context, tenantID, id, professionalID uuid.UUID, startsAt time.Time, state appointments.SyncState) (bool, error)
}

// TenantResolver loads the tenant calendar mode.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (*tenancy.Tenant, error)
}

// ProfessionalDirectory finds the calendar a professional's mirrors go to.
type ProfessionalDirectory interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*professionals.Professional, error)
}

// Reconciler is an events.DeliveryHandler for appointment events.
type Reconciler struct {
	store   AppointmentStore
	tenants TenantResolver
	pros    ProfessionalDirectory
	client  calendar.Client
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
}

func NewReconciler(store AppointmentStore, tenants TenantResolver, pros ProfessionalDirectory, client calendar.Client, logger *logging.Logger, m *metrics.SchedulingMetrics) *Reconciler {
	if store == nil || tenants == nil || pros == nil {
		panic("calendarsync: store, tenants and professionals required")
	}
	if client == nil {
		client = calendar.NoopClient{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{store: store, tenants: tenants, pros: pros, client: client, logger: logger, metrics: m}
}

// EventTypes lists the outbox types the reconciler consumes.
func (r *Reconciler) EventTypes() []string {
	return []string{
		events.TypeAppointmentBooked,
		events.TypeAppointmentRescheduled,
		events.TypeAppointmentCancelled,
		events.TypeAppointmentDeleted,
	}
}

// Handle implements events.DeliveryHandler. A returned error makes the
// deliverer retry; permanent conditions are recorded and acknowledged.
func (r *Reconciler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	ctx, span := syncTracer.Start(ctx, "calendarsync.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.tenant_id", entry.TenantID.String()),
		attribute.String("clinic.event_type", entry.EventType),
	)

	var err error
	switch entry.EventType {
	case events.TypeAppointmentBooked:
		var evt events.AppointmentBookedV1
		if err = entry.Decode(&evt); err == nil {
			err = r.mirror(ctx, evt.TenantID, evt.AppointmentID)
		}
	case events.TypeAppointmentRescheduled:
		var evt events.AppointmentRescheduledV1
		if err = entry.Decode(&evt); err == nil {
			err = r.mirror(ctx, evt.TenantID, evt.AppointmentID)
		}
	case events.TypeAppointmentCancelled:
		var evt events.AppointmentCancelledV1
		if err = entry.Decode(&evt); err == nil {
			err = r.removeCancelled(ctx, evt)
		}
	case events.TypeAppointmentDeleted:
		var evt events.AppointmentDeletedV1
		if err = entry.Decode(&evt); err == nil {
			err = r.remove(ctx, evt.AppointmentID, evt.ExternalCalendarID, evt.ExternalEventID)
		}
	default:
		return nil
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// mirror makes the external calendar hold exactly one event for the
// appointment at its current time. A pending row that still carries an event
// id was moved, so the stale mirror is removed first.
func (r *Reconciler) mirror(ctx context.Context, tenantID, id uuid.UUID) error {
	appt, err := r.load(ctx, tenantID, id)
	if err != nil || appt == nil {
		return err
	}
	if !appt.Status.Movable() || appt.SyncStatus == appointments.SyncSynced {
		return nil
	}
	tenant, err := r.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("calendarsync: resolve tenant: %w", err)
	}
	if !tenant.UsesExternalCalendar() {
		// keep any earlier mirror reference so a later cancel or delete can still remove it
		return r.record(ctx, appt, appointments.SyncState{
			Status:     appointments.SyncSkipped,
			EventID:    appt.ExternalEventID,
			CalendarID: appt.ExternalCalendarID,
		})
	}

	if appt.ExternalEventID != "" {
		if err := r.remove(ctx, appt.ID, appt.ExternalCalendarID, appt.ExternalEventID); err != nil {
			return err
		}
		if err := r.record(ctx, appt, appointments.SyncState{Status: appointments.SyncPending}); err != nil {
			return err
		}
	}

	pro, err := r.pros.Get(ctx, tenantID, appt.ProfessionalID)
	if err != nil {
		var notFound *scheduling.NotFoundError
		if errors.As(err, &notFound) {
			return r.record(ctx, appt, appointments.SyncState{Status: appointments.SyncSkipped})
		}
		return fmt.Errorf("calendarsync: load professional: %w", err)
	}
	if pro.CalendarID == "" {
		return r.record(ctx, appt, appointments.SyncState{Status: appointments.SyncSkipped})
	}

	eventID, err := r.client.CreateEvent(ctx, pro.CalendarID, calendar.EventInput{
		AppointmentID: appt.ID.String(),
		Summary:       summary(appt, pro),
		Description:   fmt.Sprintf("Appointment %s (%s)", appt.ID, appt.Source),
		Start:         appt.StartsAt,
		End:           appt.EndsAt,
		TimeZone:      tenant.Timezone,
	})
	r.metrics.ObserveCalendarSync("create_event", err == nil)
	if err != nil {
		r.logger.Warn("calendar mirror create failed", "tenant_id", tenantID, "appointment_id", appt.ID,
			"error", &scheduling.ExternalSyncWarning{Op: "create_event", AppointmentID: appt.ID, Err: err})
		if recErr := r.record(ctx, appt, appointments.SyncState{Status: appointments.SyncFailed}); recErr != nil {
			return recErr
		}
		if errors.Is(err, calendar.ErrNotConfigured) {
			return nil
		}
		return fmt.Errorf("calendarsync: create event: %w", err)
	}
	state := appointments.SyncState{Status: appointments.SyncSynced, EventID: eventID, CalendarID: pro.CalendarID}
	live, err := r.store.RecordMirror(ctx, appt.TenantID, appt.ID, appt.ProfessionalID, appt.StartsAt, state)
	if err != nil {
		// the retry creates a fresh mirror, so this one must not outlive the failure
		if rmErr := r.remove(ctx, appt.ID, pro.CalendarID, eventID); rmErr != nil {
			r.logger.Warn("orphaned calendar mirror", "appointment_id", appt.ID, "event_id", eventID, "error", rmErr)
		}
		return err
	}
	if !live {
		r.logger.Info("appointment changed while mirroring; removing new mirror", "tenant_id", tenantID, "appointment_id", appt.ID)
		return r.remove(ctx, appt.ID, pro.CalendarID, eventID)
	}
	appt.SyncStatus, appt.ExternalEventID, appt.ExternalCalendarID = state.Status, state.EventID, state.CalendarID
	return nil
}

// removeCancelled prefers the row's mirror reference, which may have been
// written after the cancel event was queued.
func (r *Reconciler) removeCancelled(ctx context.Context, evt events.AppointmentCancelledV1) error {
	calendarID, eventID := evt.ExternalCalendarID, evt.ExternalEventID
	appt, err := r.load(ctx, evt.TenantID, evt.AppointmentID)
	if err != nil {
		return err
	}
	if appt != nil && appt.ExternalEventID != "" {
		calendarID, eventID = appt.ExternalCalendarID, appt.ExternalEventID
	}
	if eventID == "" {
		return nil
	}
	if err := r.remove(ctx, evt.AppointmentID, calendarID, eventID); err != nil {
		return err
	}
	if appt == nil {
		return nil
	}
	return r.record(ctx, appt, appointments.SyncState{Status: appointments.SyncRemoved})
}

func (r *Reconciler) remove(ctx context.Context, appointmentID uuid.UUID, calendarID, eventID string) error {
	if eventID == "" || calendarID == "" {
		return nil
	}
	err := r.client.DeleteEvent(ctx, calendarID, eventID)
	r.metrics.ObserveCalendarSync("delete_event", err == nil)
	if err == nil {
		return nil
	}
	r.logger.Warn("calendar mirror delete failed", "appointment_id", appointmentID, "calendar_id", calendarID,
		"error", &scheduling.ExternalSyncWarning{Op: "delete_event", AppointmentID: appointmentID, Err: err})
	if errors.Is(err, calendar.ErrNotConfigured) {
		return nil
	}
	return fmt.Errorf("calendarsync: delete event: %w", err)
}

// load returns nil without error when the appointment no longer exists.
func (r *Reconciler) load(ctx context.Context, tenantID, id uuid.UUID) (*appointments.Appointment, error) {
	appt, err := r.store.Get(ctx, tenantID, id)
	if err == nil {
		return appt, nil
	}
	var notFound *scheduling.NotFoundError
	if errors.As(err, &notFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("calendarsync: load appointment: %w", err)
}

func (r *Reconciler) record(ctx context.Context, appt *appointments.Appointment, state appointments.SyncState) error {
	if err := r.store.UpdateSync(ctx, appt.TenantID, appt.ID, state); err != nil {
		return err
	}
	appt.SyncStatus = state.Status
	appt.ExternalEventID = state.EventID
	appt.ExternalCalendarID = state.CalendarID
	return nil
}

func summary(appt *appointments.Appointment, pro *professionals.Professional) string {
	if appt.TreatmentCode != "" {
		return fmt.Sprintf("%s - %s", appt.TreatmentCode, pro.FullName())
	}
	return "Appointment - " + pro.FullName()
}
