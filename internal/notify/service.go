package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/events"
	"github.com/wolfman30/clinic-scheduling-platform/internal/patients"
	"github.com/wolfman30/clinic-scheduling-platform/internal/professionals"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// Consumer is the processed_events key for appointment emails.
const Consumer = "notify.appointment_email"

// TenantResolver finds the clinic notification address.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (*tenancy.Tenant, error)
}

// PatientReader loads the patient named in an event.
type PatientReader interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*patients.Patient, error)
}

// ProfessionalReader loads the professional named in an event.
type ProfessionalReader interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*professionals.Professional, error)
}

// ProcessedTracker remembers which events were already emailed.
type ProcessedTracker interface {
	AlreadyProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
}

// AppointmentNotifier emails the clinic front desk when appointments are
// booked, moved or cancelled. It is an outbox consumer.
type AppointmentNotifier struct {
	email     EmailSender
	tenants   TenantResolver
	patients  PatientReader
	pros      ProfessionalReader
	processed ProcessedTracker
	logger    *logging.Logger
}

// NewAppointmentNotifier creates the notifier. patients, pros and processed
// may be nil; emails then carry ids instead of names and are not deduplicated.
func NewAppointmentNotifier(email EmailSender, tenants TenantResolver, patientReader PatientReader, pros ProfessionalReader, processed ProcessedTracker, logger *logging.Logger) *AppointmentNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentNotifier{
		email:     email,
		tenants:   tenants,
		patients:  patientReader,
		pros:      pros,
		processed: processed,
		logger:    logger,
	}
}

// EventTypes lists the outbox types that trigger an email.
func (n *AppointmentNotifier) EventTypes() []string {
	return []string{events.TypeAppointmentBooked, events.TypeAppointmentRescheduled, events.TypeAppointmentCancelled}
}

type notice struct {
	tenantID       uuid.UUID
	appointmentID  uuid.UUID
	patientID      uuid.UUID
	professionalID uuid.UUID
	headline       string
	startsAt       time.Time
	previous       time.Time
	treatment      string
	source         string
}

// Handle implements events.DeliveryHandler.
func (n *AppointmentNotifier) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if n.email == nil || n.tenants == nil {
		return nil
	}
	env, err := entry.Envelope()
	if err != nil {
		return err
	}
	if n.processed != nil {
		done, err := n.processed.AlreadyProcessed(ctx, Consumer, env.EventID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	var msg notice
	switch entry.EventType {
	case events.TypeAppointmentBooked:
		var evt events.AppointmentBookedV1
		if err := entry.Decode(&evt); err != nil {
			return err
		}
		msg = notice{tenantID: evt.TenantID, appointmentID: evt.AppointmentID, patientID: evt.PatientID, professionalID: evt.ProfessionalID,
			headline: "New appointment", startsAt: evt.StartsAt, treatment: evt.Treatment, source: evt.Source}
	case events.TypeAppointmentRescheduled:
		var evt events.AppointmentRescheduledV1
		if err := entry.Decode(&evt); err != nil {
			return err
		}
		msg = notice{tenantID: evt.TenantID, appointmentID: evt.AppointmentID, professionalID: evt.ProfessionalID,
			headline: "Appointment rescheduled", startsAt: evt.StartsAt, previous: evt.PreviousStartsAt}
	case events.TypeAppointmentCancelled:
		var evt events.AppointmentCancelledV1
		if err := entry.Decode(&evt); err != nil {
			return err
		}
		msg = notice{tenantID: evt.TenantID, appointmentID: evt.AppointmentID, professionalID: evt.ProfessionalID,
			headline: "Appointment cancelled", startsAt: evt.StartsAt}
	default:
		return nil
	}

	if err := n.send(ctx, msg, entry.EventType); err != nil {
		if !errors.Is(err, ErrRejected) {
			return err
		}
		n.logger.Warn("notify: appointment email rejected; not retrying", "event_id", env.EventID, "error", err)
	}
	if n.processed != nil {
		if _, err := n.processed.MarkProcessed(ctx, Consumer, env.EventID); err != nil {
			n.logger.Warn("notify: mark processed failed", "event_id", env.EventID, "error", err)
		}
	}
	return nil
}

func (n *AppointmentNotifier) send(ctx context.Context, msg notice, category string) error {
	tenant, err := n.tenants.Resolve(ctx, msg.tenantID)
	if err != nil {
		var notFound *scheduling.NotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("notify: resolve tenant: %w", err)
	}
	if strings.TrimSpace(tenant.NotificationEmail) == "" {
		n.logger.Debug("notify: no notification email configured", "tenant_id", tenant.ID)
		return nil
	}
	loc := tenant.Location()

	rows := [][2]string{
		{"When", msg.startsAt.In(loc).Format("Monday 02/01/2006 15:04")},
	}
	if !msg.previous.IsZero() {
		rows = append(rows, [2]string{"Previously", msg.previous.In(loc).Format("Monday 02/01/2006 15:04")})
	}
	if name := n.professionalName(ctx, msg); name != "" {
		rows = append(rows, [2]string{"Professional", name})
	}
	if p := n.patient(ctx, msg); p != nil {
		rows = append(rows, [2]string{"Patient", p.FullName()}, [2]string{"Phone", p.Phone})
	}
	if msg.treatment != "" {
		rows = append(rows, [2]string{"Treatment", msg.treatment})
	}
	if msg.source != "" {
		rows = append(rows, [2]string{"Booked by", sourceLabel(msg.source)})
	}
	ref := msg.appointmentID.String()[:8]
	rows = append(rows, [2]string{"Reference", ref})

	var text, table strings.Builder
	fmt.Fprintf(&text, "%s at %s\n\n", msg.headline, tenant.Name)
	for _, row := range rows {
		fmt.Fprintf(&text, "%s: %s\n", row[0], row[1])
		fmt.Fprintf(&table, `<tr><td style="padding: 6px 12px 6px 0;"><strong>%s</strong></td><td>%s</td></tr>`,
			html.EscapeString(row[0]), html.EscapeString(row[1]))
	}
	body := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;"><h2>%s</h2><table>%s</table></div>`,
		html.EscapeString(msg.headline), table.String())

	err = n.email.Send(ctx, EmailMessage{
		To:        tenant.NotificationEmail,
		ToName:    tenant.Name,
		Subject:   fmt.Sprintf("%s - %s", msg.headline, msg.startsAt.In(loc).Format("02/01 15:04")),
		Body:      text.String(),
		HTML:      body,
		Category:  category,
		Reference: ref,
	})
	if err != nil {
		n.logger.Error("notify: appointment email failed", "tenant_id", tenant.ID, "appointment_id", msg.appointmentID, "error", err)
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}

func (n *AppointmentNotifier) patient(ctx context.Context, msg notice) *patients.Patient {
	if n.patients == nil || msg.patientID == uuid.Nil {
		return nil
	}
	p, err := n.patients.Get(ctx, msg.tenantID, msg.patientID)
	if err != nil {
		n.logger.Warn("notify: patient lookup failed", "patient_id", msg.patientID, "error", err)
		return nil
	}
	return p
}

func (n *AppointmentNotifier) professionalName(ctx context.Context, msg notice) string {
	if n.pros == nil || msg.professionalID == uuid.Nil {
		return ""
	}
	p, err := n.pros.Get(ctx, msg.tenantID, msg.professionalID)
	if err != nil {
		n.logger.Warn("notify: professional lookup failed", "professional_id", msg.professionalID, "error", err)
		return ""
	}
	return p.FullName()
}

func sourceLabel(source string) string {
	switch source {
	case "ai":
		return "virtual assistant"
	case "manual":
		return "front desk"
	default:
		return source
	}
}
