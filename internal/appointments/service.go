package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduling-platform/internal/agenda"
	"github.com/wolfman30/clinic-scheduling-platform/internal/audit"
	"github.com/wolfman30/clinic-scheduling-platform/internal/calendar"
	"github.com/wolfman30/clinic-scheduling-platform/internal/events"
	"github.com/wolfman30/clinic-scheduling-platform/internal/locking"
	"github.com/wolfman30/clinic-scheduling-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduling-platform/internal/patients"
	"github.com/wolfman30/clinic-scheduling-platform/internal/professionals"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/internal/treatments"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

var appointmentsTracer = otel.Tracer("clinic.internal.appointments")

// Store is the persistence the service needs.
type Store interface {
	ListOccupying(ctx context.Context, tenantID uuid.UUID, professionalIDs []uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]Appointment, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Appointment, error)
	Insert(ctx context.Context, appt *Appointment, evts ...events.CanonicalEvent) error
	Move(ctx context.Context, tenantID, id, professionalID uuid.UUID, start, end time.Time, evts ...events.CanonicalEvent) (*Appointment, error)
	ApplyPatch(ctx context.Context, tenantID, id uuid.UUID, expected Status, patch Patch, evts ...events.CanonicalEvent) (*Appointment, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID, evts ...events.CanonicalEvent) error
}

// TenantResolver loads per-tenant settings.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (*tenancy.Tenant, error)
}

// ProfessionalDirectory looks up booking candidates.
type ProfessionalDirectory interface {
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]professionals.Professional, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*professionals.Professional, error)
	FindByName(ctx context.Context, tenantID uuid.UUID, query string) ([]professionals.Professional, error)
}

// PatientResolver applies the identity gate.
type PatientResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, id patients.Identity) (*patients.Patient, error)
}

// TreatmentCatalog looks up bookable treatments.
type TreatmentCatalog interface {
	GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*treatments.TreatmentType, error)
}

// BlockSource returns the external busy blocks of a day.
type BlockSource interface {
	BlocksForDay(ctx context.Context, tenant *tenancy.Tenant, pros []professionals.Professional, day time.Time) ([]calendar.Block, error)
}

// AuditRecorder stores the change trail.
type AuditRecorder interface {
	RecordChange(ctx context.Context, tenantID uuid.UUID, action audit.Action, appointmentID, actor string, details audit.Details) error
}

// AgendaPublisher pushes live updates to dashboards.
type AgendaPublisher interface {
	Publish(tenantID uuid.UUID, evt agenda.Event)
}

// Settings are the tenant-independent scheduling knobs.
type Settings struct {
	WindowStart scheduling.TimeOfDay
	WindowEnd   scheduling.TimeOfDay
	Step        time.Duration
	SlotLimit   int
}

// DefaultSettings scans 08:00-20:00 in 30 minute steps.
func DefaultSettings() Settings {
	return Settings{
		WindowStart: scheduling.At(8, 0),
		WindowEnd:   scheduling.At(20, 0),
		Step:        30 * time.Minute,
		SlotLimit:   20,
	}
}

// Dependencies wires the service. Blocks, Locker, Audit, Agenda and Metrics
// are optional.
type Dependencies struct {
	Store         Store
	Tenants       TenantResolver
	Professionals ProfessionalDirectory
	Patients      PatientResolver
	Treatments    TreatmentCatalog
	Blocks        BlockSource
	Locker        locking.Locker
	Audit         AuditRecorder
	Agenda        AgendaPublisher
	Metrics       *metrics.SchedulingMetrics
	Logger        *logging.Logger
	Now           func() time.Time
}

// Service computes availability and commits bookings.
type Service struct {
	store    Store
	tenants  TenantResolver
	pros     ProfessionalDirectory
	patients PatientResolver
	catalog  TreatmentCatalog
	blocks   BlockSource
	locker   locking.Locker
	audit    AuditRecorder
	agenda   AgendaPublisher
	metrics  *metrics.SchedulingMetrics
	logger   *logging.Logger
	now      func() time.Time
	settings Settings
}

// NewService builds the service.
func NewService(deps Dependencies, settings Settings) *Service {
	if deps.Store == nil || deps.Tenants == nil || deps.Professionals == nil {
		panic("appointments: store, tenants and professionals required")
	}
	if deps.Locker == nil {
		deps.Locker = locking.NoopLocker{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if settings.Step <= 0 {
		settings.Step = scheduling.BucketSize
	}
	if settings.WindowEnd <= settings.WindowStart {
		d := DefaultSettings()
		settings.WindowStart, settings.WindowEnd = d.WindowStart, d.WindowEnd
	}
	return &Service{
		store:    deps.Store,
		tenants:  deps.Tenants,
		pros:     deps.Professionals,
		patients: deps.Patients,
		catalog:  deps.Treatments,
		blocks:   deps.Blocks,
		locker:   deps.Locker,
		audit:    deps.Audit,
		agenda:   deps.Agenda,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
		settings: settings,
	}
}

// ProfessionalSelector restricts candidates. Empty means any active professional.
type ProfessionalSelector struct {
	ID   *uuid.UUID `json:"professional_id,omitempty"`
	Name string     `json:"professional_name,omitempty"`
}

// IsZero reports whether no professional was requested.
func (s ProfessionalSelector) IsZero() bool {
	return s.ID == nil && strings.TrimSpace(s.Name) == ""
}

// AvailabilityRequest asks for the free starts of one day.
type AvailabilityRequest struct {
	Date          time.Time
	TreatmentCode string
	Duration      time.Duration
	Urgency       treatments.Urgency
	Professional  ProfessionalSelector
	Preference    scheduling.Preference
	Limit         int
}

// Slot is an offered start and who is free for it, in first-fit order.
type Slot struct {
	Start           time.Time   `json:"start"`
	Time            string      `json:"time"`
	ProfessionalIDs []uuid.UUID `json:"professional_ids"`
}

// Availability is the result of CheckAvailability.
type Availability struct {
	Date            string `json:"date"`
	Treatment       string `json:"treatment"`
	DurationMinutes int    `json:"duration_minutes"`
	Slots           []Slot `json:"slots"`
}

// CheckAvailability lists the starts on the requested day where at least one
// candidate professional is free for the whole treatment duration.
func (s *Service) CheckAvailability(ctx context.Context, tenantID uuid.UUID, req AvailabilityRequest) (*Availability, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.check_availability")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.tenant_id", tenantID.String()))
	began := time.Now()

	result, err := s.checkAvailability(ctx, tenantID, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.ObserveAvailability(time.Since(began).Seconds(), len(result.Slots))
	span.SetAttributes(attribute.Int("clinic.slots_offered", len(result.Slots)))
	return result, nil
}

func (s *Service) checkAvailability(ctx context.Context, tenantID uuid.UUID, req AvailabilityRequest) (*Availability, error) {
	tenant, err := s.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	day := dateIn(req.Date, tenant.Location())
	treatment, err := s.treatment(ctx, tenantID, req.TreatmentCode)
	if err != nil {
		return nil, err
	}
	duration := treatment.DurationFor(req.Urgency, req.Duration)
	pros, err := s.candidates(ctx, tenantID, req.Professional)
	if err != nil {
		return nil, err
	}
	busy, err := s.busyFor(ctx, tenant, pros, day, uuid.Nil)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.settings.SlotLimit
	}
	starts := scheduling.GenerateSlots(scheduling.SlotQuery{
		Day:         day,
		Busy:        busy,
		WindowStart: s.settings.WindowStart,
		WindowEnd:   s.settings.WindowEnd,
		Step:        s.settings.Step,
		Duration:    duration,
		Limit:       limit,
		Preference:  req.Preference,
		MiddayBreak: tenant.MiddayBreak,
		Now:         s.now(),
	})

	order := professionalIDs(pros)
	out := &Availability{
		Date:            day.Format("2006-01-02"),
		Treatment:       treatment.Code,
		DurationMinutes: int(duration / time.Minute),
		Slots:           make([]Slot, 0, len(starts)),
	}
	for _, t := range starts {
		out.Slots = append(out.Slots, Slot{
			Start:           t.On(day),
			Time:            t.String(),
			ProfessionalIDs: scheduling.FreeProfessionals(busy, order, t, duration),
		})
	}
	return out, nil
}

// BookRequest describes a booking.
type BookRequest struct {
	Patient       patients.Identity
	Professional  ProfessionalSelector
	Start         time.Time
	Duration      time.Duration
	TreatmentCode string
	Urgency       treatments.Urgency
	Source        Source
	Notes         string
	Actor         string
}

// Book commits an appointment at req.Start with the first candidate who is
// inside working hours and free. The exclusion constraint decides races; a
// candidate that loses one is skipped for the next.
func (s *Service) Book(ctx context.Context, tenantID uuid.UUID, req BookRequest) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.tenant_id", tenantID.String()))

	if req.Source == "" {
		req.Source = SourceManual
	}
	appt, err := s.book(ctx, tenantID, req)
	s.metrics.ObserveBooking(string(req.Source), bookingOutcome(err))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("clinic.appointment_id", appt.ID.String()))
	return appt, nil
}

func (s *Service) book(ctx context.Context, tenantID uuid.UUID, req BookRequest) (*Appointment, error) {
	tenant, err := s.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	treatment, err := s.treatment(ctx, tenantID, req.TreatmentCode)
	if err != nil {
		return nil, err
	}
	urgency := req.Urgency
	if urgency == "" {
		urgency = treatments.UrgencyNormal
	}
	duration := treatment.DurationFor(urgency, req.Duration)
	start := req.Start.In(tenant.Location()).Truncate(time.Minute)
	end := start.Add(duration)
	if err := s.checkBookable(start, end); err != nil {
		return nil, err
	}

	pros, err := s.candidates(ctx, tenantID, req.Professional)
	if err != nil {
		return nil, err
	}
	if s.patients == nil {
		return nil, errors.New("appointments: patient resolver not configured")
	}
	patient, err := s.patients.Resolve(ctx, tenantID, req.Patient)
	if err != nil {
		return nil, err
	}
	busy, err := s.busyFor(ctx, tenant, pros, start, uuid.Nil)
	if err != nil {
		return nil, err
	}

	var booked *Appointment
	_, err = s.firstFit(ctx, pros, busy, start, end, func(ctx context.Context, p professionals.Professional) error {
		appt := &Appointment{
			ID:              uuid.New(),
			TenantID:        tenantID,
			PatientID:       patient.ID,
			ProfessionalID:  p.ID,
			TreatmentCode:   treatment.Code,
			StartsAt:        start,
			EndsAt:          end,
			DurationMinutes: int(duration / time.Minute),
			Status:          StatusScheduled,
			Source:          req.Source,
			Urgency:         urgency,
			Notes:           strings.TrimSpace(req.Notes),
			SyncStatus:      initialSync(tenant, p),
		}
		if err := s.store.Insert(ctx, appt, events.AppointmentBookedV1{
			AppointmentID:  appt.ID,
			TenantID:       tenantID,
			PatientID:      patient.ID,
			ProfessionalID: p.ID,
			StartsAt:       start,
			EndsAt:         end,
			Treatment:      treatment.Code,
			Source:         string(req.Source),
		}); err != nil {
			return err
		}
		booked = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		"tenant_id", tenantID,
		"appointment_id", booked.ID,
		"professional_id", booked.ProfessionalID,
		"starts_at", booked.StartsAt,
		"source", booked.Source,
	)
	startsAt := booked.StartsAt
	s.record(ctx, tenantID, audit.ActionAppointmentBooked, booked.ID, req.Actor, audit.Details{
		ProfessionalID: booked.ProfessionalID.String(),
		StartsAt:       &startsAt,
		Source:         string(booked.Source),
	})
	s.publish(tenantID, agenda.EventNewAppointment, booked)
	return booked, nil
}

// RescheduleRequest moves an appointment. An empty Professional keeps the
// current one.
type RescheduleRequest struct {
	Start        time.Time
	Professional ProfessionalSelector
	Actor        string
}

// Reschedule moves a scheduled or confirmed appointment, checking collisions
// against everything except the appointment itself.
func (s *Service) Reschedule(ctx context.Context, tenantID, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.tenant_id", tenantID.String()),
		attribute.String("clinic.appointment_id", id.String()),
	)

	appt, err := s.reschedule(ctx, tenantID, id, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return appt, nil
}

func (s *Service) reschedule(ctx context.Context, tenantID, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	current, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Movable() {
		return nil, &scheduling.PolicyError{Reason: fmt.Sprintf("cannot reschedule a %s appointment", current.Status)}
	}
	tenant, err := s.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	start := req.Start.In(tenant.Location()).Truncate(time.Minute)
	end := start.Add(current.Duration())
	if req.Professional.IsZero() && start.Equal(current.StartsAt) {
		return current, nil
	}
	if err := s.checkBookable(start, end); err != nil {
		return nil, err
	}

	selector := req.Professional
	if selector.IsZero() {
		selector = ProfessionalSelector{ID: &current.ProfessionalID}
	}
	pros, err := s.candidates(ctx, tenantID, selector)
	if err != nil {
		return nil, err
	}
	busy, err := s.busyFor(ctx, tenant, pros, start, current.ID)
	if err != nil {
		return nil, err
	}

	var moved *Appointment
	_, err = s.firstFit(ctx, pros, busy, start, end, func(ctx context.Context, p professionals.Professional) error {
		appt, err := s.store.Move(ctx, tenantID, id, p.ID, start, end, events.AppointmentRescheduledV1{
			AppointmentID:          id,
			TenantID:               tenantID,
			PreviousProfessionalID: current.ProfessionalID,
			ProfessionalID:         p.ID,
			PreviousStartsAt:       current.StartsAt,
			StartsAt:               start,
			EndsAt:                 end,
		})
		if err != nil {
			return err
		}
		moved = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment rescheduled",
		"tenant_id", tenantID,
		"appointment_id", id,
		"professional_id", moved.ProfessionalID,
		"previous_starts_at", current.StartsAt,
		"starts_at", moved.StartsAt,
	)
	prev, next := current.StartsAt, moved.StartsAt
	s.record(ctx, tenantID, audit.ActionAppointmentRescheduled, id, req.Actor, audit.Details{
		ProfessionalID:   moved.ProfessionalID.String(),
		PreviousStartsAt: &prev,
		StartsAt:         &next,
	})
	s.publish(tenantID, agenda.EventAppointmentUpdated, moved)
	return moved, nil
}

// Cancel moves the appointment to cancelled. Cancelling twice succeeds.
func (s *Service) Cancel(ctx context.Context, tenantID, id uuid.UUID, actor string) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.tenant_id", tenantID.String()),
		attribute.String("clinic.appointment_id", id.String()),
	)

	status := StatusCancelled
	appt, err := s.Update(ctx, tenantID, id, Patch{Status: &status}, actor)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return appt, nil
}

// UpdateStatus applies one lifecycle transition.
func (s *Service) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, to Status, actor string) (*Appointment, error) {
	return s.Update(ctx, tenantID, id, Patch{Status: &to}, actor)
}

// Update applies a typed patch. A status change must be a valid transition;
// setting the current status again is a no-op.
func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, patch Patch, actor string) (*Appointment, error) {
	current, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil && *patch.Status == current.Status {
		patch.Status = nil
	}
	if patch.Empty() {
		return current, nil
	}

	action := audit.ActionAppointmentUpdated
	agendaType := agenda.EventAppointmentUpdated
	details := audit.Details{}
	var evts []events.CanonicalEvent
	now := s.now().UTC()
	if patch.Status != nil {
		to := *patch.Status
		if !CanTransition(current.Status, to) {
			return nil, &TransitionError{From: current.Status, To: to}
		}
		details.From, details.To = string(current.Status), string(to)
		if to == StatusCancelled {
			action = audit.ActionAppointmentCancelled
			agendaType = agenda.EventAppointmentCancelled
			evts = append(evts, events.AppointmentCancelledV1{
				AppointmentID:      id,
				TenantID:           tenantID,
				ProfessionalID:     current.ProfessionalID,
				StartsAt:           current.StartsAt,
				ExternalEventID:    current.ExternalEventID,
				ExternalCalendarID: current.ExternalCalendarID,
				CancelledAt:        now,
			})
		} else {
			action = audit.ActionAppointmentStatusChanged
			evts = append(evts, events.AppointmentStatusChangedV1{
				AppointmentID: id,
				TenantID:      tenantID,
				From:          string(current.Status),
				To:            string(to),
				ChangedAt:     now,
			})
		}
	}

	updated, err := s.store.ApplyPatch(ctx, tenantID, id, current.Status, patch, evts...)
	if errors.Is(err, ErrStaleStatus) && patch.Status != nil {
		// lost a race; succeed if the winner already reached the target
		if latest, getErr := s.store.Get(ctx, tenantID, id); getErr == nil && latest.Status == *patch.Status {
			return latest, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment updated",
		"tenant_id", tenantID,
		"appointment_id", id,
		"status", updated.Status,
	)
	s.record(ctx, tenantID, action, id, actor, details)
	s.publish(tenantID, agendaType, updated)
	return updated, nil
}

// Delete removes the appointment for good. The mirror is removed
// asynchronously.
func (s *Service) Delete(ctx context.Context, tenantID, id uuid.UUID, actor string) error {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.tenant_id", tenantID.String()),
		attribute.String("clinic.appointment_id", id.String()),
	)

	current, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	err = s.store.Delete(ctx, tenantID, id, events.AppointmentDeletedV1{
		AppointmentID:      id,
		TenantID:           tenantID,
		ExternalEventID:    current.ExternalEventID,
		ExternalCalendarID: current.ExternalCalendarID,
		DeletedAt:          s.now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("appointment deleted", "tenant_id", tenantID, "appointment_id", id)
	s.record(ctx, tenantID, audit.ActionAppointmentDeleted, id, actor, audit.Details{From: string(current.Status)})
	s.publish(tenantID, agenda.EventAppointmentDeleted, current)
	return nil
}

// Get loads one appointment.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	return s.store.Get(ctx, tenantID, id)
}

// List returns appointments matching filter.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Appointment, error) {
	return s.store.List(ctx, tenantID, filter)
}

// checkBookable enforces the rules that hold regardless of professional:
// future start, one calendar day and inside the scan window.
func (s *Service) checkBookable(start, end time.Time) error {
	if !start.After(s.now()) {
		return &scheduling.PolicyError{Reason: "requested start is in the past"}
	}
	startTOD := scheduling.TimeOfDayOf(start)
	endTOD := scheduling.TimeOfDayOf(end)
	if !scheduling.SameDate(start, end) {
		if !end.Equal(scheduling.StartOfDay(start).AddDate(0, 0, 1)) {
			return &scheduling.PolicyError{Reason: "appointment must start and end on the same day"}
		}
		endTOD = scheduling.MinutesPerDay
	}
	if startTOD < s.settings.WindowStart || endTOD > s.settings.WindowEnd {
		return &scheduling.PolicyError{Reason: fmt.Sprintf("outside bookable hours %s-%s", s.settings.WindowStart, s.settings.WindowEnd)}
	}
	return nil
}

// firstFit walks pros in order and calls write for the first one whose
// policy covers [start, end) and who is free. Lost races and locks still held
// after the locker's bounded wait move on to the next candidate.
func (s *Service) firstFit(ctx context.Context, pros []professionals.Professional, busy map[uuid.UUID]scheduling.BusySet, start, end time.Time, write func(context.Context, professionals.Professional) error) (*professionals.Professional, error) {
	startTOD := scheduling.TimeOfDayOf(start)
	endTOD := startTOD.Add(end.Sub(start))
	covered := false
	for i := range pros {
		p := pros[i]
		if !p.WorkingHours.ForDay(start.Weekday()).Covers(startTOD, endTOD) {
			continue
		}
		covered = true
		if !busy[p.ID].FreeFor(startTOD, end.Sub(start)) {
			continue
		}

		var writeErr error
		err := s.locker.WithProfessionalDayLock(ctx, p.ID, start, func(ctx context.Context) error {
			writeErr = write(ctx, p)
			return writeErr
		})
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		if err != nil && writeErr == nil && !errors.Is(err, locking.ErrLockNotAcquired) {
			// lock backend down; the exclusion constraint still guards the write
			s.logger.Warn("booking lock unavailable", "professional_id", p.ID, "error", err)
			writeErr = write(ctx, p)
			err = writeErr
		}
		switch {
		case err == nil:
			return &p, nil
		case errors.Is(err, ErrOverlap):
			s.logger.Info("booking lost race, trying next professional", "professional_id", p.ID, "starts_at", start)
		case errors.Is(err, locking.ErrLockNotAcquired):
			s.metrics.ObserveLockContention()
			s.logger.Info("booking lock held, trying next professional", "professional_id", p.ID, "starts_at", start)
		default:
			return nil, err
		}
	}
	if !covered {
		return nil, &scheduling.PolicyError{Reason: "outside working hours"}
	}
	return nil, &scheduling.CollisionError{Start: start, End: end}
}

// busyFor aggregates the day's busy buckets for pros. exclude (may be
// uuid.Nil) is ignored as an occupant.
func (s *Service) busyFor(ctx context.Context, tenant *tenancy.Tenant, pros []professionals.Professional, day time.Time, exclude uuid.UUID) (map[uuid.UUID]scheduling.BusySet, error) {
	from := scheduling.StartOfDay(day)
	to := from.AddDate(0, 0, 1)
	ids := professionalIDs(pros)

	appts, err := s.store.ListOccupying(ctx, tenant.ID, ids, from, to, exclude)
	if err != nil {
		return nil, err
	}
	spans := make([]scheduling.Span, 0, len(appts))
	for _, a := range appts {
		spans = append(spans, scheduling.Span{ProfessionalID: a.ProfessionalID, Start: a.StartsAt, End: a.EndsAt})
	}

	var blocks []scheduling.Block
	if s.blocks != nil && tenant.UsesExternalCalendar() {
		cached, err := s.blocks.BlocksForDay(ctx, tenant, pros, from)
		if err != nil {
			s.logger.Warn("external blocks unavailable, computing without them",
				"tenant_id", tenant.ID, "error", &scheduling.ExternalSyncWarning{Op: "blocks_for_day", Err: err})
		}
		for _, b := range cached {
			blocks = append(blocks, b.Busy())
		}
	}

	candidates := make([]scheduling.Candidate, 0, len(pros))
	for _, p := range pros {
		candidates = append(candidates, p.Candidate())
	}
	return scheduling.Aggregate(scheduling.AggregateInput{
		Day:          from,
		Candidates:   candidates,
		Appointments: spans,
		Blocks:       blocks,
	}), nil
}

// candidates resolves the selector to active professionals in first-fit order.
func (s *Service) candidates(ctx context.Context, tenantID uuid.UUID, sel ProfessionalSelector) ([]professionals.Professional, error) {
	switch {
	case sel.ID != nil:
		p, err := s.pros.Get(ctx, tenantID, *sel.ID)
		if err != nil {
			return nil, err
		}
		if !p.Active {
			return nil, &scheduling.NotFoundError{Kind: "active professional", ID: sel.ID.String()}
		}
		return []professionals.Professional{*p}, nil
	case strings.TrimSpace(sel.Name) != "":
		matches, err := s.pros.FindByName(ctx, tenantID, sel.Name)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, &scheduling.NotFoundError{Kind: "professional", ID: sel.Name}
		}
		return matches, nil
	default:
		pros, err := s.pros.ListActive(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if len(pros) == 0 {
			return nil, &scheduling.NotFoundError{Kind: "active professional"}
		}
		return pros, nil
	}
}

func (s *Service) treatment(ctx context.Context, tenantID uuid.UUID, code string) (treatments.TreatmentType, error) {
	if strings.TrimSpace(code) == "" || s.catalog == nil {
		return treatments.Fallback(), nil
	}
	t, err := s.catalog.GetByCode(ctx, tenantID, code)
	if err != nil {
		return treatments.TreatmentType{}, err
	}
	return *t, nil
}

func (s *Service) record(ctx context.Context, tenantID uuid.UUID, action audit.Action, id uuid.UUID, actor string, details audit.Details) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordChange(ctx, tenantID, action, id.String(), actor, details); err != nil {
		s.logger.Warn("appointment audit failed", "tenant_id", tenantID, "appointment_id", id, "action", action, "error", err)
	}
}

func (s *Service) publish(tenantID uuid.UUID, typ agenda.EventType, appt *Appointment) {
	if s.agenda == nil {
		return
	}
	start, end := appt.StartsAt, appt.EndsAt
	s.agenda.Publish(tenantID, agenda.Event{
		Type:           typ,
		AppointmentID:  appt.ID,
		ProfessionalID: appt.ProfessionalID,
		PatientID:      appt.PatientID,
		StartsAt:       &start,
		EndsAt:         &end,
		Status:         string(appt.Status),
	})
}

func initialSync(tenant *tenancy.Tenant, p professionals.Professional) SyncStatus {
	if tenant.UsesExternalCalendar() && p.CalendarID != "" {
		return SyncPending
	}
	return SyncSkipped
}

func bookingOutcome(err error) string {
	var (
		collision *scheduling.CollisionError
		policy    *scheduling.PolicyError
		missing   *scheduling.MissingPatientDataError
		notFound  *scheduling.NotFoundError
	)
	switch {
	case err == nil:
		return metrics.OutcomeBooked
	case errors.As(err, &collision):
		return metrics.OutcomeCollision
	case errors.As(err, &policy):
		return metrics.OutcomePolicy
	case errors.As(err, &missing):
		return metrics.OutcomeMissingData
	case errors.As(err, &notFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}

func professionalIDs(pros []professionals.Professional) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(pros))
	for _, p := range pros {
		ids = append(ids, p.ID)
	}
	return ids
}

// dateIn reinterprets the calendar date of d as local midnight in loc.
func dateIn(d time.Time, loc *time.Location) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}
