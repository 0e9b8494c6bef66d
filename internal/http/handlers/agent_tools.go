package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/appointments"
	httpmiddleware "github.com/wolfman30/clinic-scheduling-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduling-platform/internal/patients"
	"github.com/wolfman30/clinic-scheduling-platform/internal/professionals"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/treatments"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// PatientFinder looks a patient up by phone for cancel and reschedule calls
// that do not carry an appointment id.
type PatientFinder interface {
	FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*patients.Patient, error)
}

// ProfessionalLookup names professionals in agent replies.
type ProfessionalLookup interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*professionals.Professional, error)
}

// AgentToolsHandler exposes the engine as tools for the conversational
// agent. Every reply carries structured fields plus a short patient-facing
// message.
type AgentToolsHandler struct {
	service  AppointmentService
	tenants  TenantResolver
	patients PatientFinder
	pros     ProfessionalLookup
	logger   *logging.Logger
	now      func() time.Time
}

// NewAgentToolsHandler creates the handler. patients and pros may be nil.
func NewAgentToolsHandler(service AppointmentService, tenants TenantResolver, finder PatientFinder, pros ProfessionalLookup, logger *logging.Logger) *AgentToolsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AgentToolsHandler{service: service, tenants: tenants, patients: finder, pros: pros, logger: logger, now: time.Now}
}

// Register mounts the tools on an authenticated agent router.
func (h *AgentToolsHandler) Register(r chi.Router) {
	r.Post("/check_availability", h.CheckAvailability)
	r.Post("/book_appointment", h.BookAppointment)
	r.Post("/cancel_appointment", h.CancelAppointment)
	r.Post("/reschedule_appointment", h.RescheduleAppointment)
	r.Post("/triage_urgency", h.TriageUrgency)
}

// toolFailure renders a failed tool call with a message the agent can relay.
func (h *AgentToolsHandler) toolFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("agent tool failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]any{
		"success":        false,
		"error":          body.Error,
		"code":           body.Code,
		"missing_fields": body.MissingFields,
		"message":        failureMessage(err, body),
	})
}

func failureMessage(err error, body errorBody) string {
	var policy *scheduling.PolicyError
	switch body.Code {
	case "collision":
		return "That time is no longer available. Would another time work for you?"
	case "policy":
		if errors.As(err, &policy) {
			return "That time cannot be booked: " + policy.Reason + "."
		}
		return "That time cannot be booked."
	case "missing_patient_data":
		return "To confirm the booking I still need your " + humanFields(body.MissingFields) + "."
	case "not_found":
		return "I could not find that. Could you check the details?"
	case "invalid_transition", "stale":
		return "That appointment can no longer be changed. Please contact the clinic."
	default:
		return "I could not complete that right now. Please try again or contact the clinic."
	}
}

func humanFields(fields []string) string {
	names := map[string]string{
		patients.FieldPhone:      "phone number",
		patients.FieldFirstName:  "first name",
		patients.FieldLastName:   "last name",
		patients.FieldDocumentID: "ID document number",
		patients.FieldInsurance:  "health insurance",
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n, ok := names[f]; ok {
			out = append(out, n)
			continue
		}
		out = append(out, f)
	}
	switch len(out) {
	case 0:
		return "details"
	case 1:
		return out[0]
	default:
		return strings.Join(out[:len(out)-1], ", ") + " and " + out[len(out)-1]
	}
}

// CheckAvailabilityTool is the check_availability input.
type CheckAvailabilityTool struct {
	Date             string `json:"date"`
	Treatment        string `json:"treatment,omitempty"`
	Urgency          string `json:"urgency,omitempty"`
	Preference       string `json:"preference,omitempty"`
	ProfessionalName string `json:"professional_name,omitempty"`
	DurationMinutes  int    `json:"duration_minutes,omitempty"`
}

// CheckAvailability handles POST /agent/tools/check_availability.
func (h *AgentToolsHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	var in CheckAvailabilityTool
	if !decodeJSON(w, r, &in) {
		return
	}
	tenant, err := h.tenants.Resolve(r.Context(), tenantID)
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	duration := ""
	if in.DurationMinutes > 0 {
		duration = fmt.Sprint(in.DurationMinutes)
	}
	req, msg := availabilityRequest(in.Date, in.Treatment, in.Urgency, in.Preference, "", in.ProfessionalName, duration, h.now(), tenant.Location())
	if msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}

	result, err := h.service.CheckAvailability(r.Context(), tenantID, req)
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	times := make([]string, 0, len(result.Slots))
	for _, s := range result.Slots {
		times = append(times, s.Time)
	}
	message := fmt.Sprintf("No availability on %s. Would another day work?", result.Date)
	if len(times) > 0 {
		message = fmt.Sprintf("Available on %s: %s (%d min each).", result.Date, strings.Join(times, ", "), result.DurationMinutes)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"available":        len(times) > 0,
		"date":             result.Date,
		"treatment":        result.Treatment,
		"duration_minutes": result.DurationMinutes,
		"slots":            result.Slots,
		"message":          message,
	})
}

// BookAppointmentTool is the book_appointment input. The patient identity
// fields are required for first-time patients.
type BookAppointmentTool struct {
	Phone            string `json:"phone"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	DocumentID       string `json:"document_id,omitempty"`
	Insurance        string `json:"insurance,omitempty"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Treatment        string `json:"treatment,omitempty"`
	Urgency          string `json:"urgency,omitempty"`
	ProfessionalName string `json:"professional_name,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// BookAppointment handles POST /agent/tools/book_appointment.
func (h *AgentToolsHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	var in BookAppointmentTool
	if !decodeJSON(w, r, &in) {
		return
	}
	tenant, err := h.tenants.Resolve(r.Context(), tenantID)
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	start, err := parseStart("", in.Date, in.Time, h.now(), tenant.Location())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	urgency, err := treatments.ParseUrgency(in.Urgency)
	if err != nil {
		jsonError(w, "invalid urgency", http.StatusBadRequest)
		return
	}

	appt, err := h.service.Book(r.Context(), tenantID, appointments.BookRequest{
		Patient: patients.Identity{
			Phone:      in.Phone,
			FirstName:  in.FirstName,
			LastName:   in.LastName,
			DocumentID: in.DocumentID,
			Insurance:  in.Insurance,
		},
		Professional:  appointments.ProfessionalSelector{Name: in.ProfessionalName},
		Start:         start,
		TreatmentCode: in.Treatment,
		Urgency:       urgency,
		Source:        appointments.SourceAI,
		Notes:         in.Notes,
		Actor:         agentActor(r),
	})
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	local := appt.StartsAt.In(tenant.Location())
	name := h.professionalName(r.Context(), tenantID, appt.ProfessionalID)
	message := fmt.Sprintf("Confirmed for %s at %s", local.Format("02/01/2006"), local.Format("15:04"))
	if name != "" {
		message += " with " + name
	}
	message += fmt.Sprintf(". Confirmation #%s.", appt.ID.String()[:8])
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":        true,
		"appointment_id": appt.ID,
		"professional":   name,
		"starts_at":      appt.StartsAt,
		"ends_at":        appt.EndsAt,
		"message":        message,
	})
}

// AppointmentRefTool identifies an appointment by id, or by the patient
// phone and optionally the day.
type AppointmentRefTool struct {
	AppointmentID string `json:"appointment_id,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Date          string `json:"date,omitempty"`
}

// CancelAppointment handles POST /agent/tools/cancel_appointment.
func (h *AgentToolsHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	var in AppointmentRefTool
	if !decodeJSON(w, r, &in) {
		return
	}
	tenant, err := h.tenants.Resolve(r.Context(), tenantID)
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	id, err := h.resolveAppointment(r.Context(), tenantID, in, tenant.Location())
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	appt, err := h.service.Cancel(r.Context(), tenantID, id, agentActor(r))
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	local := appt.StartsAt.In(tenant.Location())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"appointment_id": appt.ID,
		"status":         appt.Status,
		"message":        fmt.Sprintf("Your appointment on %s at %s was cancelled.", local.Format("02/01"), local.Format("15:04")),
	})
}

// RescheduleAppointmentTool is the reschedule_appointment input.
type RescheduleAppointmentTool struct {
	AppointmentRefTool
	NewDate          string `json:"new_date"`
	NewTime          string `json:"new_time"`
	ProfessionalName string `json:"professional_name,omitempty"`
}

// RescheduleAppointment handles POST /agent/tools/reschedule_appointment.
func (h *AgentToolsHandler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	var in RescheduleAppointmentTool
	if !decodeJSON(w, r, &in) {
		return
	}
	tenant, err := h.tenants.Resolve(r.Context(), tenantID)
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	start, err := parseStart("", in.NewDate, in.NewTime, h.now(), tenant.Location())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.resolveAppointment(r.Context(), tenantID, in.AppointmentRefTool, tenant.Location())
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	appt, err := h.service.Reschedule(r.Context(), tenantID, id, appointments.RescheduleRequest{
		Start:        start,
		Professional: appointments.ProfessionalSelector{Name: in.ProfessionalName},
		Actor:        agentActor(r),
	})
	if err != nil {
		h.toolFailure(w, r, err)
		return
	}
	local := appt.StartsAt.In(tenant.Location())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"appointment_id": appt.ID,
		"starts_at":      appt.StartsAt,
		"ends_at":        appt.EndsAt,
		"professional":   h.professionalName(r.Context(), tenantID, appt.ProfessionalID),
		"message":        fmt.Sprintf("Your appointment was moved to %s at %s.", local.Format("02/01/2006"), local.Format("15:04")),
	})
}

// TriageUrgencyTool is the triage_urgency input.
type TriageUrgencyTool struct {
	Symptoms string `json:"symptoms"`
}

// TriageUrgency handles POST /agent/tools/triage_urgency.
func (h *AgentToolsHandler) TriageUrgency(w http.ResponseWriter, r *http.Request) {
	if _, ok := tenantFromRequest(w, r); !ok {
		return
	}
	var in TriageUrgencyTool
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Symptoms) == "" {
		jsonError(w, "symptoms required", http.StatusBadRequest)
		return
	}
	triage := treatments.ClassifyUrgency(in.Symptoms)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"urgency_level":  triage.Level,
		"recommendation": triage.Recommendation,
		"message":        triage.Recommendation,
	})
}

// resolveAppointment finds the appointment the agent refers to. Without an
// id it takes the patient's next active appointment, on the given day when
// one is named.
func (h *AgentToolsHandler) resolveAppointment(ctx context.Context, tenantID uuid.UUID, ref AppointmentRefTool, loc *time.Location) (uuid.UUID, error) {
	if raw := strings.TrimSpace(ref.AppointmentID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, &scheduling.NotFoundError{Kind: "appointment", ID: raw}
		}
		return id, nil
	}
	if h.patients == nil || strings.TrimSpace(ref.Phone) == "" {
		return uuid.Nil, &scheduling.NotFoundError{Kind: "appointment"}
	}
	patient, err := h.patients.FindByPhone(ctx, tenantID, patients.NormalizePhone(ref.Phone))
	if err != nil {
		return uuid.Nil, err
	}
	if patient == nil {
		return uuid.Nil, &scheduling.NotFoundError{Kind: "patient", ID: ref.Phone}
	}
	filter := appointments.ListFilter{
		From:      h.now(),
		PatientID: &patient.ID,
		Statuses:  []appointments.Status{appointments.StatusScheduled, appointments.StatusConfirmed},
		Limit:     20,
	}
	if strings.TrimSpace(ref.Date) != "" {
		day, err := parseDay(ref.Date, h.now(), loc)
		if err != nil {
			return uuid.Nil, &scheduling.NotFoundError{Kind: "appointment", ID: ref.Date}
		}
		filter.From, filter.To = day, day.AddDate(0, 0, 1)
	}
	list, err := h.service.List(ctx, tenantID, filter)
	if err != nil {
		return uuid.Nil, err
	}
	if len(list) == 0 {
		return uuid.Nil, &scheduling.NotFoundError{Kind: "appointment"}
	}
	return list[0].ID, nil
}

func (h *AgentToolsHandler) professionalName(ctx context.Context, tenantID, id uuid.UUID) string {
	if h.pros == nil {
		return ""
	}
	p, err := h.pros.Get(ctx, tenantID, id)
	if err != nil {
		h.logger.Warn("professional lookup failed", "tenant_id", tenantID, "professional_id", id, "error", err)
		return ""
	}
	return p.FullName()
}

func agentActor(r *http.Request) string {
	if actor := httpmiddleware.ActorFromContext(r.Context()); actor != "" {
		return actor
	}
	return "agent"
}
