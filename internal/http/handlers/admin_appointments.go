package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/appointments"
	httpmiddleware "github.com/wolfman30/clinic-scheduling-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduling-platform/internal/patients"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/internal/treatments"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// AppointmentService is the booking engine as the handlers see it.
type AppointmentService interface {
	CheckAvailability(ctx context.Context, tenantID uuid.UUID, req appointments.AvailabilityRequest) (*appointments.Availability, error)
	Book(ctx context.Context, tenantID uuid.UUID, req appointments.BookRequest) (*appointments.Appointment, error)
	Reschedule(ctx context.Context, tenantID, id uuid.UUID, req appointments.RescheduleRequest) (*appointments.Appointment, error)
	Cancel(ctx context.Context, tenantID, id uuid.UUID, actor string) (*appointments.Appointment, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, patch appointments.Patch, actor string) (*appointments.Appointment, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID, actor string) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*appointments.Appointment, error)
	List(ctx context.Context, tenantID uuid.UUID, filter appointments.ListFilter) ([]appointments.Appointment, error)
}

// TenantResolver gives handlers the tenant timezone for wall-clock inputs.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (*tenancy.Tenant, error)
}

// AdminAppointmentsHandler serves the admin appointment and availability API.
type AdminAppointmentsHandler struct {
	service AppointmentService
	tenants TenantResolver
	logger  *logging.Logger
	now     func() time.Time
}

// NewAdminAppointmentsHandler creates the handler.
func NewAdminAppointmentsHandler(service AppointmentService, tenants TenantResolver, logger *logging.Logger) *AdminAppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminAppointmentsHandler{service: service, tenants: tenants, logger: logger, now: time.Now}
}

// Register mounts the routes on an authenticated admin router.
func (h *AdminAppointmentsHandler) Register(r chi.Router) {
	r.Get("/availability", h.GetAvailability)
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", h.ListAppointments)
		r.Post("/", h.CreateAppointment)
		r.Route("/{appointmentID}", func(r chi.Router) {
			r.Get("/", h.GetAppointment)
			r.Patch("/", h.UpdateAppointment)
			r.Delete("/", h.DeleteAppointment)
			r.Post("/cancel", h.CancelAppointment)
			r.Post("/reschedule", h.RescheduleAppointment)
		})
	})
}

func (h *AdminAppointmentsHandler) location(ctx context.Context, tenantID uuid.UUID) (*time.Location, error) {
	t, err := h.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return t.Location(), nil
}

// GetAvailability handles GET /admin/availability.
func (h *AdminAppointmentsHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	loc, err := h.location(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	req, msg := availabilityRequest(q.Get("date"), q.Get("treatment"), q.Get("urgency"), q.Get("preference"),
		q.Get("professional_id"), q.Get("professional_name"), q.Get("duration_minutes"), h.now(), loc)
	if msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		req.Limit = limit
	}

	result, err := h.service.CheckAvailability(r.Context(), tenantID, req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// availabilityRequest builds a request from loose string inputs. A non-empty
// message describes the first invalid field.
func availabilityRequest(date, treatment, urgency, preference, professionalID, professionalName, duration string, now time.Time, loc *time.Location) (appointments.AvailabilityRequest, string) {
	var req appointments.AvailabilityRequest
	day, err := parseDay(date, now, loc)
	if err != nil {
		return req, err.Error()
	}
	req.Date = day
	req.TreatmentCode = strings.TrimSpace(treatment)
	if req.Urgency, err = treatments.ParseUrgency(urgency); err != nil {
		return req, "invalid urgency"
	}
	if req.Preference, err = scheduling.ParsePreference(preference); err != nil {
		return req, "invalid preference"
	}
	sel, msg := selector(professionalID, professionalName)
	if msg != "" {
		return req, msg
	}
	req.Professional = sel
	if duration != "" {
		minutes, err := strconv.Atoi(duration)
		if err != nil || minutes <= 0 {
			return req, "invalid duration_minutes"
		}
		req.Duration = time.Duration(minutes) * time.Minute
	}
	return req, ""
}

func selector(id, name string) (appointments.ProfessionalSelector, string) {
	sel := appointments.ProfessionalSelector{Name: strings.TrimSpace(name)}
	if id = strings.TrimSpace(id); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return sel, "invalid professional_id"
		}
		sel.ID = &parsed
	}
	return sel, ""
}

// ListAppointments handles GET /admin/appointments.
func (h *AdminAppointmentsHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var filter appointments.ListFilter
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				jsonError(w, "invalid "+key, http.StatusBadRequest)
				return
			}
			*dst = t
		}
	}
	for key, dst := range map[string]**uuid.UUID{"professional_id": &filter.ProfessionalID, "patient_id": &filter.PatientID} {
		if raw := q.Get(key); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				jsonError(w, "invalid "+key, http.StatusBadRequest)
				return
			}
			*dst = &id
		}
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := appointments.ParseStatus(part)
			if err != nil {
				jsonError(w, "invalid status", http.StatusBadRequest)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	list, err := h.service.List(r.Context(), tenantID, filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []appointments.Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// CreateAppointmentRequest is the body of POST /admin/appointments.
type CreateAppointmentRequest struct {
	Patient          patients.Identity `json:"patient"`
	ProfessionalID   string            `json:"professional_id,omitempty"`
	ProfessionalName string            `json:"professional_name,omitempty"`
	Start            string            `json:"start,omitempty"`
	Date             string            `json:"date,omitempty"`
	Time             string            `json:"time,omitempty"`
	DurationMinutes  int               `json:"duration_minutes,omitempty"`
	Treatment        string            `json:"treatment,omitempty"`
	Urgency          string            `json:"urgency,omitempty"`
	Notes            string            `json:"notes,omitempty"`
}

// CreateAppointment handles POST /admin/appointments. Admin bookings are
// recorded with source manual.
func (h *AdminAppointmentsHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	var body CreateAppointmentRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	loc, err := h.location(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	start, err := parseStart(body.Start, body.Date, body.Time, h.now(), loc)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	urgency, err := treatments.ParseUrgency(body.Urgency)
	if err != nil {
		jsonError(w, "invalid urgency", http.StatusBadRequest)
		return
	}
	sel, msg := selector(body.ProfessionalID, body.ProfessionalName)
	if msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}

	appt, err := h.service.Book(r.Context(), tenantID, appointments.BookRequest{
		Patient:       body.Patient,
		Professional:  sel,
		Start:         start,
		Duration:      time.Duration(body.DurationMinutes) * time.Minute,
		TreatmentCode: body.Treatment,
		Urgency:       urgency,
		Source:        appointments.SourceManual,
		Notes:         body.Notes,
		Actor:         httpmiddleware.ActorFromContext(r.Context()),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// GetAppointment handles GET /admin/appointments/{appointmentID}.
func (h *AdminAppointmentsHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "appointmentID")
	if !ok {
		return
	}
	appt, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// UpdateAppointmentRequest is the typed patch accepted by PATCH. Absent
// fields are left unchanged.
type UpdateAppointmentRequest struct {
	Status  *string `json:"status,omitempty"`
	Notes   *string `json:"notes,omitempty"`
	Urgency *string `json:"urgency,omitempty"`
}

// UpdateAppointment handles PATCH /admin/appointments/{appointmentID}.
func (h *AdminAppointmentsHandler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "appointmentID")
	if !ok {
		return
	}
	var body UpdateAppointmentRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	var patch appointments.Patch
	if body.Status != nil {
		status, err := appointments.ParseStatus(*body.Status)
		if err != nil {
			jsonError(w, "invalid status", http.StatusBadRequest)
			return
		}
		patch.Status = &status
	}
	if body.Urgency != nil {
		urgency, err := treatments.ParseUrgency(*body.Urgency)
		if err != nil {
			jsonError(w, "invalid urgency", http.StatusBadRequest)
			return
		}
		patch.Urgency = &urgency
	}
	patch.Notes = body.Notes
	if patch.Empty() {
		jsonError(w, "no updatable fields", http.StatusBadRequest)
		return
	}

	appt, err := h.service.Update(r.Context(), tenantID, id, patch, httpmiddleware.ActorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// DeleteAppointment handles DELETE /admin/appointments/{appointmentID}.
func (h *AdminAppointmentsHandler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "appointmentID")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), tenantID, id, httpmiddleware.ActorFromContext(r.Context())); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelAppointment handles POST /admin/appointments/{appointmentID}/cancel.
func (h *AdminAppointmentsHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "appointmentID")
	if !ok {
		return
	}
	appt, err := h.service.Cancel(r.Context(), tenantID, id, httpmiddleware.ActorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// RescheduleAppointmentRequest is the body of the reschedule call.
type RescheduleAppointmentRequest struct {
	Start            string `json:"start,omitempty"`
	Date             string `json:"date,omitempty"`
	Time             string `json:"time,omitempty"`
	ProfessionalID   string `json:"professional_id,omitempty"`
	ProfessionalName string `json:"professional_name,omitempty"`
}

// RescheduleAppointment handles POST /admin/appointments/{appointmentID}/reschedule.
func (h *AdminAppointmentsHandler) RescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "appointmentID")
	if !ok {
		return
	}
	var body RescheduleAppointmentRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	loc, err := h.location(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	start, err := parseStart(body.Start, body.Date, body.Time, h.now(), loc)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sel, msg := selector(body.ProfessionalID, body.ProfessionalName)
	if msg != "" {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}

	appt, err := h.service.Reschedule(r.Context(), tenantID, id, appointments.RescheduleRequest{
		Start:        start,
		Professional: sel,
		Actor:        httpmiddleware.ActorFromContext(r.Context()),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}
