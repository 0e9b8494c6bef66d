package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/audit"
	httpmiddleware "github.com/wolfman30/clinic-scheduling-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduling-platform/internal/professionals"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/treatments"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// ProfessionalStore is the professionals repository surface used by admins.
type ProfessionalStore interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]professionals.Professional, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*professionals.Professional, error)
	UpdateWorkingHours(ctx context.Context, tenantID, id uuid.UUID, hours scheduling.WorkingHours) error
}

// TreatmentLister lists a tenant's treatment catalog.
type TreatmentLister interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]treatments.TreatmentType, error)
}

// ChangeRecorder writes configuration changes to the audit trail.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, tenantID uuid.UUID, action audit.Action, appointmentID, actor string, details audit.Details) error
}

// AdminDirectoryHandler serves professionals and treatments.
type AdminDirectoryHandler struct {
	pros       ProfessionalStore
	treatments TreatmentLister
	audit      ChangeRecorder
	logger     *logging.Logger
}

// NewAdminDirectoryHandler creates the handler. recorder may be nil.
func NewAdminDirectoryHandler(pros ProfessionalStore, catalog TreatmentLister, recorder ChangeRecorder, logger *logging.Logger) *AdminDirectoryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminDirectoryHandler{pros: pros, treatments: catalog, audit: recorder, logger: logger}
}

// Register mounts the routes on an authenticated admin router.
func (h *AdminDirectoryHandler) Register(r chi.Router) {
	r.Get("/professionals", h.ListProfessionals)
	r.Get("/professionals/{professionalID}/working-hours", h.GetWorkingHours)
	r.Put("/professionals/{professionalID}/working-hours", h.PutWorkingHours)
	r.Get("/treatments", h.ListTreatments)
}

// ListProfessionals handles GET /admin/professionals.
func (h *AdminDirectoryHandler) ListProfessionals(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	list, err := h.pros.List(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []professionals.Professional{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"professionals": list})
}

// GetWorkingHours handles GET /admin/professionals/{professionalID}/working-hours.
func (h *AdminDirectoryHandler) GetWorkingHours(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "professionalID")
	if !ok {
		return
	}
	p, err := h.pros.Get(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p.WorkingHours)
}

// PutWorkingHours handles PUT /admin/professionals/{professionalID}/working-hours.
// The whole week is replaced; an invalid day rejects the update with 422.
func (h *AdminDirectoryHandler) PutWorkingHours(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "professionalID")
	if !ok {
		return
	}
	var hours scheduling.WorkingHours
	if !decodeJSON(w, r, &hours) {
		return
	}
	if err := h.pros.UpdateWorkingHours(r.Context(), tenantID, id, hours); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if h.audit != nil {
		if err := h.audit.RecordChange(r.Context(), tenantID, audit.ActionWorkingHoursUpdated, "",
			httpmiddleware.ActorFromContext(r.Context()), audit.Details{ProfessionalID: id.String()}); err != nil {
			h.logger.Warn("working hours audit failed", "tenant_id", tenantID, "professional_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, hours)
}

// ListTreatments handles GET /admin/treatments.
func (h *AdminDirectoryHandler) ListTreatments(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	list, err := h.treatments.List(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []treatments.TreatmentType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"treatments": list})
}
