package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/audit"
	httpmiddleware "github.com/wolfman30/clinic-scheduling-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// TenantSettings reads and switches the calendar provider.
type TenantSettings interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (*tenancy.Tenant, error)
	SetCalendarProvider(ctx context.Context, tenantID uuid.UUID, raw string) (tenancy.CalendarProvider, error)
}

// AuditReader lists audit entries.
type AuditReader interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// AdminTenantHandler serves tenant settings and the audit trail.
type AdminTenantHandler struct {
	tenants TenantSettings
	audit   ChangeRecorder
	reader  AuditReader
	logger  *logging.Logger
}

// NewAdminTenantHandler creates the handler. recorder and reader may be nil.
func NewAdminTenantHandler(tenants TenantSettings, recorder ChangeRecorder, reader AuditReader, logger *logging.Logger) *AdminTenantHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminTenantHandler{tenants: tenants, audit: recorder, reader: reader, logger: logger}
}

// Register mounts the routes on an authenticated admin router.
func (h *AdminTenantHandler) Register(r chi.Router) {
	r.Get("/tenant/calendar-provider", h.GetCalendarProvider)
	r.Put("/tenant/calendar-provider", h.PutCalendarProvider)
	if h.reader != nil {
		r.Get("/audit", h.ListAudit)
	}
}

type calendarProviderBody struct {
	Provider string `json:"provider"`
}

// GetCalendarProvider handles GET /admin/tenant/calendar-provider.
func (h *AdminTenantHandler) GetCalendarProvider(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	t, err := h.tenants.Resolve(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, calendarProviderBody{Provider: string(t.CalendarProvider)})
}

// PutCalendarProvider handles PUT /admin/tenant/calendar-provider. "google"
// is accepted as an alias of external.
func (h *AdminTenantHandler) PutCalendarProvider(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	var body calendarProviderBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if _, err := tenancy.ParseCalendarProvider(body.Provider); err != nil {
		jsonError(w, "provider must be local or external", http.StatusUnprocessableEntity)
		return
	}
	previous := ""
	if t, err := h.tenants.Resolve(r.Context(), tenantID); err == nil {
		previous = string(t.CalendarProvider)
	}
	provider, err := h.tenants.SetCalendarProvider(r.Context(), tenantID, body.Provider)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if h.audit != nil {
		if err := h.audit.RecordChange(r.Context(), tenantID, audit.ActionCalendarProviderChanged, "",
			httpmiddleware.ActorFromContext(r.Context()), audit.Details{From: previous, To: string(provider)}); err != nil {
			h.logger.Warn("calendar provider audit failed", "tenant_id", tenantID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, calendarProviderBody{Provider: string(provider)})
}

// ListAudit handles GET /admin/audit.
func (h *AdminTenantHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{TenantID: tenantID, AppointmentID: q.Get("appointment_id")}
	if raw := q.Get("action"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Actions = append(filter.Actions, audit.Action(part))
			}
		}
	}
	for key, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		if raw := q.Get(key); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				jsonError(w, "invalid "+key, http.StatusBadRequest)
				return
			}
			*dst = t
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	entries, err := h.reader.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
