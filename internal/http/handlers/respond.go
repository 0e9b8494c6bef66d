package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/appointments"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorBody is the JSON shape of every failed call.
type errorBody struct {
	Error         string   `json:"error"`
	Code          string   `json:"code"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// classify maps service errors to a status and a stable code.
func classify(err error) (int, errorBody) {
	var (
		collision  *scheduling.CollisionError
		policy     *scheduling.PolicyError
		missing    *scheduling.MissingPatientDataError
		notFound   *scheduling.NotFoundError
		transition *appointments.TransitionError
	)
	switch {
	case errors.As(err, &collision):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "collision"}
	case errors.As(err, &policy):
		return http.StatusUnprocessableEntity, errorBody{Error: policy.Reason, Code: "policy"}
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity, errorBody{Error: "missing patient data", Code: "missing_patient_data", MissingFields: missing.Missing}
	case errors.As(err, &notFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"}
	case errors.As(err, &transition):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "invalid_transition"}
	case errors.Is(err, appointments.ErrStaleStatus):
		return http.StatusConflict, errorBody{Error: "appointment changed concurrently, retry", Code: "stale"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"}
	}
}

// writeServiceError renders err and logs anything unexpected.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

func tenantFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		jsonError(w, "tenant not resolved", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return tenantID, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		jsonError(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
