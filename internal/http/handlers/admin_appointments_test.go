package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduling-platform/internal/appointments"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

var art = time.FixedZone("ART", -3*60*60)

type stubService struct {
	availReq  appointments.AvailabilityRequest
	bookReq   appointments.BookRequest
	resReq    appointments.RescheduleRequest
	patch     appointments.Patch
	filter    appointments.ListFilter
	cancelled uuid.UUID
	deleted   uuid.UUID
	appt      *appointments.Appointment
	list      []appointments.Appointment
	err       error
}

func (s *stubService) CheckAvailability(_ context.Context, _ uuid.UUID, req appointments.AvailabilityRequest) (*appointments.Availability, error) {
	s.availReq = req
	if s.err != nil {
		return nil, s.err
	}
	start := time.Date(2025, 6, 3, 9, 0, 0, 0, art)
	return &appointments.Availability{
		Date:            "2025-06-03",
		Treatment:       "checkup",
		DurationMinutes: 30,
		Slots: []appointments.Slot{
			{Start: start, Time: "09:00", ProfessionalIDs: []uuid.UUID{uuid.New()}},
			{Start: start.Add(30 * time.Minute), Time: "09:30", ProfessionalIDs: []uuid.UUID{uuid.New()}},
		},
	}, nil
}

func (s *stubService) Book(_ context.Context, _ uuid.UUID, req appointments.BookRequest) (*appointments.Appointment, error) {
	s.bookReq = req
	return s.appt, s.err
}

func (s *stubService) Reschedule(_ context.Context, _, _ uuid.UUID, req appointments.RescheduleRequest) (*appointments.Appointment, error) {
	s.resReq = req
	return s.appt, s.err
}

func (s *stubService) Cancel(_ context.Context, _, id uuid.UUID, _ string) (*appointments.Appointment, error) {
	s.cancelled = id
	return s.appt, s.err
}

func (s *stubService) Update(_ context.Context, _, _ uuid.UUID, patch appointments.Patch, _ string) (*appointments.Appointment, error) {
	s.patch = patch
	return s.appt, s.err
}

func (s *stubService) Delete(_ context.Context, _, id uuid.UUID, _ string) error {
	s.deleted = id
	return s.err
}

func (s *stubService) Get(_ context.Context, _, _ uuid.UUID) (*appointments.Appointment, error) {
	return s.appt, s.err
}

func (s *stubService) List(_ context.Context, _ uuid.UUID, filter appointments.ListFilter) ([]appointments.Appointment, error) {
	s.filter = filter
	return s.list, s.err
}

type stubTenants struct {
	tenant   *tenancy.Tenant
	provider string
}

func (s *stubTenants) Resolve(context.Context, uuid.UUID) (*tenancy.Tenant, error) {
	return s.tenant, nil
}

func (s *stubTenants) SetCalendarProvider(_ context.Context, _ uuid.UUID, raw string) (tenancy.CalendarProvider, error) {
	s.provider = raw
	p, err := tenancy.ParseCalendarProvider(raw)
	if err == nil {
		s.tenant.CalendarProvider = p
	}
	return p, err
}

func newTestTenants() *stubTenants {
	return &stubTenants{tenant: &tenancy.Tenant{ID: uuid.New(), Timezone: "America/Argentina/Buenos_Aires", CalendarProvider: tenancy.ProviderLocal}}
}

// withTenant stands in for TenantJWT.
func withTenant(tenantID uuid.UUID, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(tenancy.WithTenantID(r.Context(), tenantID)))
	})
}

func newAdminRouter(t *testing.T, svc *stubService, tenants *stubTenants) http.Handler {
	t.Helper()
	h := NewAdminAppointmentsHandler(svc, tenants, logging.Discard())
	h.now = func() time.Time { return time.Date(2025, 6, 2, 10, 0, 0, 0, art) }
	r := chi.NewRouter()
	h.Register(r)
	return withTenant(tenants.tenant.ID, r)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sampleAppointment() *appointments.Appointment {
	start := time.Date(2025, 6, 3, 14, 0, 0, 0, art)
	return &appointments.Appointment{
		ID:             uuid.New(),
		ProfessionalID: uuid.New(),
		StartsAt:       start,
		EndsAt:         start.Add(30 * time.Minute),
		Status:         appointments.StatusScheduled,
	}
}

func TestGetAvailabilityParsesQuery(t *testing.T) {
	svc := &stubService{}
	router := newAdminRouter(t, svc, newTestTenants())

	profID := uuid.New()
	rec := serve(router, http.MethodGet, "/availability?date=2025-06-03&treatment=cleaning&urgency=high&preference=morning&professional_id="+profID.String()+"&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 3, svc.availReq.Date.Day())
	assert.Equal(t, "cleaning", svc.availReq.TreatmentCode)
	assert.Equal(t, scheduling.PreferenceMorning, svc.availReq.Preference)
	assert.Equal(t, profID, *svc.availReq.Professional.ID)
	assert.Equal(t, 5, svc.availReq.Limit)

	body := decodeBody(t, rec)
	assert.Len(t, body["slots"], 2)
}

func TestGetAvailabilityRejectsBadInput(t *testing.T) {
	router := newAdminRouter(t, &stubService{}, newTestTenants())
	for _, q := range []string{"date=junio", "urgency=panic", "preference=night", "professional_id=x", "duration_minutes=-5"} {
		rec := serve(router, http.MethodGet, "/availability?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestCreateAppointmentErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"collision", &scheduling.CollisionError{}, http.StatusConflict, "collision"},
		{"policy", &scheduling.PolicyError{Reason: "outside working hours"}, http.StatusUnprocessableEntity, "policy"},
		{"missing", &scheduling.MissingPatientDataError{Missing: []string{"insurance"}}, http.StatusUnprocessableEntity, "missing_patient_data"},
		{"not found", &scheduling.NotFoundError{Kind: "treatment"}, http.StatusNotFound, "not_found"},
		{"boom", assert.AnError, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newAdminRouter(t, &stubService{err: tt.err}, newTestTenants())
			rec := serve(router, http.MethodPost, "/appointments", `{"patient":{"phone":"+5491155550000"},"date":"2025-06-03","time":"14:00"}`)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.code, body["code"])
			if tt.code == "missing_patient_data" {
				assert.Equal(t, []any{"insurance"}, body["missing_fields"])
			}
		})
	}
}

func TestCreateAppointmentUsesTenantLocalTime(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	router := newAdminRouter(t, svc, newTestTenants())

	rec := serve(router, http.MethodPost, "/appointments", `{"patient":{"phone":"+5491155550000"},"date":"2025-06-03","time":"14:00","urgency":"emergency"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, "2025-06-03T17:00:00Z", svc.bookReq.Start.UTC().Format(time.RFC3339))
	assert.Equal(t, appointments.SourceManual, svc.bookReq.Source)
	assert.EqualValues(t, "emergency", svc.bookReq.Urgency)
}

func TestUpdateAppointmentBuildsPatch(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	router := newAdminRouter(t, svc, newTestTenants())
	id := uuid.New()

	rec := serve(router, http.MethodPatch, "/appointments/"+id.String(), `{"status":"confirmed","notes":"trae estudios"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.patch.Status)
	assert.Equal(t, appointments.StatusConfirmed, *svc.patch.Status)
	assert.Equal(t, "trae estudios", *svc.patch.Notes)
	assert.Nil(t, svc.patch.Urgency)

	rec = serve(router, http.MethodPatch, "/appointments/"+id.String(), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = &appointments.TransitionError{From: appointments.StatusCompleted, To: appointments.StatusConfirmed}
	rec = serve(router, http.MethodPatch, "/appointments/"+id.String(), `{"status":"confirmed"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelRescheduleDelete(t *testing.T) {
	svc := &stubService{appt: sampleAppointment()}
	router := newAdminRouter(t, svc, newTestTenants())
	id := uuid.New()

	rec := serve(router, http.MethodPost, "/appointments/"+id.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, svc.cancelled)

	rec = serve(router, http.MethodPost, "/appointments/"+id.String()+"/reschedule", `{"start":"2025-06-04T10:00:00-03:00","professional_name":"Bustos"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10, svc.resReq.Start.Hour())
	assert.Equal(t, "Bustos", svc.resReq.Professional.Name)

	rec = serve(router, http.MethodDelete, "/appointments/"+id.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, id, svc.deleted)

	rec = serve(router, http.MethodGet, "/appointments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAppointmentsFilter(t *testing.T) {
	svc := &stubService{}
	router := newAdminRouter(t, svc, newTestTenants())

	rec := serve(router, http.MethodGet, "/appointments?from=2025-06-01T00:00:00Z&status=scheduled,confirmed&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []appointments.Status{appointments.StatusScheduled, appointments.StatusConfirmed}, svc.filter.Statuses)
	assert.Equal(t, 10, svc.filter.Limit)
	assert.Equal(t, 1, svc.filter.From.Day())
	assert.Equal(t, []any{}, decodeBody(t, rec)["appointments"])

	rec = serve(router, http.MethodGet, "/appointments?status=lost", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingTenantIsUnauthorized(t *testing.T) {
	h := NewAdminAppointmentsHandler(&stubService{}, newTestTenants(), logging.Discard())
	r := chi.NewRouter()
	h.Register(r)
	rec := serve(r, http.MethodGet, "/appointments", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
