package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-scheduling-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

const (
	adminSecret = "admin-secret"
	agentSecret = "agent-secret"
)

type settingsStub struct {
	tenants map[uuid.UUID]*tenancy.Tenant
}

func (s *settingsStub) Resolve(_ context.Context, id uuid.UUID) (*tenancy.Tenant, error) {
	t, ok := s.tenants[id]
	if !ok {
		return nil, errors.New("unknown tenant")
	}
	return t, nil
}

func (s *settingsStub) SetCalendarProvider(ctx context.Context, id uuid.UUID, raw string) (tenancy.CalendarProvider, error) {
	t, err := s.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	p, err := tenancy.ParseCalendarProvider(raw)
	if err != nil {
		return "", err
	}
	t.CalendarProvider = p
	return p, nil
}

func token(t *testing.T, secret string, tenantID uuid.UUID) string {
	t.Helper()
	claims := httpmiddleware.Claims{
		TenantID: tenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "front-desk",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestRouter(t *testing.T, ready func(context.Context) error) (http.Handler, *tenancy.Tenant) {
	t.Helper()
	tenant := &tenancy.Tenant{ID: uuid.New(), CalendarProvider: tenancy.ProviderLocal, Timezone: "UTC"}
	settings := &settingsStub{tenants: map[uuid.UUID]*tenancy.Tenant{tenant.ID: tenant}}
	logger := logging.Discard()

	cfg := &Config{
		Logger:         logger,
		AdminTenant:    handlers.NewAdminTenantHandler(settings, nil, nil, logger),
		AgentTools:     handlers.NewAgentToolsHandler(nil, settings, nil, nil, logger),
		AdminJWTSecret: adminSecret,
		AgentJWTSecret: agentSecret,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Ready: ready,
	}
	return New(cfg), tenant
}

func do(router http.Handler, method, path, bearer, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := do(router, http.MethodGet, "/health", "", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterHealthReportsDependencyFailure(t *testing.T) {
	router, _ := newTestRouter(t, func(context.Context) error { return errors.New("postgres unreachable") })

	rr := do(router, http.MethodGet, "/health", "", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRouterMetricsIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := do(router, http.MethodGet, "/metrics", "", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router, tenant := newTestRouter(t, nil)

	if rr := do(router, http.MethodGet, "/admin/tenant/calendar-provider", "", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := do(router, http.MethodGet, "/admin/tenant/calendar-provider", token(t, agentSecret, tenant.ID), "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with agent token, got %d", rr.Code)
	}

	rr := do(router, http.MethodPut, "/admin/tenant/calendar-provider", token(t, adminSecret, tenant.ID), `{"provider":"external"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if tenant.CalendarProvider != tenancy.ProviderExternal {
		t.Fatalf("provider not switched: %s", tenant.CalendarProvider)
	}
}

func TestRouterRejectsTenantHeaderMismatch(t *testing.T) {
	router, tenant := newTestRouter(t, nil)

	rr := do(router, http.MethodGet, "/admin/tenant/calendar-provider", token(t, adminSecret, tenant.ID), "",
		map[string]string{tenantHeader: uuid.NewString()})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRouterAgentToolsUseAgentSecret(t *testing.T) {
	router, tenant := newTestRouter(t, nil)

	if rr := do(router, http.MethodPost, "/agent/tools/triage_urgency", token(t, adminSecret, tenant.ID), `{"symptoms":"dolor"}`, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with admin token, got %d", rr.Code)
	}
	rr := do(router, http.MethodPost, "/agent/tools/triage_urgency", token(t, agentSecret, tenant.ID), `{"symptoms":"dolor de muela"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["urgency_level"] != "high" {
		t.Fatalf("unexpected triage %v", resp)
	}
}
